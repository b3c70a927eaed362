package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/features/templates"
	"github.com/mesh-intelligence/pantry/internal/hook"
	"github.com/mesh-intelligence/pantry/internal/ui"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newTemplateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates"},
		Short:   "Manage document templates",
	}
	cmd.AddCommand(
		newTemplateListCmd(a),
		newTemplateAddCmd(a),
		newTemplateShowCmd(a),
		newTemplateRenameCmd(a),
		newTemplateDeleteCmd(a),
	)
	return cmd
}

// openTemplates returns the loaded templates feature. The caller must call
// the returned release func.
func (a *app) openTemplates(ctx context.Context, p *ui.Printer, load bool) (*templates.Templates, func(), error) {
	m, err := a.manager(templates.Collection)
	if err != nil {
		return nil, nil, err
	}
	if load {
		if err := a.refresh(ctx, p, m); err != nil {
			m.Close()
			return nil, nil, err
		}
	}
	return templates.New(m, a.logger), m.Close, nil
}

// resolveTemplate finds a template by id, falling back to slug.
func resolveTemplate(t *templates.Templates, ref string) (hook.Record[templates.Template], error) {
	if r, ok := t.GetTemplateByID(ref); ok {
		return r, nil
	}
	if r, ok := t.FindBySlug(ref); ok {
		return r, nil
	}
	return hook.Record[templates.Template]{}, &types.NotFoundError{Collection: templates.Collection, ID: ref}
}

func newTemplateListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			t, release, err := a.openTemplates(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()

			records := t.Templates()
			if all {
				records = t.AllTemplates()
			}
			if a.flags.jsonMode {
				return p.JSON(records)
			}
			if len(records) == 0 {
				p.Println(p.Styles().Muted.Render("No templates."))
				return nil
			}
			tbl := ui.NewTable("ID", "NAME", "SLUG", "SECTIONS")
			tbl.SetColumnStyle(0, p.Styles().Accent)
			for _, r := range records {
				tbl.AddRow(r.ID, r.Value.Name, r.Value.Slug, strconv.Itoa(len(r.Value.Sections)))
			}
			p.Table(tbl)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include built-in templates")
	return cmd
}

func newTemplateAddCmd(a *app) *cobra.Command {
	var sections []string
	cmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Create a template",
		Example: `  pantry template add "Weekly report" --section "Done=What shipped" --section Next=`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]templates.Section, 0, len(sections))
			for _, s := range sections {
				title, body, err := splitPair(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, templates.Section{Title: title, Body: body})
			}

			p := a.printer(cmd)
			t, release, err := a.openTemplates(cmd.Context(), p, false)
			if err != nil {
				return err
			}
			defer release()
			r, err := t.AddTemplate(cmd.Context(), args[0], parsed...)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return p.JSON(r)
			}
			p.Println(r.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sections, "section", nil, "section as title=body (repeatable)")
	return cmd
}

func newTemplateShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|slug>",
		Short: "Show a template",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			t, release, err := a.openTemplates(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()
			r, err := resolveTemplate(t, args[0])
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return p.JSON(r)
			}

			tbl := ui.NewTableCols(2)
			tbl.SetColumnStyle(0, p.Styles().Muted)
			tbl.AddRow("id", r.ID)
			tbl.AddRow("name", r.Value.Name)
			tbl.AddRow("slug", r.Value.Slug)
			if r.Virtual {
				tbl.AddRow("built-in", "yes")
			}
			for i, s := range r.Value.Sections {
				tbl.AddRow(fmt.Sprintf("section %d", i+1), s.Title+": "+s.Body)
			}
			p.Table(tbl)
			return nil
		},
	}
}

func newTemplateRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id|slug> <name>",
		Short: "Rename a template",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			t, release, err := a.openTemplates(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()
			cur, err := resolveTemplate(t, args[0])
			if err != nil {
				return err
			}
			r, err := t.RenameTemplate(cmd.Context(), cur.ID, args[1])
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return p.JSON(r)
			}
			p.Println(r.ID, r.Value.Slug)
			return nil
		},
	}
}

func newTemplateDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|slug>",
		Short: "Delete a template",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			t, release, err := a.openTemplates(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()
			cur, err := resolveTemplate(t, args[0])
			if err != nil {
				return err
			}
			if err := t.DeleteTemplate(cmd.Context(), cur.ID); err != nil {
				return err
			}
			if !a.flags.jsonMode {
				p.Println("deleted", cur.ID)
			}
			return nil
		},
	}
}
