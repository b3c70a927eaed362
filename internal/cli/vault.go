package cli

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/features/vault"
	"github.com/mesh-intelligence/pantry/internal/hook"
	"github.com/mesh-intelligence/pantry/internal/ui"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

const masked = "********"

func newVaultCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage vault items: logins, notes and cards",
	}
	cmd.AddCommand(
		newVaultListCmd(a),
		newVaultAddCmd(a),
		newVaultShowCmd(a),
		newVaultDeleteCmd(a),
	)
	return cmd
}

func (a *app) openVault(ctx context.Context, p *ui.Printer, load bool) (*vault.Vault, func(), error) {
	m, err := a.manager(vault.Collection)
	if err != nil {
		return nil, nil, err
	}
	if load {
		if err := a.refresh(ctx, p, m); err != nil {
			m.Close()
			return nil, nil, err
		}
	}
	return vault.New(m, a.logger), m.Close, nil
}

// itemFields flattens an item for display. Passwords are masked unless
// reveal is set.
func itemFields(it vault.Item, reveal bool) map[string]string {
	out := map[string]string{"kind": string(it.Kind()), "title": it.Title}
	switch pl := it.Payload.(type) {
	case vault.Login:
		out["username"] = pl.Username
		out["url"] = pl.URL
		out["password"] = pl.Password
		if pl.Password != "" && !reveal {
			out["password"] = masked
		}
	case vault.Note:
		out["body"] = pl.Body
	case vault.Card:
		out["holder"] = pl.Holder
		out["last4"] = pl.Last4
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

type vaultRecord struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

func toVaultRecord(r hook.Record[vault.Item], reveal bool) vaultRecord {
	return vaultRecord{ID: r.ID, Fields: itemFields(r.Value, reveal)}
}

// buildItem assembles an item of kind from field=value pairs.
func buildItem(kind vault.Kind, title string, fields map[string]string) (vault.Item, error) {
	allowed := map[vault.Kind][]string{
		vault.KindLogin: {"username", "url", "password"},
		vault.KindNote:  {"body"},
		vault.KindCard:  {"holder", "last4"},
	}[kind]
	for k := range fields {
		ok := false
		for _, name := range allowed {
			ok = ok || k == name
		}
		if !ok {
			return vault.Item{}, &types.ValidationError{
				Collection: vault.Collection,
				Field:      k,
				Reason:     "not a " + string(kind) + " field (allowed: " + strings.Join(allowed, ", ") + ")",
			}
		}
	}

	item := vault.Item{Title: title}
	switch kind {
	case vault.KindLogin:
		item.Payload = vault.Login{Username: fields["username"], URL: fields["url"], Password: fields["password"]}
	case vault.KindNote:
		item.Payload = vault.Note{Body: fields["body"]}
	case vault.KindCard:
		item.Payload = vault.Card{Holder: fields["holder"], Last4: fields["last4"]}
	}
	return item, nil
}

func newVaultListCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vault items",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			v, release, err := a.openVault(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()

			records := v.Items()
			if kind != "" {
				k, err := vault.ParseKind(kind)
				if err != nil {
					return err
				}
				records = v.ByKind(k)
			}
			if a.flags.jsonMode {
				out := make([]vaultRecord, 0, len(records))
				for _, r := range records {
					out = append(out, toVaultRecord(r, false))
				}
				return p.JSON(out)
			}
			if len(records) == 0 {
				p.Println(p.Styles().Muted.Render("No items."))
				return nil
			}
			tbl := ui.NewTable("ID", "KIND", "TITLE")
			tbl.SetColumnStyle(0, p.Styles().Accent)
			tbl.SetColumnStyle(1, p.Styles().Muted)
			for _, r := range records {
				tbl.AddRow(r.ID, string(r.Value.Kind()), r.Value.Title)
			}
			p.Table(tbl)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only items of this kind (login, note, card)")
	return cmd
}

func newVaultAddCmd(a *app) *cobra.Command {
	var fieldPairs []string
	cmd := &cobra.Command{
		Use:   "add <kind> <title>",
		Short: "Create a vault item",
		Example: `  pantry vault add login GitHub --field username=octo --field url=https://github.com
  pantry vault add card "Work card" --field holder="A. Person" --field last4=4242`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := vault.ParseKind(args[0])
			if err != nil {
				return err
			}
			fields := make(map[string]string, len(fieldPairs))
			for _, f := range fieldPairs {
				k, val, err := splitPair(f)
				if err != nil {
					return err
				}
				fields[k] = val
			}
			item, err := buildItem(kind, args[1], fields)
			if err != nil {
				return err
			}

			p := a.printer(cmd)
			v, release, err := a.openVault(cmd.Context(), p, false)
			if err != nil {
				return err
			}
			defer release()
			r, err := v.AddItem(cmd.Context(), item)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return p.JSON(toVaultRecord(r, false))
			}
			p.Println(r.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&fieldPairs, "field", nil, "payload field as key=value (repeatable)")
	return cmd
}

func newVaultShowCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a vault item",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			v, release, err := a.openVault(cmd.Context(), p, true)
			if err != nil {
				return err
			}
			defer release()
			r, ok := v.GetItemByID(args[0])
			if !ok {
				return &types.NotFoundError{Collection: vault.Collection, ID: args[0]}
			}
			rec := toVaultRecord(r, reveal)
			if a.flags.jsonMode {
				return p.JSON(rec)
			}
			tbl := ui.NewTableCols(2)
			tbl.SetColumnStyle(0, p.Styles().Muted)
			tbl.AddRow("id", rec.ID)
			tbl.AddRow("kind", rec.Fields["kind"])
			tbl.AddRow("title", rec.Fields["title"])
			keys := make([]string, 0, len(rec.Fields))
			for k := range rec.Fields {
				if k != "kind" && k != "title" {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				tbl.AddRow(k, rec.Fields[k])
			}
			p.Table(tbl)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "show passwords in clear text")
	return cmd
}

func newVaultDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a vault item",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer(cmd)
			v, release, err := a.openVault(cmd.Context(), p, false)
			if err != nil {
				return err
			}
			defer release()
			if err := v.DeleteItem(cmd.Context(), args[0]); err != nil {
				return err
			}
			if !a.flags.jsonMode {
				p.Println("deleted", args[0])
			}
			return nil
		},
	}
}
