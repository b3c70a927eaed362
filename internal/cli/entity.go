package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the entities of a collection",
		Example: `  pantry list notes
  pantry list notes --json`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(args[0])
			if err != nil {
				return err
			}
			defer m.Close()
			p := a.printer(cmd)
			if err := a.refresh(cmd.Context(), p, m); err != nil {
				return err
			}
			if a.flags.jsonMode {
				return p.JSON(m.Entities())
			}
			p.Entities(m.Entities())
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one entity",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			m, err := a.manager(collection)
			if err != nil {
				return err
			}
			defer m.Close()
			p := a.printer(cmd)
			if err := a.refresh(cmd.Context(), p, m); err != nil {
				return err
			}
			e, ok := m.Get(id)
			if !ok {
				return &types.NotFoundError{Collection: collection, ID: id}
			}
			if a.flags.jsonMode {
				return p.JSON(e)
			}
			p.Entity(e)
			return nil
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var (
		sets []string
		data string
	)
	cmd := &cobra.Command{
		Use:   "add <collection>",
		Short: "Create an entity",
		Long: "Create an entity from a JSON object (--data) and key=value pairs (--set).\n" +
			"Values given with --set are parsed as JSON when possible and override --data.",
		Example: `  pantry add notes --set title=groceries --set done=false
  pantry add notes --data '{"title":"groceries","tags":["home"]}'`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseData(data)
			if err != nil {
				return err
			}
			extra, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			for k, v := range extra {
				attrs[k] = v
			}

			m, err := a.manager(args[0])
			if err != nil {
				return err
			}
			defer m.Close()
			e, err := m.Add(cmd.Context(), attrs)
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			if a.flags.jsonMode {
				return p.JSON(e)
			}
			p.Println(e.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "attribute as key=value (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "attributes as a JSON object")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		sets   []string
		unsets []string
	)
	cmd := &cobra.Command{
		Use:     "update <collection> <id>",
		Short:   "Patch an entity",
		Example: `  pantry update notes 0192f1c4-... --set done=true --unset due`,
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			patch := types.Patch(attrs)
			for _, k := range unsets {
				patch[k] = nil
			}
			if len(patch) == 0 {
				return &usageError{msg: "nothing to update (use --set or --unset)"}
			}

			m, err := a.manager(args[0])
			if err != nil {
				return err
			}
			defer m.Close()
			e, err := m.Update(cmd.Context(), args[1], patch)
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			if a.flags.jsonMode {
				return p.JSON(e)
			}
			p.Entity(e)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "attribute as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unsets, "unset", nil, "attribute to remove (repeatable)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var ignoreMissing bool
	cmd := &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete an entity",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(args[0])
			if err != nil {
				return err
			}
			defer m.Close()
			err = m.Delete(cmd.Context(), args[1])
			if ignoreMissing && errors.Is(err, types.ErrNotFound) {
				err = nil
			}
			if err != nil {
				return err
			}
			if !a.flags.jsonMode {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "succeed when the entity does not exist")
	return cmd
}
