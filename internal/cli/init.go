package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/config"
	"github.com/mesh-intelligence/pantry/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize pantry storage",
		Long: "Write a default config.yaml when none exists, then open and close the\n" +
			"configured backend so its data directory is ready.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			path, created, err := config.WriteDefault(configDir, a.flags.dataDir)
			if err != nil {
				return err
			}

			if _, err := a.openStore(); err != nil {
				return err
			}
			if err := a.close(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "wrote %s\n", path)
			} else {
				fmt.Fprintf(out, "using %s\n", path)
			}
			fmt.Fprintf(out, "pantry initialized (%s backend, data in %s)\n", a.settings.Store.Backend, a.settings.Store.DataDir)
			return nil
		},
	}
}
