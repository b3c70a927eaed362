package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/server"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured store over HTTP",
		Long: "Expose the configured store with the REST wire contract so another pantry\n" +
			"can use it as its rest backend. Requests must carry the bearer token from\n" +
			"PANTRY_REST_TOKEN when it is set. Prometheus metrics are served at /metrics.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if a.settings.Store.Backend == types.BackendREST {
				return &usageError{msg: "serve needs a local backend (sqlite or memory)"}
			}
			a.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			srv := server.New(store, server.Options{
				Logger:   a.logger,
				Token:    a.settings.Store.REST.Token,
				Gatherer: a.registry,
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "serving %s store on %s\n", a.settings.Store.Backend, addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
