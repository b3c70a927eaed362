package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/config"
	"github.com/mesh-intelligence/pantry/internal/features/templates"
	"github.com/mesh-intelligence/pantry/internal/features/vault"
	"github.com/mesh-intelligence/pantry/internal/logging"
	"github.com/mesh-intelligence/pantry/internal/manager"
	"github.com/mesh-intelligence/pantry/internal/metrics"
	"github.com/mesh-intelligence/pantry/internal/paths"
	"github.com/mesh-intelligence/pantry/internal/schema"
	"github.com/mesh-intelligence/pantry/internal/ui"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// app carries the state one invocation builds lazily: settings, logger, the
// opened store and the metrics its managers report to.
type app struct {
	flags rootFlags

	settings *config.Settings
	logger   *zap.Logger
	store    types.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// load resolves the configuration directory and reads settings once.
func (a *app) load() (*config.Settings, error) {
	if a.settings != nil {
		return a.settings, nil
	}
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	s, err := config.Load(configDir, a.flags.dataDir)
	if err != nil {
		return nil, err
	}

	logCfg := s.Log
	if a.flags.verbose {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a.settings = s
	a.logger = logger
	a.logger.Debug("settings loaded",
		zap.String("config_dir", s.ConfigDir),
		zap.String("config_file", s.ConfigFile),
		zap.String("backend", s.Store.Backend),
		zap.String("data_dir", s.Store.DataDir),
	)
	return s, nil
}

// openStore opens the configured backend with the feature schemas applied.
func (a *app) openStore() (types.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := a.load()
	if err != nil {
		return nil, err
	}
	inner, err := config.OpenStore(s.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.Store.Backend, err)
	}
	a.store = schema.NewStore(inner, map[string]*schema.Schema{
		templates.Collection: templates.Schema(),
		vault.Collection:     vault.Schema(),
	})
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return a.store, nil
}

// manager returns an entity manager for collection.
func (a *app) manager(collection string) (*manager.Manager, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	adapter, err := store.Collection(collection)
	if err != nil {
		return nil, err
	}
	return manager.New(adapter,
		manager.WithLogger(a.logger),
		manager.WithMetrics(a.metrics),
		manager.WithOptimistic(a.settings.Store.Optimistic),
	), nil
}

// refresh loads m. A failed load with nothing cached is returned as an error;
// otherwise it is reported as a warning and the cached data stays usable.
func (a *app) refresh(ctx context.Context, p *ui.Printer, m *manager.Manager) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	st := m.State()
	if st.Err == nil {
		return nil
	}
	if len(st.Entities) == 0 {
		return st.Err
	}
	p.Warn("showing cached %s: %v", m.Collection(), st.Err)
	return nil
}

func (a *app) printer(cmd *cobra.Command) *ui.Printer {
	return ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// close releases the store and flushes the logger.
func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil && !errors.Is(err, types.ErrStoreDetached) {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
