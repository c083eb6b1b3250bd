package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/lariat-ai/lariat/internal/config"
	"github.com/lariat-ai/lariat/internal/logger"
	"github.com/lariat-ai/lariat/internal/observability"
	"github.com/lariat-ai/lariat/pkg/agent"
	"github.com/lariat-ai/lariat/pkg/memory"
	"github.com/lariat-ai/lariat/pkg/session"
	"github.com/lariat-ai/lariat/pkg/tool"
)

// runtime bundles the wired components a command needs.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  session.Store
	tools  *tool.Registry
	runner *agent.Runner
}

// buildRuntime loads config and wires the store, registry, provider, and
// runner. withRunner skips provider wiring for commands that only touch the
// store.
func buildRuntime(withRunner bool) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if withRunner {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	zl := log.GetZerolog()

	var store session.Store
	switch cfg.Store.Backend {
	case "sqlite":
		store, err = session.NewSQLite(cfg.Store.Path, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
	default:
		store = session.NewInMemory(session.Config{Logger: zl})
	}

	rt := &runtime{cfg: cfg, log: log, store: store}
	if !withRunner {
		return rt, nil
	}

	registry := tool.NewRegistry(zl)
	workspace := cfg.DataDir
	if cwd, err := os.Getwd(); err == nil {
		workspace = cwd
	}
	if err := tool.RegisterBuiltins(registry, tool.BuiltinOptions{WorkspaceRoot: workspace}); err != nil {
		return nil, err
	}

	apiKey := ""
	for _, p := range cfg.Providers {
		if p.Name == cfg.Runner.Provider {
			apiKey = p.APIKey
			break
		}
	}
	provider, err := agent.NewProvider(cfg.Runner.Provider, apiKey)
	if err != nil {
		return nil, err
	}

	var mem *memory.Service
	if cfg.Memory.Enabled {
		mem, err = memory.New(memory.Config{Store: store, Logger: zl})
		if err != nil {
			return nil, err
		}
	}

	runner, err := agent.NewRunner(agent.Config{
		Store:     store,
		Tools:     registry,
		Provider:  provider,
		Memory:    mem,
		Logger:    zl,
		MaxEvents: cfg.Runner.MaxEvents,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(rt, cfg.Metrics.Addr)
	}

	rt.tools = registry
	rt.runner = runner
	return rt, nil
}

func serveMetrics(rt *runtime, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger := rt.log.GetZerolog()
		logger.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
	}
}

func (r *runtime) Close() {
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.log != nil {
		_ = r.log.Close()
	}
}
