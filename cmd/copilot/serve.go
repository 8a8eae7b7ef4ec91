package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/internal/assistant/providers"
	"github.com/tracklane/copilot/internal/audit"
	"github.com/tracklane/copilot/internal/auth"
	"github.com/tracklane/copilot/internal/cache"
	"github.com/tracklane/copilot/internal/config"
	"github.com/tracklane/copilot/internal/gateway"
	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/ratelimit"
	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/internal/tools/project"
	"github.com/tracklane/copilot/internal/usage"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the copilot HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "copilot.yaml", "path to the configuration file")
	return cmd
}

func runServe(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()

	_, shutdownTracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn(ctx, "tracer shutdown failed", "error", err)
		}
	}()

	audits, err := buildAuditStore(cfg.Audit)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	if closer, ok := audits.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	resultCache := cache.New(cache.Options{TTL: cfg.Cache.TTL})
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	accountant := usage.NewAccountant(cfg.Rates)
	gate := assistant.NewConfirmationGate(assistant.DefaultTicketTTL)

	registry := tools.NewRegistry()
	// The in-memory provider ships with demo data until a Tracklane
	// datastore adapter is configured.
	provider := project.NewMemProvider()
	provider.SeedDemo()
	if err := project.NewPack(provider).Register(registry); err != nil {
		return fmt.Errorf("registering project tools: %w", err)
	}

	standard, err := buildProvider(cfg.Providers.Standard, cfg.Providers)
	if err != nil {
		return fmt.Errorf("standard provider: %w", err)
	}
	var streaming assistant.Provider
	if cfg.Providers.Streaming != "" {
		streaming, err = buildProvider(cfg.Providers.Streaming, cfg.Providers)
		if err != nil {
			return fmt.Errorf("streaming provider: %w", err)
		}
	}

	executor := assistant.NewExecutor(registry, resultCache, gate, audits, logger, metrics, cfg.Executor)
	dispatcher := assistant.NewDispatcher(executor, cfg.Dispatch)
	router := assistant.NewRouter(assistant.HeuristicClassifier{})
	engine := assistant.NewEngine(router, registry, dispatcher, standard, streaming, accountant, logger, metrics, cfg.Engine)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	server := gateway.NewServer(engine, tokens, limiter, logger, metrics, gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	sched, err := startMaintenance(ctx, cfg, resultCache, limiter, gate, audits, logger)
	if err != nil {
		return fmt.Errorf("starting maintenance jobs: %w", err)
	}
	defer sched.Stop()

	go watchConfig(ctx, configPath, resultCache, limiter, accountant, logger)

	logger.Info(ctx, "copilot starting",
		"version", version,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"standard_provider", cfg.Providers.Standard,
		"streaming_provider", cfg.Providers.Streaming,
	)
	return server.ListenAndServe(ctx)
}

func buildProvider(name string, cfg config.ProvidersConfig) (assistant.Provider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		return providers.NewOpenAIProvider(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func buildAuditStore(cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		return audit.OpenSQLStore(audit.DriverSQLite, cfg.DSN)
	case "postgres":
		return audit.OpenSQLStore(audit.DriverPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

// startMaintenance schedules the background sweeps from the maintenance
// config. Empty cron expressions disable the corresponding job.
func startMaintenance(
	ctx context.Context,
	cfg *config.Config,
	resultCache *cache.Cache,
	limiter *ratelimit.Limiter,
	gate *assistant.ConfirmationGate,
	audits audit.Store,
	logger *observability.Logger,
) (*cron.Cron, error) {
	sched := cron.New()

	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{cfg.Maintenance.CacheSweep, "cache_sweep", func() {
			if n := resultCache.Sweep(); n > 0 {
				logger.Debug(ctx, "swept expired cache entries", "count", n)
			}
		}},
		{cfg.Maintenance.LimiterPrune, "limiter_prune", func() {
			if n := limiter.Prune(); n > 0 {
				logger.Debug(ctx, "pruned idle rate limiter windows", "count", n)
			}
		}},
		{cfg.Maintenance.TicketPrune, "ticket_prune", func() {
			if n := gate.Prune(); n > 0 {
				logger.Debug(ctx, "pruned expired confirmation tickets", "count", n)
			}
		}},
		{cfg.Maintenance.AuditPrune, "audit_prune", func() {
			n, err := audits.Prune(ctx, cfg.Audit.Retention)
			if err != nil {
				logger.Warn(ctx, "audit prune failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info(ctx, "pruned old audit entries", "count", n)
			}
		}},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := sched.AddFunc(job.spec, job.run); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.name, err)
		}
	}

	sched.Start()
	return sched, nil
}

// watchConfig hot-reloads the tunable subset of the configuration: cache
// TTL, rate limits, and usage rates. Structural settings (server address,
// providers, audit driver) require a restart.
func watchConfig(
	ctx context.Context,
	path string,
	resultCache *cache.Cache,
	limiter *ratelimit.Limiter,
	accountant *usage.Accountant,
	logger *observability.Logger,
) {
	err := config.Watch(ctx, path,
		func(next *config.Config) {
			resultCache.SetTTL(next.Cache.TTL)
			limiter.SetConfig(next.RateLimit)
			accountant.SetRates(next.Rates)
			logger.Info(ctx, "configuration reloaded",
				"cache_ttl", next.Cache.TTL,
				"rate_limit_enabled", next.RateLimit.Enabled,
			)
		},
		func(err error) {
			logger.Warn(ctx, "configuration reload failed", "error", err)
		},
	)
	if err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "configuration watcher stopped", "error", err)
	}
}
