package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"tourgraph/config"
	"tourgraph/metrics"
	"tourgraph/scraper/catalog"
	"tourgraph/services"
	"tourgraph/storage"
	"tourgraph/textgen"
	"tourgraph/utils"
)

const generatorTimeout = 60 * time.Second

// app holds what every subcommand shares. It is filled in by the root
// command's pre-run hook.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.SQLStore
	client *catalog.Client

	logLevel    string
	metricsAddr string
	jsonOut     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := a.rootCmd().ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tourgraph",
		Short:         "Catalog sync and curation engine for tours and experiences",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.seedPartitionsCmd(),
		a.syncCmd(),
		a.sweepCmd(),
		a.backfillCmd(),
		a.backfillHighlightsCmd(),
		a.generateChainsCmd(),
		a.handCmd(),
		a.superlativeCmd(),
		a.rightNowCmd(),
		a.reportCmd(),
		a.exportCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg := config.Load()
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = utils.NewLoggerWith(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if cfg.MetricsAddr != "" {
		go func() {
			a.logger.Info("[metrics] Serving on %s/metrics", cfg.MetricsAddr)
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				a.logger.Error("[metrics] Server stopped: %v", err)
			}
		}()
	}

	if cfg.DBDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	store, err := storage.OpenFromConfig(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	a.store = store
	return nil
}

func (a *app) close() {
	if a.client != nil {
		a.logger.Info("[catalog] %d requests issued", a.client.Requests())
	}
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("[store] Close: %v", err)
	}
}

// catalogClient is created once so pacing and the request count span the
// whole command.
func (a *app) catalogClient() *catalog.Client {
	if a.client == nil {
		a.client = catalog.New(catalog.OptionsFromConfig(a.cfg), a.logger)
	}
	return a.client
}

// generator returns the breaker-wrapped text generator. Without an API key
// every call fails with textgen.ErrDisabled.
func (a *app) generator() textgen.Generator {
	client := textgen.NewAnthropicClient(a.cfg.AnthropicBaseURL, a.cfg.AnthropicAPIKey, a.cfg.TextModel, generatorTimeout)
	return textgen.WithBreaker(client, textgen.BreakerSettings{}, a.logger)
}

// oneLinerWriter is nil when no API key is configured, which turns
// enrichment off.
func (a *app) oneLinerWriter() *services.OneLinerWriter {
	if a.cfg.AnthropicAPIKey == "" {
		return nil
	}
	return services.NewOneLinerWriter(a.generator(), a.cfg.OneLinerMaxLen, a.logger)
}

func (a *app) syncer() *services.Syncer {
	return services.NewSyncer(a.catalogClient(), a.store, a.oneLinerWriter(), services.SyncerConfig{
		PartitionDelay: a.cfg.PartitionDelay,
		MaxConcurrency: a.cfg.MaxConcurrency,
		RateLimitMs:    a.cfg.RateLimitMs,
	}, a.logger)
}
