package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"soundfault/internal/analyzer"
	"soundfault/internal/api"
	"soundfault/internal/config"
	"soundfault/internal/engine"
	"soundfault/internal/features"
	"soundfault/internal/ingest"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/rules"
	"soundfault/internal/storage"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	mgr, err := opts.loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("storage unavailable", "err", err)
		return err
	}
	if store != nil {
		defer store.Close()
	}
	source, err := ruleSource(cfg, store)
	if err != nil {
		return err
	}

	tallies := metrics.NewStore()
	eng := engine.NewEngine(cfg, rules.MustDefaultRegistry(), logger, tallies)
	ruleManager := engine.NewRuleManager(source, eng, logger)
	if _, err := ruleManager.Reload(ctx); err != nil {
		logger.Error("rules failed to load", "source", source.Name(), "err", err)
		return err
	}
	reg := eng.Registry()
	logger.Info("rules loaded", "source", source.Name(), "version", reg.Version(), "fingerprint", reg.Fingerprint(), "rules", reg.RuleCount())
	if cfg.Rules.Source != "embedded" {
		go ruleManager.Watch(ctx, cfg.Rules.ReloadInterval)
	}

	jobs := make(chan model.Job, cfg.Ingest.ChannelBuffer)
	var sink engine.Sink
	if ks := ingest.NewKafkaSink(cfg.Ingest.Kafka); ks != nil {
		defer ks.Close()
		sink = ks
	}
	eng.Start(ctx, jobs, sink)
	ingest.StartKafka(ctx, mgr, ingest.NewParser(), jobs, logger)
	ingest.StartFileTail(ctx, mgr, jobs, logger)

	extractor := features.New(features.OptionsFromConfig(cfg.Extractor))
	api.Start(ctx, mgr, api.Deps{
		Analyzer: analyzer.New(extractor, eng, cfg.API.WaveformPoints, logger),
		Rules:    ruleManager,
		Metrics:  tallies,
		Jobs:     ingest.NewJobsHandler(ctx, jobs, logger),
	}, logger, opts.version)

	if cfg.Stats.Persist && store != nil {
		go flushTallies(ctx, store, tallies, cfg.Stats.FlushInterval, logger)
	}
	go mgr.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	if cfg.Stats.Persist && store != nil {
		saveTallies(store, tallies, logger)
	}
	logger.Info("shutdown complete")
	return nil
}

func flushTallies(ctx context.Context, store storage.Store, tallies *metrics.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			saveTallies(store, tallies, logger)
		case <-ctx.Done():
			return
		}
	}
}

func saveTallies(store storage.Store, tallies *metrics.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SaveTallies(ctx, tallies.Snapshot()); err != nil {
		logger.Warn("saving verdict tallies failed", "err", err)
	}
}
