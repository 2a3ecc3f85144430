package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"soundfault/internal/config"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/rules"
)

// Sink receives reports produced from queued jobs.
type Sink interface {
	Publish(ctx context.Context, report model.Report) error
}

// Engine wraps Diagnose with a hot swappable rule registry, verdict
// tallies and a worker for queued jobs. Diagnose calls never block on a
// registry swap.
type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	cfg      atomic.Pointer[config.Config]
	registry atomic.Pointer[rules.Registry]
	deDupe   *DedupeCache
}

func NewEngine(cfg *config.Config, reg *rules.Registry, logger *slog.Logger, metricsStore *metrics.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if reg == nil {
		reg = rules.MustDefaultRegistry()
	}
	e := &Engine{
		logger:  logger,
		metrics: metricsStore,
		deDupe:  NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	e.registry.Store(reg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		e.cfg.Store(cfg)
	}
}

func (e *Engine) config() *config.Config {
	if cfg := e.cfg.Load(); cfg != nil {
		return cfg
	}
	return config.DefaultConfig()
}

// UpdateRules swaps the registry and reports whether the rule content
// changed.
func (e *Engine) UpdateRules(reg *rules.Registry) bool {
	if reg == nil {
		return false
	}
	prev := e.registry.Swap(reg)
	changed := prev == nil || prev.Fingerprint() != reg.Fingerprint()
	if changed && e.logger != nil {
		e.logger.Info("rules updated",
			"version", reg.Version(),
			"fingerprint", reg.Fingerprint(),
			"rules", reg.RuleCount(),
		)
	}
	return changed
}

func (e *Engine) Registry() *rules.Registry {
	return e.registry.Load()
}

// Diagnose evaluates fv against the current registry and records the verdict.
func (e *Engine) Diagnose(fv model.FeatureVector, category model.DeviceCategory) model.Diagnosis {
	d, ruleID := evaluate(e.registry.Load(), fv, category)
	if e.metrics != nil {
		e.metrics.Record(category, d.Severity)
	}
	if e.logger != nil {
		e.logger.Debug("diagnosis",
			"category", category,
			"rule", ruleID,
			"severity", d.Severity,
			"zcr", fv.ZeroCrossingRate,
			"centroid", fv.SpectralCentroidMean,
			"onset", fv.OnsetStrengthMean,
			"rms", fv.RMSMean,
		)
	}
	return d
}

// Start consumes jobs until ctx is done, publishing each report to sink.
func (e *Engine) Start(ctx context.Context, in <-chan model.Job, sink Sink) {
	go func() {
		for {
			select {
			case job := <-in:
				report, ok := e.ProcessJob(job)
				if !ok || sink == nil {
					continue
				}
				if err := sink.Publish(ctx, report); err != nil && e.logger != nil {
					e.logger.Warn("publish report failed", "job_id", report.ID, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessJob diagnoses one queued job. Redelivered jobs seen within the
// dedupe window are skipped.
func (e *Engine) ProcessJob(job model.Job) (model.Report, bool) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	} else if e.isDuplicate(job.ID, e.config().Ingest.DedupeWindow) {
		if e.logger != nil {
			e.logger.Debug("duplicate job skipped", "job_id", job.ID)
		}
		return model.Report{}, false
	}
	category := model.ParseCategory(string(job.Category))
	d := e.Diagnose(job.Features, category)
	if e.logger != nil && d.Severity >= model.SeverityOrange {
		e.logger.Warn("fault diagnosed",
			"job_id", job.ID,
			"source", job.Source,
			"category", category,
			"title", d.Title,
			"severity", d.Severity,
		)
	}
	return model.Report{
		ID:        job.ID,
		Category:  category,
		Features:  job.Features,
		Diagnosis: d,
		Waveform:  []float64{},
	}, true
}

func (e *Engine) isDuplicate(id string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return e.deDupe.Seen(id, time.Now().UTC(), window)
}
