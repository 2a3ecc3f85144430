// Package analyzer runs one recording through feature extraction, the
// diagnostic engine and the waveform summarizer.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"soundfault/internal/engine"
	"soundfault/internal/features"
	"soundfault/internal/model"
	"soundfault/internal/waveform"
)

type Analyzer struct {
	extractor *features.Extractor
	engine    *engine.Engine
	points    int
	logger    *slog.Logger
}

func New(ex *features.Extractor, eng *engine.Engine, points int, logger *slog.Logger) *Analyzer {
	if ex == nil {
		ex = features.New(features.DefaultOptions())
	}
	if points <= 0 {
		points = waveform.DefaultPoints
	}
	return &Analyzer{extractor: ex, engine: eng, points: points, logger: logger}
}

func (a *Analyzer) Engine() *engine.Engine {
	return a.engine
}

// Analyze extracts features from a WAV stream and diagnoses them. The
// engine is never consulted when extraction fails.
func (a *Analyzer) Analyze(ctx context.Context, r io.ReadSeeker, category string) (model.Report, error) {
	started := time.Now()
	res, err := a.extractor.Extract(ctx, r)
	if err != nil {
		return model.Report{}, fmt.Errorf("extract features: %w", err)
	}
	report := a.AnalyzeFeatures(res.Features, category)
	report.Waveform = waveform.Summarize(res.Samples, a.points)
	if a.logger != nil {
		a.logger.Info("recording analyzed",
			"id", report.ID,
			"category", report.Category,
			"severity", report.Diagnosis.Severity,
			"duration", res.Duration,
			"elapsed", time.Since(started),
		)
	}
	return report, nil
}

// AnalyzeFeatures diagnoses an already extracted feature vector. The
// report carries an empty waveform.
func (a *Analyzer) AnalyzeFeatures(fv model.FeatureVector, category string) model.Report {
	c := model.ParseCategory(category)
	return model.Report{
		ID:        uuid.NewString(),
		Category:  c,
		Features:  fv,
		Diagnosis: a.engine.Diagnose(fv, c),
		Waveform:  []float64{},
	}
}
