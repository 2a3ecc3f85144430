package analyzer

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundfault/internal/config"
	"soundfault/internal/engine"
	"soundfault/internal/features"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/rules"
)

func newAnalyzer() (*Analyzer, *metrics.Store) {
	m := metrics.NewStore()
	eng := engine.NewEngine(config.DefaultConfig(), rules.MustDefaultRegistry(), nil, m)
	return New(features.New(features.DefaultOptions()), eng, 50, nil), m
}

func wavReader(t *testing.T, samples []float64, rate int) *bytes.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, features.EncodeWAV(f, samples, rate))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestAnalyzeSilentRecording(t *testing.T) {
	a, m := newAnalyzer()
	report, err := a.Analyze(context.Background(), wavReader(t, make([]float64, 22050), 22050), "Buzdolabı")
	require.NoError(t, err)
	assert.Equal(t, model.Refrigerator, report.Category)
	assert.Equal(t, model.SeverityGray, report.Diagnosis.Severity)
	assert.Equal(t, "silent/idle", report.Diagnosis.Title)
	assert.Len(t, report.Waveform, 50)
	_, err = uuid.Parse(report.ID)
	assert.NoError(t, err)

	tally, ok := m.Get(model.Refrigerator)
	require.True(t, ok)
	assert.Equal(t, 1, tally.Total)
}

func TestAnalyzeToneProducesBoundedWaveform(t *testing.T) {
	a, _ := newAnalyzer()
	n := 22050
	tone := make([]float64, n)
	for i := range tone {
		tone[i] = 0.4 * math.Sin(2*math.Pi*700*float64(i)/22050)
	}
	report, err := a.Analyze(context.Background(), wavReader(t, tone, 22050), "unknown gadget")
	require.NoError(t, err)
	assert.Equal(t, model.Generic, report.Category)
	assert.Greater(t, report.Features.RMSMean, 0.01)
	assert.LessOrEqual(t, len(report.Waveform), 50)
	for _, v := range report.Waveform {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 0.41)
	}
}

func TestAnalyzeRejectsUnsupportedAudio(t *testing.T) {
	a, m := newAnalyzer()
	_, err := a.Analyze(context.Background(), bytes.NewReader([]byte("not audio at all")), "Car")
	require.ErrorIs(t, err, features.ErrUnsupportedFormat)
	assert.Empty(t, m.Snapshot(), "engine must not run when extraction fails")
}

func TestAnalyzeFeatures(t *testing.T) {
	a, _ := newAnalyzer()
	report := a.AnalyzeFeatures(model.FeatureVector{RMSMean: 0.5, OnsetStrengthMean: 0.1, SpectralCentroidMean: 5000, ZeroCrossingRate: 0.05}, "Araba")
	assert.Equal(t, model.Car, report.Category)
	assert.Equal(t, "Accessory-belt noise", report.Diagnosis.Title)
	assert.NotNil(t, report.Waveform)
	assert.Empty(t, report.Waveform)
}

func TestAnalyzeCancelled(t *testing.T) {
	a, _ := newAnalyzer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := a.Analyze(ctx, wavReader(t, make([]float64, 22050), 22050), "Car")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
