// Package features turns a recording into the scalar acoustic features the
// diagnostic rules are written against.
package features

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"soundfault/internal/config"
	"soundfault/internal/model"
)

const (
	topDB      = 80.0
	powerFloor = 1e-10
	zeroFloor  = 1e-10
	// frames between context checks
	cancelEvery = 64
)

type Options struct {
	SampleRate  int
	FrameLength int
	HopLength   int
	MelBands    int
	MaxDuration time.Duration
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Extractor)
}

func OptionsFromConfig(cfg config.ExtractorConfig) Options {
	return Options{
		SampleRate:  cfg.SampleRate,
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		MelBands:    cfg.MelBands,
		MaxDuration: cfg.MaxDuration,
	}
}

// Result holds the features together with the analysis-rate samples they
// were computed from.
type Result struct {
	Features   model.FeatureVector
	Samples    []float64
	SampleRate int
	Duration   time.Duration
}

// Extractor is safe for concurrent use.
type Extractor struct {
	opts   Options
	window []float64
	freqs  []float64
	mel    *melBank
	ffts   sync.Pool
}

func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.FrameLength <= 0 {
		opts.FrameLength = def.FrameLength
	}
	if opts.HopLength <= 0 {
		opts.HopLength = def.HopLength
	}
	if opts.MelBands <= 0 {
		opts.MelBands = def.MelBands
	}
	n := opts.FrameLength
	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	window.Hann(win)
	freqs := make([]float64, n/2+1)
	for k := range freqs {
		freqs[k] = float64(k) * float64(opts.SampleRate) / float64(n)
	}
	e := &Extractor{
		opts:   opts,
		window: win,
		freqs:  freqs,
		mel:    newMelBank(opts.SampleRate, n, opts.MelBands),
	}
	e.ffts.New = func() any { return fourier.NewFFT(n) }
	return e
}

func (e *Extractor) Options() Options {
	return e.opts
}

// Extract decodes a WAV stream, resamples it to the analysis rate and
// computes its features.
func (e *Extractor) Extract(ctx context.Context, r io.ReadSeeker) (Result, error) {
	clip, err := DecodeWAV(r)
	if err != nil {
		return Result{}, err
	}
	dur := clip.Duration()
	if e.opts.MaxDuration > 0 && dur > e.opts.MaxDuration {
		return Result{}, ErrRecordingTooLong
	}
	samples := Resample(clip.Samples, clip.SampleRate, e.opts.SampleRate)
	fv, err := e.Features(ctx, samples)
	if err != nil {
		return Result{}, err
	}
	return Result{Features: fv, Samples: samples, SampleRate: e.opts.SampleRate, Duration: dur}, nil
}

// Features computes the feature vector of mono samples at the analysis
// rate. An empty input yields the zero vector.
func (e *Extractor) Features(ctx context.Context, samples []float64) (model.FeatureVector, error) {
	if len(samples) == 0 {
		return model.FeatureVector{}, nil
	}
	if err := ctx.Err(); err != nil {
		return model.FeatureVector{}, err
	}
	n, hop := e.opts.FrameLength, e.opts.HopLength

	zcr := meanOverFrames(padEdge(samples, n/2), n, hop, zeroCrossings)
	rms := meanOverFrames(padZero(samples, n/2), n, hop, rootMeanSquare)
	centroid, onset, err := e.spectral(ctx, padZero(samples, n/2))
	if err != nil {
		return model.FeatureVector{}, err
	}
	return model.FeatureVector{
		ZeroCrossingRate:     zcr,
		SpectralCentroidMean: centroid,
		OnsetStrengthMean:    onset,
		RMSMean:              rms,
	}, nil
}

func (e *Extractor) spectral(ctx context.Context, padded []float64) (float64, float64, error) {
	n, hop := e.opts.FrameLength, e.opts.HopLength
	frames := frameCount(len(padded), n, hop)
	fft := e.ffts.Get().(*fourier.FFT)
	defer e.ffts.Put(fft)

	buf := make([]float64, n)
	coeffs := make([]complex128, n/2+1)
	mag := make([]float64, n/2+1)
	power := make([]float64, n/2+1)
	melDB := make([][]float64, frames)
	maxDB := math.Inf(-1)
	centroidSum := 0.0

	for f := 0; f < frames; f++ {
		if f%cancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		start := f * hop
		floats.MulTo(buf, padded[start:start+n], e.window)
		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			m := math.Hypot(real(c), imag(c))
			mag[k] = m
			power[k] = m * m
		}
		if total := floats.Sum(mag); total > 0 {
			centroidSum += floats.Dot(e.freqs, mag) / total
		}
		bands := make([]float64, len(e.mel.weights))
		e.mel.apply(bands, power)
		for b, p := range bands {
			db := 10 * math.Log10(math.Max(powerFloor, p))
			bands[b] = db
			if db > maxDB {
				maxDB = db
			}
		}
		melDB[f] = bands
	}
	floor := maxDB - topDB
	for _, bands := range melDB {
		for b, db := range bands {
			if db < floor {
				bands[b] = floor
			}
		}
	}
	return centroidSum / float64(frames), onsetMean(melDB, 1+n/(2*hop)), nil
}

// onsetMean is the mean positive spectral flux across bands, with the
// envelope delayed by lead frames to line up with centered frames.
func onsetMean(melDB [][]float64, lead int) float64 {
	frames := len(melDB)
	if frames < 2 {
		return 0
	}
	sum := 0.0
	for t := 1; t < frames && t-1+lead < frames; t++ {
		prev, cur := melDB[t-1], melDB[t]
		flux := 0.0
		for b := range cur {
			if d := cur[b] - prev[b]; d > 0 {
				flux += d
			}
		}
		sum += flux / float64(len(cur))
	}
	return sum / float64(frames)
}

func frameCount(length, n, hop int) int {
	if length < n {
		return 1
	}
	return 1 + (length-n)/hop
}

func meanOverFrames(padded []float64, n, hop int, fn func([]float64) float64) float64 {
	frames := frameCount(len(padded), n, hop)
	sum := 0.0
	for f := 0; f < frames; f++ {
		start := f * hop
		end := start + n
		if end > len(padded) {
			end = len(padded)
		}
		sum += fn(padded[start:end])
	}
	return sum / float64(frames)
}

func zeroCrossings(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	count := 0
	prev := signbit(frame[0])
	for _, v := range frame[1:] {
		s := signbit(v)
		if s != prev {
			count++
		}
		prev = s
	}
	return float64(count) / float64(len(frame))
}

// signbit treats values within zeroFloor of zero as positive.
func signbit(v float64) bool {
	if math.Abs(v) <= zeroFloor {
		return false
	}
	return v < 0
}

func rootMeanSquare(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
}

func padZero(samples []float64, pad int) []float64 {
	out := make([]float64, len(samples)+2*pad)
	copy(out[pad:], samples)
	return out
}

func padEdge(samples []float64, pad int) []float64 {
	out := padZero(samples, pad)
	first, last := samples[0], samples[len(samples)-1]
	for i := 0; i < pad; i++ {
		out[i] = first
		out[len(out)-1-i] = last
	}
	return out
}
