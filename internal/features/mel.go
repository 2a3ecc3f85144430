package features

import "math"

// melBank is a Slaney-style triangular filterbank stored as one dense run
// of weights per band starting at start[b].
type melBank struct {
	start   []int
	weights [][]float64
}

const (
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSP
	}
	return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melMinLogMel {
		return mel * melFSP
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
}

func newMelBank(sampleRate, nFFT, bands int) *melBank {
	bins := nFFT/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}
	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)
	edges := make([]float64, bands+2)
	for i := range edges {
		edges[i] = melToHz(lo + (hi-lo)*float64(i)/float64(bands+1))
	}

	bank := &melBank{start: make([]int, bands), weights: make([][]float64, bands)}
	for b := 0; b < bands; b++ {
		left, center, right := edges[b], edges[b+1], edges[b+2]
		norm := 2 / (right - left)
		first, last := -1, -1
		row := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Max(0, math.Min(lower, upper)) * norm
			if w > 0 {
				if first < 0 {
					first = k
				}
				last = k
			}
			row[k] = w
		}
		if first < 0 {
			bank.start[b] = 0
			bank.weights[b] = nil
			continue
		}
		bank.start[b] = first
		bank.weights[b] = row[first : last+1]
	}
	return bank
}

// apply projects a power spectrum onto the mel bands.
func (m *melBank) apply(dst, power []float64) {
	for b, w := range m.weights {
		sum := 0.0
		off := m.start[b]
		for i, v := range w {
			sum += v * power[off+i]
		}
		dst[b] = sum
	}
}
