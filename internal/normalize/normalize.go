package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"soundfault/internal/model"
)

// JobFields is a loosely typed job as read from a transport, before the
// feature values are validated.
type JobFields struct {
	ID       string
	Category string
	Values   map[string]string
	Raw      string
}

var featureKeys = map[string]string{
	"zerocrossingrate":     "zcr",
	"zcr":                  "zcr",
	"spectralcentroidmean": "centroid",
	"spectralcentroid":     "centroid",
	"centroid":             "centroid",
	"onsetstrengthmean":    "onset",
	"onsetstrength":        "onset",
	"onset":                "onset",
	"rmsmean":              "rms",
	"rms":                  "rms",
}

// FeatureKey maps a field name to zcr, centroid, onset or rms, ignoring
// case and separators. Unknown names return "".
func FeatureKey(name string) string {
	return featureKeys[Key(name)]
}

// Key lowercases name and strips separators.
func Key(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func Normalize(fields JobFields, source string) (model.Job, error) {
	got := map[string]float64{}
	for name, raw := range fields.Values {
		key := FeatureKey(name)
		if key == "" {
			continue
		}
		v, err := ParseFeature(raw)
		if err != nil {
			return model.Job{}, fmt.Errorf("feature %s: %w", name, err)
		}
		got[key] = v
	}
	for _, key := range []string{"zcr", "centroid", "onset", "rms"} {
		if _, ok := got[key]; !ok {
			return model.Job{}, fmt.Errorf("missing feature %s", key)
		}
	}
	return model.Job{
		ID:       strings.TrimSpace(fields.ID),
		Category: model.ParseCategory(fields.Category),
		Features: model.FeatureVector{
			ZeroCrossingRate:     got["zcr"],
			SpectralCentroidMean: got["centroid"],
			OnsetStrengthMean:    got["onset"],
			RMSMean:              got["rms"],
		},
		Source: source,
	}, nil
}

// ParseFeature accepts decimal numbers with either '.' or ',' as the
// decimal separator. Non-finite values are rejected.
func ParseFeature(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil && strings.Count(value, ",") == 1 && !strings.Contains(value, ".") {
		v, err = strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", value)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", value)
	}
	return v, nil
}
