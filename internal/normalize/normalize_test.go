package normalize

import (
	"testing"

	"soundfault/internal/model"
)

func TestNormalizeAliases(t *testing.T) {
	job, err := Normalize(JobFields{
		ID:       " job-7 ",
		Category: "Çamaşır Makinesi",
		Values: map[string]string{
			"zeroCrossingRate":       "0.02",
			"spectral_centroid_mean": "3500",
			"Onset":                  "0,5",
			"RMS-mean":               "0.4",
			"extra":                  "ignored",
		},
	}, "kafka")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if job.ID != "job-7" || job.Category != model.WashingMachine || job.Source != "kafka" {
		t.Fatalf("unexpected job: %+v", job)
	}
	want := model.FeatureVector{ZeroCrossingRate: 0.02, SpectralCentroidMean: 3500, OnsetStrengthMean: 0.5, RMSMean: 0.4}
	if job.Features != want {
		t.Fatalf("features: got %+v want %+v", job.Features, want)
	}
}

func TestNormalizeErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing rms": {"zcr": "0.1", "centroid": "1", "onset": "1"},
		"bad number":  {"zcr": "x", "centroid": "1", "onset": "1", "rms": "1"},
		"nan":         {"zcr": "NaN", "centroid": "1", "onset": "1", "rms": "1"},
		"inf":         {"zcr": "0.1", "centroid": "+Inf", "onset": "1", "rms": "1"},
	}
	for name, values := range cases {
		if _, err := Normalize(JobFields{Values: values}, "test"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestUnknownCategoryIsGeneric(t *testing.T) {
	job, err := Normalize(JobFields{Category: "toaster", Values: map[string]string{"zcr": "0", "centroid": "0", "onset": "0", "rms": "0"}}, "")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if job.Category != model.Generic {
		t.Fatalf("expected generic, got %s", job.Category)
	}
}
