package rules

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"soundfault/internal/model"
)

func TestDefaultDocumentTable(t *testing.T) {
	reg := MustDefaultRegistry()
	if reg.SilenceThreshold() != 0.01 {
		t.Fatalf("silence threshold: %g", reg.SilenceThreshold())
	}
	want := map[model.DeviceCategory][]string{
		model.Refrigerator:   {"Mechanical knocking", "Motor/compressor strain", "Refrigerant gas issue"},
		model.WashingMachine: {"Drum imbalance", "Belt/pump issue"},
		model.Car:            {"Valve-train noise", "Accessory-belt noise"},
		model.Motorcycle:     {"Exhaust/engine-block noise"},
		model.Generic:        {"Excessive friction noise"},
	}
	got := map[model.DeviceCategory][]string{}
	for _, c := range model.Categories {
		for _, r := range reg.Lookup(c).Rules {
			got[c] = append(got[c], r.Diagnosis.Title)
			if len(r.Diagnosis.Causes) == 0 {
				t.Fatalf("%s: rule %s has no causes", c, r.ID)
			}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rule table mismatch (-want +got):\n%s", diff)
	}
}

func TestRefrigeratorThresholds(t *testing.T) {
	set := MustDefaultRegistry().Lookup(model.Refrigerator)
	want := [][]Condition{
		{{FeatureOnsetStrength, OpGreater, 1.4}},
		{{FeatureSpectralCentroid, OpLess, 1000}, {FeatureZeroCrossingRate, OpGreater, 0.06}},
		{{FeatureSpectralCentroid, OpGreater, 2500}, {FeatureZeroCrossingRate, OpGreater, 0.10}},
	}
	for i, rule := range set.Rules {
		if diff := cmp.Diff(want[i], rule.When); diff != "" {
			t.Fatalf("rule %d (-want +got):\n%s", i+1, diff)
		}
	}
}

func TestLookupFallsBackToGeneric(t *testing.T) {
	reg := MustDefaultRegistry()
	if got := reg.Lookup(model.DeviceCategory("toaster")).Category; got != model.Generic {
		t.Fatalf("fallback category: %s", got)
	}

	doc := &Document{RuleSets: []RuleSet{{
		Category: model.Generic,
		Rules: []Rule{{
			ID:        "loud",
			When:      []Condition{{FeatureRMS, OpGreater, 0.9}},
			Diagnosis: model.Diagnosis{Title: "Too loud", Severity: model.SeverityYellow},
		}},
	}}}
	small, err := NewRegistry(doc)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if small.Lookup(model.Car).Category != model.Generic {
		t.Fatalf("category without ruleset should use generic")
	}
	if small.SilenceThreshold() != DefaultSilenceThreshold {
		t.Fatalf("silence default not applied")
	}
}

func TestConditionRejectsNegativeAndNaN(t *testing.T) {
	c := Condition{FeatureSpectralCentroid, OpLess, 1000}
	if c.Holds(model.FeatureVector{SpectralCentroidMean: -5}) {
		t.Fatalf("negative feature must not satisfy a condition")
	}
	if c.Holds(model.FeatureVector{SpectralCentroidMean: math.NaN()}) {
		t.Fatalf("NaN feature must not satisfy a condition")
	}
	if !c.Holds(model.FeatureVector{SpectralCentroidMean: 999}) {
		t.Fatalf("expected condition to hold")
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing generic": `
rulesets:
  - category: car
    rules: []
`,
		"unknown feature": `
rulesets:
  - category: generic
    rules:
      - id: x
        when: [{feature: loudness, op: ">", value: 1}]
        diagnosis: {title: X, severity: red}
`,
		"bad operator": `
rulesets:
  - category: generic
    rules:
      - id: x
        when: [{feature: rms_mean, op: "==", value: 1}]
        diagnosis: {title: X, severity: red}
`,
		"no conditions": `
rulesets:
  - category: generic
    rules:
      - id: x
        diagnosis: {title: X, severity: red}
`,
		"bad probability": `
rulesets:
  - category: generic
    rules:
      - id: x
        when: [{feature: rms_mean, op: ">", value: 1}]
        diagnosis: {title: X, severity: red, causes: [{description: y, probability: 140}]}
`,
		"duplicate category": `
rulesets:
  - category: generic
  - category: Genel
`,
		"unknown field": `
rulez: []
`,
		"bad severity": `
rulesets:
  - category: generic
    default: {title: ok, severity: purple}
`,
		"rule without severity": `
rulesets:
  - category: generic
    rules:
      - id: friction
        when: [{feature: zero_crossing_rate, op: ">", value: 0.2}]
        diagnosis: {title: Excessive friction noise}
`,
		"rule with empty severity": `
rulesets:
  - category: generic
    rules:
      - id: friction
        when: [{feature: zero_crossing_rate, op: ">", value: 0.2}]
        diagnosis: {title: Excessive friction noise, severity: ""}
`,
		"silence not gray": `
silence: {title: quiet, severity: red}
rulesets:
  - category: generic
`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseJSONDocument(t *testing.T) {
	body := `{"version":7,"rulesets":[{"category":"Generic","rules":[
		{"id":"hum","when":[{"feature":"spectral_centroid_mean","op":"<","value":200}],
		 "diagnosis":{"title":"Mains hum","severity":"yellow"}}]}]}`
	doc, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != 7 || doc.RuleSets[0].Category != model.Generic {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.RuleSets[0].Rules[0].Diagnosis.Severity != model.SeverityYellow {
		t.Fatalf("severity not decoded")
	}
}

func TestFingerprintStableAcrossFormats(t *testing.T) {
	doc := Default()
	asJSON, err := Marshal(doc, "json")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Parse(asJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Fingerprint(doc) != Fingerprint(back) {
		t.Fatalf("fingerprint changed after json round trip")
	}
	back.RuleSets[0].Rules[0].When[0].Value = 1.5
	if Fingerprint(doc) == Fingerprint(back) {
		t.Fatalf("fingerprint should change with thresholds")
	}
}

func TestRegistryIsIsolatedFromDocument(t *testing.T) {
	doc := Default()
	reg, err := NewRegistry(doc)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	doc.RuleSets[0].Rules[0].When[0].Value = 99
	doc.RuleSets[0].Rules[0].Diagnosis.Causes[0].Probability = 1
	rule := reg.Lookup(model.Refrigerator).Rules[0]
	if rule.When[0].Value != 1.4 || rule.Diagnosis.Causes[0].Probability != 60 {
		t.Fatalf("registry shares state with source document")
	}
}

func TestFileSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rules.yaml", "rules.json"} {
		path := filepath.Join(dir, name)
		src := NewFileSource(path)
		doc := Default()
		doc.Version = 42
		if err := src.Save(context.Background(), doc); err != nil {
			t.Fatalf("%s save: %v", name, err)
		}
		data, _ := os.ReadFile(path)
		if strings.HasSuffix(name, ".json") != strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			t.Fatalf("%s: unexpected encoding", name)
		}
		loaded, err := src.Load(context.Background())
		if err != nil {
			t.Fatalf("%s load: %v", name, err)
		}
		if Fingerprint(loaded) != Fingerprint(doc) {
			t.Fatalf("%s: round trip changed document", name)
		}
	}
}

func TestEmbeddedSourceReadOnly(t *testing.T) {
	src := EmbeddedSource()
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := src.Save(context.Background(), Default()); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

type memRevisions struct {
	bodies [][]byte
}

func (m *memRevisions) SaveRuleRevision(_ context.Context, body []byte, _ string) error {
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *memRevisions) LatestRuleRevision(context.Context) ([]byte, error) {
	if len(m.bodies) == 0 {
		return nil, ErrNoRevision
	}
	return m.bodies[len(m.bodies)-1], nil
}

func TestStoreSourceSeedsEmptyStore(t *testing.T) {
	store := &memRevisions{}
	src := NewStoreSource(store)
	doc, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(store.bodies) != 1 {
		t.Fatalf("expected seeded revision, got %d", len(store.bodies))
	}
	doc.Version = 9
	if err := src.Save(context.Background(), doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	latest, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if latest.Version != 9 {
		t.Fatalf("expected latest revision, got version %d", latest.Version)
	}
}

func TestParseSeverityDefaults(t *testing.T) {
	doc, err := Parse([]byte(`
silence: {title: silent/idle, detail: nothing to hear, severity: gray}
rulesets:
  - category: generic
    default: {title: Quiet running}
    rules:
      - id: friction
        when: [{feature: zero_crossing_rate, op: ">", value: 0.2}]
        diagnosis: {title: Excessive friction noise, severity: orange}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Silence.Severity != model.SeverityGray {
		t.Fatalf("silence severity: %s", doc.Silence.Severity)
	}
	set := doc.RuleSets[0]
	if set.Default.Severity != model.SeverityGreen {
		t.Fatalf("ruleset default should fall back to green, got %s", set.Default.Severity)
	}
	if set.Rules[0].Diagnosis.Severity != model.SeverityOrange {
		t.Fatalf("rule severity: %s", set.Rules[0].Diagnosis.Severity)
	}

	noSilenceSeverity, err := Parse([]byte("rulesets:\n  - category: generic\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if noSilenceSeverity.Silence.Severity != model.SeverityGray {
		t.Fatalf("silence severity should default to gray, got %s", noSilenceSeverity.Silence.Severity)
	}
}

func TestNewRegistryRejectsRuleWithoutSeverity(t *testing.T) {
	doc := &Document{RuleSets: []RuleSet{{
		Category: model.Generic,
		Rules: []Rule{{
			ID:        "friction",
			When:      []Condition{{FeatureZeroCrossingRate, OpGreater, 0.2}},
			Diagnosis: model.Diagnosis{Title: "Excessive friction noise"},
		}},
	}}}
	if _, err := NewRegistry(doc); err == nil || !strings.Contains(err.Error(), "severity") {
		t.Fatalf("expected severity error, got %v", err)
	}
}
