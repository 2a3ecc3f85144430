package rules

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"soundfault/internal/model"
)

const DefaultSilenceThreshold = 0.01

//go:embed default_rules.yaml
var defaultDocument []byte

// Feature names one field of model.FeatureVector.
type Feature string

const (
	FeatureZeroCrossingRate Feature = "zero_crossing_rate"
	FeatureSpectralCentroid Feature = "spectral_centroid_mean"
	FeatureOnsetStrength    Feature = "onset_strength_mean"
	FeatureRMS              Feature = "rms_mean"
)

func (f Feature) value(fv model.FeatureVector) (float64, bool) {
	switch f {
	case FeatureZeroCrossingRate:
		return fv.ZeroCrossingRate, true
	case FeatureSpectralCentroid:
		return fv.SpectralCentroidMean, true
	case FeatureOnsetStrength:
		return fv.OnsetStrengthMean, true
	case FeatureRMS:
		return fv.RMSMean, true
	default:
		return 0, false
	}
}

type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// Condition is a single threshold comparison against one feature.
type Condition struct {
	Feature Feature  `json:"feature" yaml:"feature"`
	Op      Operator `json:"op" yaml:"op"`
	Value   float64  `json:"value" yaml:"value"`
}

// Holds reports whether the condition is satisfied. Negative and NaN
// feature values never satisfy a condition.
func (c Condition) Holds(fv model.FeatureVector) bool {
	v, ok := c.Feature.value(fv)
	if !ok || math.IsNaN(v) || v < 0 {
		return false
	}
	switch c.Op {
	case OpGreater:
		return v > c.Value
	case OpGreaterEqual:
		return v >= c.Value
	case OpLess:
		return v < c.Value
	case OpLessEqual:
		return v <= c.Value
	default:
		return false
	}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Feature, c.Op, c.Value)
}

type Rule struct {
	ID        string          `json:"id" yaml:"id"`
	When      []Condition     `json:"when" yaml:"when"`
	Diagnosis model.Diagnosis `json:"diagnosis" yaml:"diagnosis"`
}

// Matches reports whether every condition of the rule holds.
func (r Rule) Matches(fv model.FeatureVector) bool {
	if len(r.When) == 0 {
		return false
	}
	for _, c := range r.When {
		if !c.Holds(fv) {
			return false
		}
	}
	return true
}

// RuleSet is the ordered rule list of one device category.
type RuleSet struct {
	Category model.DeviceCategory `json:"category" yaml:"category"`
	Default  model.Diagnosis      `json:"default" yaml:"default"`
	Rules    []Rule               `json:"rules" yaml:"rules"`
}

// SilenceText is the verdict of the silence gate. Its severity is always gray.
type SilenceText struct {
	Title    string         `json:"title" yaml:"title"`
	Detail   string         `json:"detail" yaml:"detail"`
	Severity model.Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// Document is the editable form of the whole knowledge base.
type Document struct {
	Version          int         `json:"version" yaml:"version"`
	SilenceThreshold float64     `json:"silence_threshold" yaml:"silence_threshold"`
	Silence          SilenceText `json:"silence" yaml:"silence"`
	RuleSets         []RuleSet   `json:"rulesets" yaml:"rulesets"`
}

// Default returns a fresh copy of the built-in document.
func Default() *Document {
	doc, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("built-in rules invalid: %v", err))
	}
	return doc
}

// DefaultBytes returns the raw built-in document.
func DefaultBytes() []byte {
	return bytes.Clone(defaultDocument)
}

// Parse decodes a YAML or JSON document, fills defaults and validates it.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("rule document is empty")
	}
	doc := &Document{}
	if looksLikeJSON(trimmed) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(doc); err != nil {
			return nil, fmt.Errorf("decode rules json: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			return nil, fmt.Errorf("decode rules yaml: %w", err)
		}
	}
	applyDefaults(doc)
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Marshal encodes the document as YAML, or as JSON when format is "json".
func Marshal(doc *Document, format string) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("nil rule document")
	}
	if strings.EqualFold(format, "json") {
		return json.MarshalIndent(doc, "", "  ")
	}
	return yaml.Marshal(doc)
}

// Fingerprint identifies the semantic content of a document.
func Fingerprint(doc *Document) string {
	data, _ := json.Marshal(doc)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func looksLikeJSON(b []byte) bool {
	for _, ch := range b {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(doc *Document) {
	if doc.SilenceThreshold == 0 {
		doc.SilenceThreshold = DefaultSilenceThreshold
	}
	if doc.Silence.Title == "" {
		doc.Silence.Title = "silent/idle"
	}
	if doc.Silence.Detail == "" {
		doc.Silence.Detail = "signal too low to analyze or device inactive."
	}
	if !doc.Silence.Severity.Valid() {
		doc.Silence.Severity = model.SeverityGray
	}
	for i := range doc.RuleSets {
		set := &doc.RuleSets[i]
		if c, ok := model.LookupCategory(string(set.Category)); ok {
			set.Category = c
		}
		if set.Default.Title == "" {
			set.Default.Title = "Status normal"
		}
		// only the no-match default may omit its severity
		if set.Default.Severity == 0 {
			set.Default.Severity = model.SeverityGreen
		}
		if set.Default.Detail == "" {
			set.Default.Detail = "{device} is running steadily."
		}
	}
}

// Validate checks the structural invariants of a document.
func Validate(doc *Document) error {
	if doc == nil {
		return errors.New("nil rule document")
	}
	if math.IsNaN(doc.SilenceThreshold) || doc.SilenceThreshold < 0 {
		return fmt.Errorf("silence_threshold must be >= 0, got %g", doc.SilenceThreshold)
	}
	if doc.Silence.Severity != model.SeverityGray {
		return fmt.Errorf("silence severity must be gray, got %s", doc.Silence.Severity)
	}
	seen := make(map[model.DeviceCategory]bool, len(doc.RuleSets))
	for i, set := range doc.RuleSets {
		category, ok := model.LookupCategory(string(set.Category))
		if !ok {
			return fmt.Errorf("rulesets[%d]: unknown category %q", i, set.Category)
		}
		if seen[category] {
			return fmt.Errorf("rulesets[%d]: duplicate category %q", i, set.Category)
		}
		seen[category] = true
		if err := validateDiagnosis(set.Default); err != nil {
			return fmt.Errorf("%s default: %w", set.Category, err)
		}
		ids := make(map[string]bool, len(set.Rules))
		for j, rule := range set.Rules {
			where := fmt.Sprintf("%s rule %d", set.Category, j+1)
			if rule.ID != "" {
				where = fmt.Sprintf("%s rule %q", set.Category, rule.ID)
				if ids[rule.ID] {
					return fmt.Errorf("%s: duplicate id", where)
				}
				ids[rule.ID] = true
			}
			if len(rule.When) == 0 {
				return fmt.Errorf("%s: at least one condition required", where)
			}
			for _, c := range rule.When {
				if _, ok := c.Feature.value(model.FeatureVector{}); !ok {
					return fmt.Errorf("%s: unknown feature %q", where, c.Feature)
				}
				switch c.Op {
				case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
				default:
					return fmt.Errorf("%s: unknown operator %q", where, c.Op)
				}
				if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
					return fmt.Errorf("%s: threshold for %s is not finite", where, c.Feature)
				}
			}
			if err := validateDiagnosis(rule.Diagnosis); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
	}
	if !seen[model.Generic] {
		return errors.New("a generic ruleset is required")
	}
	return nil
}

func validateDiagnosis(d model.Diagnosis) error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("diagnosis title required")
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("diagnosis %q: severity must be one of green, gray, yellow, orange, red (got %s)", d.Title, d.Severity)
	}
	for _, c := range d.Causes {
		if strings.TrimSpace(c.Description) == "" {
			return errors.New("cause description required")
		}
		if c.Probability < 0 || c.Probability > 100 {
			return fmt.Errorf("cause %q probability %d outside 0..100", c.Description, c.Probability)
		}
	}
	return nil
}
