package rules

import (
	"errors"
	"slices"

	"soundfault/internal/model"
)

// Registry is the read-only category to RuleSet mapping built from a
// validated document. It is safe for concurrent use.
type Registry struct {
	sets             map[model.DeviceCategory]*RuleSet
	silenceThreshold float64
	silence          model.Diagnosis
	fingerprint      string
	version          int
	doc              *Document
}

// NewRegistry builds a registry from a validated private copy of doc.
func NewRegistry(doc *Document) (*Registry, error) {
	if doc == nil {
		return nil, errors.New("nil rule document")
	}
	own := cloneDocument(doc)
	applyDefaults(own)
	if err := Validate(own); err != nil {
		return nil, err
	}
	r := &Registry{
		sets:             make(map[model.DeviceCategory]*RuleSet, len(own.RuleSets)),
		silenceThreshold: own.SilenceThreshold,
		silence: model.Diagnosis{
			Title:    own.Silence.Title,
			Detail:   own.Silence.Detail,
			Severity: model.SeverityGray,
		},
		fingerprint: Fingerprint(own),
		version:     own.Version,
		doc:         own,
	}
	for i := range own.RuleSets {
		r.sets[own.RuleSets[i].Category] = &own.RuleSets[i]
	}
	return r, nil
}

// MustDefaultRegistry builds the registry for the built-in document.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(Default())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the RuleSet for category, falling back to the generic set.
func (r *Registry) Lookup(category model.DeviceCategory) *RuleSet {
	if set, ok := r.sets[category]; ok {
		return set
	}
	return r.sets[model.Generic]
}

func (r *Registry) SilenceThreshold() float64 {
	return r.silenceThreshold
}

func (r *Registry) Silence() model.Diagnosis {
	return r.silence
}

func (r *Registry) Fingerprint() string {
	return r.fingerprint
}

func (r *Registry) Version() int {
	return r.version
}

// Document returns a copy of the document the registry was built from.
func (r *Registry) Document() *Document {
	return cloneDocument(r.doc)
}

// RuleCount is the total number of rules across all rulesets.
func (r *Registry) RuleCount() int {
	n := 0
	for _, set := range r.sets {
		n += len(set.Rules)
	}
	return n
}

func cloneDocument(doc *Document) *Document {
	out := *doc
	out.RuleSets = make([]RuleSet, len(doc.RuleSets))
	for i, set := range doc.RuleSets {
		set.Default = cloneDiagnosis(set.Default)
		rules := make([]Rule, len(set.Rules))
		for j, rule := range set.Rules {
			rule.When = slices.Clone(rule.When)
			rule.Diagnosis = cloneDiagnosis(rule.Diagnosis)
			rules[j] = rule
		}
		set.Rules = rules
		out.RuleSets[i] = set
	}
	return &out
}

func cloneDiagnosis(d model.Diagnosis) model.Diagnosis {
	d.Causes = slices.Clone(d.Causes)
	return d
}
