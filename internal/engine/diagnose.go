package engine

import (
	"fmt"
	"sort"
	"strings"

	"soundfault/internal/model"
	"soundfault/internal/rules"
)

// Diagnose maps a feature vector to a diagnosis using reg. It is a pure
// function: it never mutates its inputs, performs no I/O and always returns
// a diagnosis.
//
// The silence gate runs first for every category. After that the category's
// rules are tried in declared order and the first match wins; when nothing
// matches the ruleset default is returned.
func Diagnose(reg *rules.Registry, fv model.FeatureVector, category model.DeviceCategory) model.Diagnosis {
	d, _ := evaluate(reg, fv, category)
	return d
}

// evaluate also returns the id of the rule that decided the outcome:
// "silence", a rule id, or "default".
func evaluate(reg *rules.Registry, fv model.FeatureVector, category model.DeviceCategory) (model.Diagnosis, string) {
	if fv.RMSMean < reg.SilenceThreshold() {
		return reg.Silence(), "silence"
	}
	set := reg.Lookup(category)
	for i, rule := range set.Rules {
		if rule.Matches(fv) {
			id := rule.ID
			if id == "" {
				id = fmt.Sprintf("%s#%d", set.Category, i+1)
			}
			return render(rule.Diagnosis, category), id
		}
	}
	return render(set.Default, category), "default"
}

func render(d model.Diagnosis, category model.DeviceCategory) model.Diagnosis {
	name := category.DisplayName()
	out := model.Diagnosis{
		Title:    strings.ReplaceAll(d.Title, "{device}", name),
		Detail:   strings.ReplaceAll(d.Detail, "{device}", name),
		Severity: d.Severity,
	}
	if len(d.Causes) == 0 {
		return out
	}
	out.Causes = make([]model.Cause, len(d.Causes))
	copy(out.Causes, d.Causes)
	sort.SliceStable(out.Causes, func(i, j int) bool {
		return out.Causes[i].Probability > out.Causes[j].Probability
	})
	out.Detail = appendCauses(out.Detail, out.Causes)
	return out
}

// FormatCauses renders causes as "a 60%; b 30%".
func FormatCauses(causes []model.Cause) string {
	parts := make([]string, 0, len(causes))
	for _, c := range causes {
		parts = append(parts, fmt.Sprintf("%s %d%%", c.Description, c.Probability))
	}
	return strings.Join(parts, "; ")
}

func appendCauses(detail string, causes []model.Cause) string {
	list := "Possible causes: " + FormatCauses(causes) + "."
	if strings.TrimSpace(detail) == "" {
		return list
	}
	return strings.TrimSpace(detail) + " " + list
}
