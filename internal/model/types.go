package model

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// FeatureVector holds the scalar acoustic features of one recording.
type FeatureVector struct {
	ZeroCrossingRate     float64 `json:"zero_crossing_rate" yaml:"zero_crossing_rate"`
	SpectralCentroidMean float64 `json:"spectral_centroid_mean" yaml:"spectral_centroid_mean"`
	OnsetStrengthMean    float64 `json:"onset_strength_mean" yaml:"onset_strength_mean"`
	RMSMean              float64 `json:"rms_mean" yaml:"rms_mean"`
}

type DeviceCategory string

const (
	Refrigerator   DeviceCategory = "refrigerator"
	WashingMachine DeviceCategory = "washing_machine"
	Car            DeviceCategory = "car"
	Motorcycle     DeviceCategory = "motorcycle"
	Generic        DeviceCategory = "generic"
)

// Categories lists every known category in display order.
var Categories = []DeviceCategory{Refrigerator, WashingMachine, Car, Motorcycle, Generic}

var categoryAliases = map[string]DeviceCategory{
	"refrigerator":    Refrigerator,
	"fridge":          Refrigerator,
	"buzdolabi":       Refrigerator,
	"washingmachine":  WashingMachine,
	"washer":          WashingMachine,
	"camasirmakinesi": WashingMachine,
	"camasirmakinasi": WashingMachine,
	"car":             Car,
	"araba":           Car,
	"otomobil":        Car,
	"motorcycle":      Motorcycle,
	"motorbike":       Motorcycle,
	"motosiklet":      Motorcycle,
	"generic":         Generic,
	"genel":           Generic,
}

var turkishFold = strings.NewReplacer(
	"ı", "i", "İ", "i", "ş", "s", "Ş", "s", "ğ", "g", "Ğ", "g",
	"ç", "c", "Ç", "c", "ö", "o", "Ö", "o", "ü", "u", "Ü", "u",
)

// ParseCategory resolves a caller supplied category name. Unknown names
// resolve to Generic.
func ParseCategory(s string) DeviceCategory {
	if c, ok := LookupCategory(s); ok {
		return c
	}
	return Generic
}

// LookupCategory reports whether s names a known category.
func LookupCategory(s string) (DeviceCategory, bool) {
	c, ok := categoryAliases[categoryKey(s)]
	return c, ok
}

func categoryKey(s string) string {
	s = turkishFold.Replace(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (c DeviceCategory) String() string {
	return string(c)
}

// DisplayName is the human readable category name used in diagnosis text.
func (c DeviceCategory) DisplayName() string {
	switch c {
	case Refrigerator:
		return "Refrigerator"
	case WashingMachine:
		return "Washing machine"
	case Car:
		return "Car"
	case Motorcycle:
		return "Motorcycle"
	default:
		return "Device"
	}
}

// Severity is an ordinal urgency color attached to a diagnosis.
type Severity int

// The zero value is unset so that a document missing a severity can be
// told apart from one that asks for green.
const (
	severityUnset Severity = iota
	SeverityGreen
	SeverityGray
	SeverityYellow
	SeverityOrange
	SeverityRed
)

var severityNames = [...]string{"green", "gray", "yellow", "orange", "red"}

// legacy color codes understood by existing mobile clients
var severityCodes = [...]string{"YESIL", "GRI", "SARI", "TURUNCU", "KIRMIZI"}

// Valid reports whether s is one of the five colors.
func (s Severity) Valid() bool {
	return s >= SeverityGreen && s <= SeverityRed
}

func (s Severity) String() string {
	if s == severityUnset {
		return "unset"
	}
	if !s.Valid() {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s-SeverityGreen]
}

// Code returns the legacy wire color code.
func (s Severity) Code() string {
	if !s.Valid() {
		return SeverityGray.Code()
	}
	return severityCodes[s-SeverityGreen]
}

func ParseSeverity(v string) (Severity, error) {
	v = strings.TrimSpace(v)
	for i := range severityNames {
		if strings.EqualFold(v, severityNames[i]) || strings.EqualFold(v, severityCodes[i]) {
			return SeverityGreen + Severity(i), nil
		}
	}
	if strings.EqualFold(v, "grey") {
		return SeverityGray, nil
	}
	return SeverityGray, fmt.Errorf("unknown severity %q", v)
}

// MarshalText encodes an unset severity as the empty string.
func (s Severity) MarshalText() ([]byte, error) {
	if s == severityUnset {
		return []byte{}, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	if len(bytes.TrimSpace(text)) == 0 {
		*s = severityUnset
		return nil
	}
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalYAML() (any, error) {
	text, err := s.MarshalText()
	return string(text), err
}

func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	return s.UnmarshalText([]byte(node.Value))
}

// Cause is one advisory explanation for a fault with an authored weight.
type Cause struct {
	Description string `json:"description" yaml:"description"`
	Probability int    `json:"probability" yaml:"probability"`
}

type Diagnosis struct {
	Title    string   `json:"title" yaml:"title"`
	Detail   string   `json:"detail" yaml:"detail"`
	Severity Severity `json:"severity" yaml:"severity"`
	Causes   []Cause  `json:"causes,omitempty" yaml:"causes,omitempty"`
}

// Job is one complete diagnosis request received from a queue.
type Job struct {
	ID       string         `json:"id"`
	Category DeviceCategory `json:"category"`
	Features FeatureVector  `json:"features"`
	Source   string         `json:"source,omitempty"`
}

// Report is the outcome of analysing one recording.
type Report struct {
	ID        string         `json:"id"`
	Category  DeviceCategory `json:"category"`
	Features  FeatureVector  `json:"features"`
	Diagnosis Diagnosis      `json:"diagnosis"`
	Waveform  []float64      `json:"waveform"`
}
