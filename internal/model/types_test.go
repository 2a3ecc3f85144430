package model

import (
	"encoding/json"
	"testing"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]DeviceCategory{
		"Refrigerator":     Refrigerator,
		"  fridge ":        Refrigerator,
		"Buzdolabı":        Refrigerator,
		"WashingMachine":   WashingMachine,
		"washing_machine":  WashingMachine,
		"Çamaşır Makinesi": WashingMachine,
		"Araba":            Car,
		"CAR":              Car,
		"Motosiklet":       Motorcycle,
		"Genel":            Generic,
		"UnknownDevice":    Generic,
		"":                 Generic,
	}
	for in, want := range cases {
		if got := ParseCategory(in); got != want {
			t.Fatalf("ParseCategory(%q) = %s, want %s", in, got, want)
		}
	}
	if _, ok := LookupCategory("toaster"); ok {
		t.Fatalf("toaster should not be a known category")
	}
}

func TestSeverityCodes(t *testing.T) {
	if SeverityGreen.Code() != "YESIL" || SeverityRed.Code() != "KIRMIZI" || SeverityGray.Code() != "GRI" {
		t.Fatalf("unexpected legacy codes")
	}
	for _, in := range []string{"orange", "TURUNCU", " Orange "} {
		s, err := ParseSeverity(in)
		if err != nil || s != SeverityOrange {
			t.Fatalf("ParseSeverity(%q) = %v, %v", in, s, err)
		}
	}
	if _, err := ParseSeverity("purple"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestDiagnosisJSONSeverity(t *testing.T) {
	d := Diagnosis{Title: "Drum imbalance", Severity: SeverityRed}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Diagnosis
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Severity != SeverityRed {
		t.Fatalf("severity: %s", back.Severity)
	}
	if err := json.Unmarshal([]byte(`{"severity":"blue"}`), &back); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestZeroSeverityIsUnset(t *testing.T) {
	var s Severity
	if s.Valid() || s == SeverityGreen {
		t.Fatalf("zero severity must not be green")
	}
	if s.Code() != "GRI" {
		t.Fatalf("unset severity should render as the neutral code, got %s", s.Code())
	}
	var d Diagnosis
	if err := json.Unmarshal([]byte(`{"title":"x","severity":""}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Severity.Valid() {
		t.Fatalf("empty severity should stay unset, got %s", d.Severity)
	}
	for _, want := range []Severity{SeverityGreen, SeverityGray, SeverityYellow, SeverityOrange, SeverityRed} {
		got, err := ParseSeverity(want.String())
		if err != nil || got != want {
			t.Fatalf("ParseSeverity(%q) = %v, %v", want.String(), got, err)
		}
	}
}
