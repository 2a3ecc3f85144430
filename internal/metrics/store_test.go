package metrics

import (
	"testing"

	"soundfault/internal/model"
)

func TestRecordAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Record(model.Car, model.SeverityRed)
	s.Record(model.Car, model.SeverityRed)
	s.Record(model.Car, model.SeverityGreen)
	s.Record(model.Refrigerator, model.SeverityGray)

	car, ok := s.Get(model.Car)
	if !ok || car.Total != 3 || car.BySeverity["red"] != 2 || car.BySeverity["green"] != 1 {
		t.Fatalf("unexpected car tally: %+v", car)
	}
	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(snap))
	}
	snap[model.Car].BySeverity["red"] = 100
	if again, _ := s.Get(model.Car); again.BySeverity["red"] != 2 {
		t.Fatalf("snapshot shares state with store")
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Record(model.Generic, model.SeverityOrange)
	before := s.Since()
	s.Clear()
	if _, ok := s.Get(model.Generic); ok {
		t.Fatalf("expected empty store after clear")
	}
	if s.Since().Before(before) {
		t.Fatalf("clear should reset the start time")
	}
}

func TestNilStoreRecordIsNoop(t *testing.T) {
	var s *Store
	s.Record(model.Car, model.SeverityRed)
}
