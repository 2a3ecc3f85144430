package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soundfault/internal/model"
	"soundfault/internal/rules"
)

func TestRuleManagerFileReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, rules.DefaultBytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	eng := newEngineForTest()
	m := NewRuleManager(rules.NewFileSource(path), eng, nil)

	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("same rules should not change the registry: %v %v", changed, err)
	}

	doc := rules.Default()
	doc.SilenceThreshold = 0.6
	if _, err := m.Replace(ctx, doc); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if d := eng.Diagnose(model.FeatureVector{RMSMean: 0.5}, model.Car); d.Severity != model.SeverityGray {
		t.Fatalf("new silence threshold not applied: %s", d.Severity)
	}

	// a broken file keeps the current rules
	if err := os.WriteFile(path, []byte("rulesets: [}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("expected reload error")
	}
	if eng.Registry().SilenceThreshold() != 0.6 {
		t.Fatalf("failed reload must keep current rules")
	}
}

func TestRuleManagerEmbeddedIsReadOnly(t *testing.T) {
	m := NewRuleManager(nil, newEngineForTest(), nil)
	if _, err := m.Replace(context.Background(), rules.Default()); !errors.Is(err, rules.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestRuleManagerRejectsInvalidDocument(t *testing.T) {
	m := NewRuleManager(nil, newEngineForTest(), nil)
	doc := rules.Default()
	doc.RuleSets = doc.RuleSets[:1]
	if _, err := m.Replace(context.Background(), doc); err == nil || errors.Is(err, rules.ErrReadOnly) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRuleManagerWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, rules.DefaultBytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	eng := newEngineForTest()
	m := NewRuleManager(rules.NewFileSource(path), eng, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, 20*time.Millisecond)

	doc := rules.Default()
	doc.Version = 99
	if err := rules.NewFileSource(path).Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Registry().Version() == 99 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watch did not reload rules")
}
