package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"soundfault/internal/rules"
)

// RuleManager loads rule documents from a source into an engine.
type RuleManager struct {
	mu     sync.Mutex
	source rules.Source
	engine *Engine
	logger *slog.Logger
}

func NewRuleManager(source rules.Source, eng *Engine, logger *slog.Logger) *RuleManager {
	if source == nil {
		source = rules.EmbeddedSource()
	}
	return &RuleManager{source: source, engine: eng, logger: logger}
}

func (m *RuleManager) SourceName() string {
	return m.source.Name()
}

func (m *RuleManager) Registry() *rules.Registry {
	return m.engine.Registry()
}

// Reload reads the source and swaps the registry when its content changed.
// On error the current rules stay in place.
func (m *RuleManager) Reload(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.source.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load rules from %s: %w", m.source.Name(), err)
	}
	reg, err := rules.NewRegistry(doc)
	if err != nil {
		return false, fmt.Errorf("build registry: %w", err)
	}
	return m.engine.UpdateRules(reg), nil
}

// Replace validates doc, persists it to the source and then swaps it in.
// Read-only sources return rules.ErrReadOnly.
func (m *RuleManager) Replace(ctx context.Context, doc *rules.Document) (*rules.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := rules.NewRegistry(doc)
	if err != nil {
		return nil, err
	}
	if err := m.source.Save(ctx, reg.Document()); err != nil {
		return nil, err
	}
	m.engine.UpdateRules(reg)
	return reg, nil
}

// Watch reloads on every tick until ctx is done.
func (m *RuleManager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.Reload(ctx); err != nil && m.logger != nil && ctx.Err() == nil {
				m.logger.Warn("rules reload failed, keeping current rules", "source", m.source.Name(), "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
