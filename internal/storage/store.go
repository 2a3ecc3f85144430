package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"soundfault/internal/config"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/rules"
)

// Store persists rule document revisions and verdict tallies. It never
// holds diagnoses or recordings.
type Store interface {
	rules.RevisionStore
	Init(ctx context.Context) error
	Close() error
	SaveTallies(ctx context.Context, tallies map[model.DeviceCategory]metrics.Tally) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	// placeholder renders the n-th bind parameter for the driver.
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveRuleRevision(ctx context.Context, body []byte, fingerprint string) error {
	if b.db == nil {
		return errors.New("storage not initialized")
	}
	if len(body) == 0 {
		return errors.New("empty rule revision")
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO rule_revisions (created_at, fingerprint, body)
		VALUES (`+b.placeholder(1)+`, `+b.placeholder(2)+`, `+b.placeholder(3)+`)`,
		nowUTC(),
		fingerprint,
		string(body),
	)
	return err
}

func (b *baseStore) LatestRuleRevision(ctx context.Context) ([]byte, error) {
	if b.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM rule_revisions ORDER BY id DESC LIMIT 1`,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rules.ErrNoRevision
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (b *baseStore) SaveTallies(ctx context.Context, tallies map[model.DeviceCategory]metrics.Tally) error {
	if b.db == nil || len(tallies) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verdict_tallies (ts, category, total, by_severity)
		VALUES (`+b.placeholder(1)+`, `+b.placeholder(2)+`, `+b.placeholder(3)+`, `+b.placeholder(4)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	ts := nowUTC()
	for category, tally := range tallies {
		if _, err := stmt.ExecContext(ctx, ts, string(category), tally.Total, encodeJSON(tally.BySeverity)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
