// Package store provides a SQLite-backed ledger of usage samples.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/claude-usage-tracker/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Retention is how long samples are kept.
const Retention = 30 * 24 * time.Hour

// Sample is one successful usage reading.
type Sample struct {
	FetchedAt        time.Time `json:"fetchedAt"`
	Session          float64   `json:"session"`
	Weekly           float64   `json:"weekly"`
	Sonnet           float64   `json:"sonnet"`
	Opus             float64   `json:"opus"`
	ExtraUsed        *float64  `json:"extraUsed,omitempty"`
	SubscriptionType string    `json:"subscriptionType"`
}

// SampleFromSnapshot converts a successful snapshot taken at t.
func SampleFromSnapshot(snap model.Snapshot, t time.Time) Sample {
	s := Sample{
		FetchedAt:        t,
		Session:          snap.Session.Used,
		Weekly:           snap.Weekly.Used,
		Sonnet:           snap.Sonnet.Used,
		Opus:             snap.Opus.Used,
		SubscriptionType: snap.SubscriptionType,
	}
	if snap.Extra != nil {
		used := snap.Extra.Used
		s.ExtraUsed = &used
	}
	return s
}

// SampleLog stores samples in SQLite.
type SampleLog struct {
	db *sql.DB
}

// Open opens or creates the sample database at the given path.
func Open(dbPath string) (*SampleLog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("opening sample db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restricting sample db: %w", err)
	}

	return &SampleLog{db: db}, nil
}

// Close closes the sample database.
func (l *SampleLog) Close() error {
	return l.db.Close()
}

// RecordSample appends s.
func (l *SampleLog) RecordSample(ctx context.Context, s Sample) error {
	var extra sql.NullFloat64
	if s.ExtraUsed != nil {
		extra = sql.NullFloat64{Float64: *s.ExtraUsed, Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO samples
		(fetched_at, session, weekly, sonnet, opus, extra_used, subscription_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.FetchedAt.UnixMilli(), s.Session, s.Weekly, s.Sonnet, s.Opus, extra, s.SubscriptionType,
	)
	if err != nil {
		return fmt.Errorf("recording sample: %w", err)
	}
	return nil
}

// Samples returns samples taken at or after since, oldest first.
func (l *SampleLog) Samples(ctx context.Context, since time.Time) ([]Sample, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT
		fetched_at, session, weekly, sonnet, opus, extra_used, subscription_type
		FROM samples WHERE fetched_at >= ? ORDER BY fetched_at, rowid`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Sample
	for rows.Next() {
		var (
			s     Sample
			ms    int64
			extra sql.NullFloat64
		)
		if err := rows.Scan(&ms, &s.Session, &s.Weekly, &s.Sonnet, &s.Opus, &extra, &s.SubscriptionType); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.FetchedAt = time.UnixMilli(ms)
		if extra.Valid {
			v := extra.Float64
			s.ExtraUsed = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes samples taken before t and returns how many were removed.
func (l *SampleLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM samples WHERE fetched_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning samples: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored samples.
func (l *SampleLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting samples: %w", err)
	}
	return n, nil
}
