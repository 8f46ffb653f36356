// Package pipeline runs one fetch cycle: query usage, fold it into the
// history, record a sample and persist the snapshot for the widget.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/claude-usage-tracker/internal/atomicfile"
	"github.com/theirongolddev/claude-usage-tracker/internal/model"
	"github.com/theirongolddev/claude-usage-tracker/internal/store"
	"github.com/theirongolddev/claude-usage-tracker/internal/usage"
)

// Querier produces a snapshot for the credential held by src.
type Querier interface {
	Query(ctx context.Context, src usage.TokenSource) model.Snapshot
}

// History records and exports the daily peaks.
type History interface {
	Update(snap model.Snapshot) ([]model.DayBar, error)
	Display() []model.DayBar
}

// Warning reports a persistence step that failed. The snapshot itself is
// still valid.
type Warning struct {
	Op  string
	Err error
}

func (w Warning) Error() string { return w.Op + ": " + w.Err.Error() }

// Result is the outcome of one Run.
type Result struct {
	Snapshot model.Snapshot
	Warnings []Warning
}

// Pipeline wires the fetch cycle together. SamplesPath may be empty to
// disable the sample log.
type Pipeline struct {
	Client      Querier
	Credentials usage.TokenSource
	History     History
	CachePath   string
	SamplesPath string
	Log         *zap.Logger
	Now         func() time.Time
}

// Run performs one fetch cycle. It never fails: credential and API problems
// land in the snapshot's error field, persistence problems in Warnings.
func (p *Pipeline) Run(ctx context.Context) Result {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	var res Result
	warn := func(op string, err error) {
		res.Warnings = append(res.Warnings, Warning{Op: op, Err: err})
		log.Warn(op+" failed", zap.Error(err))
	}

	snap := p.Client.Query(ctx, p.Credentials)

	if snap.Failed() {
		// Keep the last known chart on screen.
		snap.DailyHistory = p.History.Display()
	} else {
		bars, err := p.History.Update(snap)
		if err != nil {
			warn("history update", err)
		}
		snap.DailyHistory = bars

		if p.SamplesPath != "" {
			if err := p.recordSample(ctx, snap); err != nil {
				warn("sample log", err)
			}
		}
	}

	if err := atomicfile.WriteJSON(p.CachePath, snap, 0o600); err != nil {
		warn("cache write", fmt.Errorf("writing %s: %w", p.CachePath, err))
	}

	log.Debug("fetch cycle complete",
		zap.Bool("failed", snap.Failed()),
		zap.String("subscription", snap.SubscriptionType),
		zap.Int("warnings", len(res.Warnings)),
	)
	res.Snapshot = snap
	return res
}

func (p *Pipeline) recordSample(ctx context.Context, snap model.Snapshot) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	l, err := store.Open(p.SamplesPath)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	t := now()
	if err := l.RecordSample(ctx, store.SampleFromSnapshot(snap, t)); err != nil {
		return err
	}
	if _, err := l.Prune(ctx, t.Add(-store.Retention)); err != nil {
		return err
	}
	return nil
}

// Emit writes snap to w as a single JSON line.
func Emit(w io.Writer, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}
