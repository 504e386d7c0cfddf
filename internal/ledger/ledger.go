// Package ledger records the history of inference runs. Recording is
// best-effort diagnostics: a recorder failure is logged by the caller and
// never fails the run itself.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	TriggerSync       = "sync"
	TriggerPrecompute = "precompute"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one inference attempt, successful or not.
type Run struct {
	ID         string
	Generation uint64
	Trigger    string
	Status     string
	ExitCode   int
	StderrTail string
	StartedAt  time.Time
	Duration   time.Duration
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if r.Trigger != TriggerSync && r.Trigger != TriggerPrecompute {
		return errors.New("trigger must be sync or precompute")
	}
	if r.Status != StatusSucceeded && r.Status != StatusFailed {
		return errors.New("status must be succeeded or failed")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}

type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// NopRecorder is used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Run) error { return nil }
