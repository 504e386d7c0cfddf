package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// stderr tails are diagnostics, not archives.
const maxStderrTail = 4096

// PostgresRecorder appends runs to the inference_runs table:
//
//	CREATE TABLE inference_runs (
//	    run_id      uuid PRIMARY KEY,
//	    generation  bigint NOT NULL,
//	    trigger     text NOT NULL,
//	    status      text NOT NULL,
//	    exit_code   integer NOT NULL,
//	    stderr_tail text NOT NULL,
//	    started_at  timestamptz NOT NULL,
//	    duration_ms bigint NOT NULL
//	);
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) (*PostgresRecorder, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &PostgresRecorder{db: db}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, run Run) error {
	if r == nil || r.db == nil {
		return errors.New("postgres recorder not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}

	tail := run.StderrTail
	if len(tail) > maxStderrTail {
		tail = tail[len(tail)-maxStderrTail:]
	}

	insertCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(
		insertCtx,
		`INSERT INTO inference_runs (run_id, generation, trigger, status, exit_code, stderr_tail, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID,
		int64(run.Generation),
		run.Trigger,
		run.Status,
		run.ExitCode,
		tail,
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
