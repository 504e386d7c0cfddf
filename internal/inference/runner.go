// Package inference orchestrates the external model process around the
// canonical input/output artifact pair, and coordinates background
// precompute against foreground runs.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
	"github.com/darkmatter-labs/darkmatter-go/internal/ledger"
	"github.com/darkmatter-labs/darkmatter-go/internal/npy"
	"github.com/google/uuid"
)

// ErrBusy is returned by TryRun while another orchestration holds the
// canonical paths.
var ErrBusy = errors.New("inference already in flight")

// ErrMissingOutput means the process exited 0 without writing the output
// artifact, violating its contract.
var ErrMissingOutput = errors.New("inference process wrote no output artifact")

// ProcessError is a non-zero exit from the model process.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("inference process exited %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// TimeoutError means the process was killed after running past the
// configured limit.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inference process killed after %s", e.Limit)
}

// Config describes the canonical paths and the model command. The model
// process is invoked with no extra arguments, reads InputFile and writes
// OutputFile inside WorkDir.
type Config struct {
	WorkDir    string
	InputFile  string
	OutputFile string
	Command    []string

	// Timeout of 0 means none: a hung model process hangs the call.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InputFile == "" {
		c.InputFile = "user_input.npy"
	}
	if c.OutputFile == "" {
		c.OutputFile = "output.npy"
	}
	if len(c.Command) == 0 {
		c.Command = []string{"python3", "run_model.py"}
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return errors.New("work dir is required")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	for _, part := range c.Command {
		if strings.TrimSpace(part) == "" {
			return errors.New("command must not contain empty parts")
		}
	}
	return nil
}

// Orchestrator is the single-flight inference entry point the precompute
// cache drives. *Runner is the production implementation.
type Orchestrator interface {
	RunTagged(ctx context.Context, input domain.Field, trigger string, generation uint64) (domain.Field, error)
}

// Runner owns the canonical path pair. The mutex serializes every run:
// the paths are shared state, and two concurrent processes would corrupt
// each other's input and output files.
type Runner struct {
	mu       sync.Mutex
	logger   *slog.Logger
	cfg      Config
	recorder ledger.Recorder
}

func NewRunner(logger *slog.Logger, cfg Config, recorder ledger.Recorder) (*Runner, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = ledger.NopRecorder{}
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Runner{logger: logger, cfg: cfg, recorder: recorder}, nil
}

// WorkDir returns the directory holding the canonical paths.
func (r *Runner) WorkDir() string { return r.cfg.WorkDir }

// Run executes one inference pass, queueing behind any run already in
// flight. A single attempt: it either fully succeeds or fails with a
// classified error, never a partial result.
func (r *Runner) Run(ctx context.Context, input domain.Field) (domain.Field, error) {
	return r.RunTagged(ctx, input, ledger.TriggerSync, 0)
}

// TryRun is the rejecting variant of Run: it fails with ErrBusy instead of
// waiting for the canonical paths.
func (r *Runner) TryRun(ctx context.Context, input domain.Field) (domain.Field, error) {
	if !r.mu.TryLock() {
		return domain.Field{}, ErrBusy
	}
	defer r.mu.Unlock()
	return r.locked(ctx, input, ledger.TriggerSync, 0)
}

// RunTagged is Run with the trigger and generation recorded to the ledger.
func (r *Runner) RunTagged(ctx context.Context, input domain.Field, trigger string, generation uint64) (domain.Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked(ctx, input, trigger, generation)
}

func (r *Runner) locked(ctx context.Context, input domain.Field, trigger string, generation uint64) (domain.Field, error) {
	if err := input.Validate(); err != nil {
		return domain.Field{}, err
	}

	runID := uuid.NewString()
	inputPath := filepath.Join(r.cfg.WorkDir, r.cfg.InputFile)
	outputPath := filepath.Join(r.cfg.WorkDir, r.cfg.OutputFile)

	if err := os.WriteFile(inputPath, npy.Encode(input), 0o644); err != nil {
		return domain.Field{}, fmt.Errorf("write input artifact: %w", err)
	}
	// Drop any previous output so a stale artifact can never be mistaken
	// for this run's result.
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Field{}, fmt.Errorf("clear output artifact: %w", err)
	}

	execCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.WorkDir
	// A killed interpreter can leave grandchildren holding the output pipes;
	// don't let them block Wait forever.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	// The model process narrates progress on stderr; surface it live.
	cmd.Stderr = io.MultiWriter(&stderr, &lineLogger{logger: r.logger, runID: runID})

	r.logger.Info("inference starting",
		"run_id", runID, "trigger", trigger, "generation", generation, "elements", len(input.Data))

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	record := func(status string, exitCode int) {
		run := ledger.Run{
			ID:         runID,
			Generation: generation,
			Trigger:    trigger,
			Status:     status,
			ExitCode:   exitCode,
			StderrTail: stderr.String(),
			StartedAt:  started,
			Duration:   duration,
		}
		// A canceled caller still gets its run recorded.
		if err := r.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
			r.logger.Warn("run ledger record failed", "run_id", runID, "error", err)
		}
	}

	if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		record(ledger.StatusFailed, -1)
		return domain.Field{}, &TimeoutError{Limit: r.cfg.Timeout}
	}
	if runErr != nil {
		// The process was killed because the caller went away, not because
		// the model failed; don't dress that up as a ProcessError.
		if ctx.Err() != nil {
			record(ledger.StatusFailed, -1)
			return domain.Field{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			record(ledger.StatusFailed, exitErr.ExitCode())
			return domain.Field{}, &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		record(ledger.StatusFailed, -1)
		return domain.Field{}, fmt.Errorf("run inference process: %w", runErr)
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		record(ledger.StatusFailed, 0)
		if errors.Is(err, os.ErrNotExist) {
			return domain.Field{}, ErrMissingOutput
		}
		return domain.Field{}, fmt.Errorf("read output artifact: %w", err)
	}
	output, err := npy.Decode(raw)
	if err != nil {
		record(ledger.StatusFailed, 0)
		return domain.Field{}, err
	}

	record(ledger.StatusSucceeded, 0)
	r.logger.Info("inference finished",
		"run_id", runID, "trigger", trigger, "generation", generation,
		"duration_ms", duration.Milliseconds(), "elements", len(output.Data))
	return output, nil
}

// lineLogger logs each complete stderr line at debug as it arrives.
type lineLogger struct {
	logger *slog.Logger
	runID  string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			l.buf.WriteString(line)
			break
		}
		if trimmed := strings.TrimRight(line, "\n"); trimmed != "" {
			l.logger.Debug("inference stderr", "run_id", l.runID, "line", trimmed)
		}
	}
	return len(p), nil
}
