package inference

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
	"github.com/darkmatter-labs/darkmatter-go/internal/ledger"
)

// ErrNoInput is returned when no field has been submitted yet.
var ErrNoInput = errors.New("no input submitted")

// PrecomputeCache is a single-slot cache over the orchestrator, one per
// editing session. Submitting a new input bumps a generation counter; a
// background completion is stored only while its generation is still
// current, so a superseded input's result is never observable.
//
// States: Empty (no result, nothing in flight), Pending (background run in
// flight), Ready (result available for immediate consumption).
type PrecomputeCache struct {
	logger *slog.Logger
	runner Orchestrator

	mu          sync.Mutex
	generation  uint64
	input       domain.Field
	hasInput    bool
	result      *domain.Field
	pending     bool
	pendingDone chan struct{}
}

func NewPrecomputeCache(logger *slog.Logger, runner Orchestrator) (*PrecomputeCache, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if runner == nil {
		return nil, errors.New("orchestrator is required")
	}
	return &PrecomputeCache{logger: logger, runner: runner}, nil
}

// Submit registers a new input and resets the slot to Empty. Any run
// already in flight keeps running; its completion is dropped on arrival
// because its generation no longer matches.
func (c *PrecomputeCache) Submit(input domain.Field) error {
	if err := input.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.input = input
	c.hasInput = true
	c.result = nil
	c.pending = false
	c.pendingDone = nil
	return nil
}

// BeginPrecompute starts a background orchestration for the current input.
// A no-op when the slot is already Pending or Ready. A background failure
// resets the slot to Empty; it is logged, never stored, and never replayed
// to a later ConsumeOrTrigger.
func (c *PrecomputeCache) BeginPrecompute(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasInput {
		c.mu.Unlock()
		return ErrNoInput
	}
	if c.pending || c.result != nil {
		c.mu.Unlock()
		return nil
	}
	generation := c.generation
	input := c.input
	done := make(chan struct{})
	c.pending = true
	c.pendingDone = done
	c.mu.Unlock()

	// The run outlives the triggering request; only Submit invalidates it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		result, err := c.runner.RunTagged(runCtx, input, ledger.TriggerPrecompute, generation)

		c.mu.Lock()
		defer c.mu.Unlock()
		if generation != c.generation {
			c.logger.Debug("discarding superseded precompute result",
				"generation", generation, "current", c.generation)
			return
		}
		c.pending = false
		c.pendingDone = nil
		if err != nil {
			c.logger.Warn("background precompute failed", "generation", generation, "error", err)
			return
		}
		c.result = &result
	}()
	return nil
}

// ConsumeOrTrigger returns the precomputed result when the slot is Ready
// (the slot is retained, not cleared). When Pending it awaits the in-flight
// run instead of starting a second one against the same canonical paths.
// Otherwise it runs synchronously; that result is returned without being
// stored.
func (c *PrecomputeCache) ConsumeOrTrigger(ctx context.Context) (domain.Field, error) {
	for {
		c.mu.Lock()
		if !c.hasInput {
			c.mu.Unlock()
			return domain.Field{}, ErrNoInput
		}
		if c.result != nil {
			result := *c.result
			c.mu.Unlock()
			return result, nil
		}
		if c.pending {
			done := c.pendingDone
			c.mu.Unlock()
			select {
			case <-done:
				// Re-read the slot: Ready on success, Empty on failure or
				// supersession.
				continue
			case <-ctx.Done():
				return domain.Field{}, ctx.Err()
			}
		}
		generation := c.generation
		input := c.input
		c.mu.Unlock()
		return c.runner.RunTagged(ctx, input, ledger.TriggerSync, generation)
	}
}
