// Package artifact obtains raw bytes for named array artifacts from an
// ordered list of sources.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
	"github.com/darkmatter-labs/darkmatter-go/internal/npy"
)

// Attempt records one failed source lookup.
type Attempt struct {
	Source string
	Err    error
}

// ResolveError means every source failed. It keeps every attempt so no
// underlying cause is silently preferred over another.
type ResolveError struct {
	Artifact string
	Attempts []Attempt
}

func (e *ResolveError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Source, a.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Artifact, strings.Join(parts, "; "))
}

func (e *ResolveError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Resolver tries each source in order and returns the first success. One
// attempt per source, no retries, and no write-back of remote results to
// disk: the local file stays the authority on freshness.
type Resolver struct {
	logger  *slog.Logger
	sources []Source
}

func NewResolver(logger *slog.Logger, sources ...Source) (*Resolver, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	return &Resolver{logger: logger, sources: sources}, nil
}

func (r *Resolver) Resolve(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("artifact name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("artifact name must not contain path separators: %q", name)
	}

	attempts := make([]Attempt, 0, len(r.sources))
	for _, source := range r.sources {
		body, err := source.Fetch(ctx, name)
		if err == nil {
			r.logger.Debug("artifact resolved", "artifact", name, "source", source.Name(), "bytes", len(body))
			return body, nil
		}
		r.logger.Debug("artifact source failed", "artifact", name, "source", source.Name(), "error", err)
		attempts = append(attempts, Attempt{Source: source.Name(), Err: err})
	}
	return nil, &ResolveError{Artifact: name, Attempts: attempts}
}

// ResolveField resolves and decodes in one step. Decode failures propagate
// unchanged; a source holding a corrupt artifact is not papered over by
// falling through to the next one.
func (r *Resolver) ResolveField(ctx context.Context, name string) (domain.Field, error) {
	body, err := r.Resolve(ctx, name)
	if err != nil {
		return domain.Field{}, err
	}
	return npy.Decode(body)
}
