package artifact

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingServer(t *testing.T, status int, body []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/simulations/run-1/npy" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveLocalTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	local := []byte("local artifact bytes")
	if err := os.WriteFile(filepath.Join(dir, "run-1.npy"), local, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var hits atomic.Int64
	srv := countingServer(t, http.StatusOK, []byte("remote artifact bytes"), &hits)

	resolver, err := NewResolver(testLogger(), LocalSource{Dir: dir}, NewRemoteSource(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := resolver.Resolve(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(local) {
		t.Fatalf("got %q, want local bytes", got)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no remote request, got %d", hits.Load())
	}
}

func TestResolveFallsBackToRemote(t *testing.T) {
	var hits atomic.Int64
	remote := []byte("remote artifact bytes")
	srv := countingServer(t, http.StatusOK, remote, &hits)

	resolver, err := NewResolver(testLogger(), LocalSource{Dir: t.TempDir()}, NewRemoteSource(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := resolver.Resolve(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(remote) {
		t.Fatalf("got %q, want remote bytes", got)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one remote request, got %d", hits.Load())
	}
}

func TestResolveTotalFailureCarriesAllCauses(t *testing.T) {
	var hits atomic.Int64
	srv := countingServer(t, http.StatusNotFound, nil, &hits)

	resolver, err := NewResolver(testLogger(), LocalSource{Dir: t.TempDir()}, NewRemoteSource(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), "run-1")
	var rerr *ResolveError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolveError, got %v", err)
	}
	if len(rerr.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(rerr.Attempts))
	}
	msg := err.Error()
	for _, want := range []string{"local:", "remote:", "404"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, rerr.Attempts[0].Err) || !errors.Is(err, rerr.Attempts[1].Err) {
		t.Fatalf("ResolveError must unwrap to every cause")
	}
}

func TestResolveRejectsBadNames(t *testing.T) {
	resolver, err := NewResolver(testLogger(), LocalSource{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"", "  ", "../etc/passwd", `a\b`} {
		if _, err := resolver.Resolve(context.Background(), name); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}
