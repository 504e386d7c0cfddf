package ledger

import (
	"testing"
	"time"
)

func TestRunValidate(t *testing.T) {
	valid := Run{
		ID:        "0b8f8f3a-0000-0000-0000-000000000000",
		Trigger:   TriggerSync,
		Status:    StatusSucceeded,
		StartedAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(r *Run)
	}{
		{"missing id", func(r *Run) { r.ID = " " }},
		{"bad trigger", func(r *Run) { r.Trigger = "manual" }},
		{"bad status", func(r *Run) { r.Status = "pending" }},
		{"zero started_at", func(r *Run) { r.StartedAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := valid
			tc.mutate(&run)
			if err := run.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNewPostgresRecorderRequiresDB(t *testing.T) {
	if _, err := NewPostgresRecorder(nil); err == nil {
		t.Fatalf("expected error for nil database")
	}
}
