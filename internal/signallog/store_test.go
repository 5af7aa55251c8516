package signallog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
)

func tempLog(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAcceptAndGet(t *testing.T) {
	s := tempLog(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sig, created, err := s.Accept(ctx, "org-a", "learner-1", "s1", "quiz_completed",
		map[string]any{"stabilityScore": 0.4}, at)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !created {
		t.Fatal("first accept should create")
	}
	if sig.ID != "s1" || sig.Learner != "learner-1" || sig.Type != "quiz_completed" {
		t.Fatalf("stored signal: %+v", sig)
	}
	if !sig.AcceptedAt.Equal(at) {
		t.Fatalf("accepted_at: got %v", sig.AcceptedAt)
	}

	got, err := s.Get(ctx, "org-a", "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload["stabilityScore"] != 0.4 {
		t.Fatalf("payload round-trip: %v", got.Payload)
	}
}

func TestAcceptReplayIsIdempotent(t *testing.T) {
	s := tempLog(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, _, err := s.Accept(ctx, "org-a", "learner-1", "s1", "quiz_completed",
		map[string]any{"v": 1.0}, at)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Replay with a different payload must not overwrite the original.
	replay, created, err := s.Accept(ctx, "org-a", "learner-1", "s1", "quiz_completed",
		map[string]any{"v": 999.0}, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("replay Accept: %v", err)
	}
	if created {
		t.Fatal("replay should not create")
	}
	if replay.Payload["v"] != 1.0 {
		t.Fatalf("replay overwrote payload: %v", replay.Payload)
	}
	if replay.Seq != first.Seq {
		t.Fatalf("replay seq: got %d, want %d", replay.Seq, first.Seq)
	}
}

func TestAcceptGeneratesID(t *testing.T) {
	s := tempLog(t)

	sig, created, err := s.Accept(context.Background(), "org-a", "learner-1", "", "hint_used", nil, time.Time{})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !created || sig.ID == "" {
		t.Fatalf("expected generated id, got %+v", sig)
	}
	if sig.Payload == nil || len(sig.Payload) != 0 {
		t.Fatalf("nil payload should store as empty object: %v", sig.Payload)
	}
	if sig.AcceptedAt.IsZero() {
		t.Fatal("zero accepted_at should default to now")
	}
}

func TestAcceptValidation(t *testing.T) {
	s := tempLog(t)

	_, _, err := s.Accept(context.Background(), "", "", "s1", "", nil, time.Time{})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
	flat := apperr.Flatten(err)
	if len(flat) != 3 {
		t.Fatalf("expected 3 field errors, got %d", len(flat))
	}
}

func TestGetByIDsOrdering(t *testing.T) {
	s := tempLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Inserted out of acceptance order; s3 and s2 share a timestamp so
	// insertion order breaks the tie.
	s.Accept(ctx, "org-a", "learner-1", "s3", "t", map[string]any{"n": 3.0}, base.Add(time.Minute))
	s.Accept(ctx, "org-a", "learner-1", "s1", "t", map[string]any{"n": 1.0}, base)
	s.Accept(ctx, "org-a", "learner-1", "s2", "t", map[string]any{"n": 2.0}, base.Add(time.Minute))

	got, err := s.GetByIDs(ctx, "org-a", []string{"s2", "s3", "s1"})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(got))
	}
	if got[0].ID != "s1" || got[1].ID != "s3" || got[2].ID != "s2" {
		t.Fatalf("order: got %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestGetByIDsUnknownID(t *testing.T) {
	s := tempLog(t)
	ctx := context.Background()

	s.Accept(ctx, "org-a", "learner-1", "s1", "t", nil, time.Time{})

	_, err := s.GetByIDs(ctx, "org-a", []string{"s1", "ghost"})
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetByIDsCrossOrg(t *testing.T) {
	s := tempLog(t)
	ctx := context.Background()

	s.Accept(ctx, "org-b", "learner-9", "foreign", "t", nil, time.Time{})

	_, err := s.GetByIDs(ctx, "org-a", []string{"foreign"})
	if !apperr.Is(err, apperr.CodeScope) {
		t.Fatalf("expected SCOPE, got %v", err)
	}
}

func TestGetUnknown(t *testing.T) {
	s := tempLog(t)

	_, err := s.Get(context.Background(), "org-a", "nope")
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
