package decision

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/danielpatrickdp/learner-state/internal/policy"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "dec.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeDecision(id string, at time.Time, ruleID *string) *Decision {
	return &Decision{
		DecisionID:   id,
		Org:          "org-a",
		Learner:      "learner-1",
		DecisionType: policy.DecisionObserve,
		DecidedAt:    at,
		Context:      map[string]any{"source": "test"},
		Trace: Trace{
			StateID:       "org-a:learner-1:v1",
			StateVersion:  1,
			PolicyVersion: "builtin-1",
			MatchedRuleID: ruleID,
		},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rule := "rule-reinforce"

	if err := s.Insert(ctx, makeDecision("d1", at, &rule)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "org-a", "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.DecidedAt.Equal(at) {
		t.Errorf("decided_at: got %v, want %v", got.DecidedAt, at)
	}
	if got.Trace.MatchedRuleID == nil || *got.Trace.MatchedRuleID != "rule-reinforce" {
		t.Errorf("matched rule: %v", got.Trace.MatchedRuleID)
	}
	if got.Context["source"] != "test" {
		t.Errorf("context: %v", got.Context)
	}

	// A default decision stores NULL and reads back nil.
	if err := s.Insert(ctx, makeDecision("d2", at, nil)); err != nil {
		t.Fatalf("Insert d2: %v", err)
	}
	got2, err := s.Get(ctx, "org-a", "d2")
	if err != nil {
		t.Fatalf("Get d2: %v", err)
	}
	if got2.Trace.MatchedRuleID != nil {
		t.Errorf("matched rule should be nil: %v", *got2.Trace.MatchedRuleID)
	}
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	if err := s.Insert(ctx, makeDecision("d1", at, nil)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, makeDecision("d1", at.Add(time.Hour), nil))
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestGetUnknownDecision(t *testing.T) {
	s := tempStore(t)

	_, err := s.Get(context.Background(), "org-a", "ghost")
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListOrdersByDecidedAt(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of time order.
	s.Insert(ctx, makeDecision("d3", base.Add(2*time.Minute), nil))
	s.Insert(ctx, makeDecision("d1", base, nil))
	s.Insert(ctx, makeDecision("d2", base.Add(time.Minute), nil))

	got, token, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if token != "" {
		t.Errorf("unexpected next token %q", token)
	}
	ids := listIDs(got)
	if ids != "d1,d2,d3" {
		t.Errorf("order: got %s", ids)
	}
}

func TestListPagination(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		s.Insert(ctx, makeDecision(id, base.Add(time.Duration(i)*time.Second), nil))
	}

	var all []string
	q := Query{Org: "org-a", Learner: "learner-1", PageSize: 2}
	pages := 0
	for {
		got, token, err := s.List(ctx, q)
		if err != nil {
			t.Fatalf("List page %d: %v", pages, err)
		}
		pages++
		for _, d := range got {
			all = append(all, d.DecisionID)
		}
		if token == "" {
			break
		}
		q.PageToken = token
	}

	if pages != 3 {
		t.Errorf("pages: got %d, want 3", pages)
	}
	if strings.Join(all, ",") != "d1,d2,d3,d4,d5" {
		t.Errorf("paged union: %v", all)
	}
}

func TestListStableAcrossInserts(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		s.Insert(ctx, makeDecision(id, base.Add(time.Duration(i)*time.Second), nil))
	}

	page1, token, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1", PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listIDs(page1) != "d1,d2" || token == "" {
		t.Fatalf("page1: %s token=%q", listIDs(page1), token)
	}

	// A row inserted mid-pagination lands after the cursor and shows up on a
	// later page; rows already returned never reappear.
	s.Insert(ctx, makeDecision("d4", base.Add(3*time.Second), nil))

	page2, token2, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1", PageSize: 2, PageToken: token})
	if err != nil {
		t.Fatalf("List page2: %v", err)
	}
	if listIDs(page2) != "d3,d4" {
		t.Errorf("page2: %s", listIDs(page2))
	}
	if token2 != "" {
		t.Errorf("page2 token: %q", token2)
	}
}

func TestListTieBreakOnSameTimestamp(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Insert(ctx, makeDecision("first", at, nil))
	s.Insert(ctx, makeDecision("second", at, nil))

	page1, token, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1", PageSize: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1) != 1 || page1[0].DecisionID != "first" || token == "" {
		t.Fatalf("page1: %v token=%q", listIDs(page1), token)
	}

	page2, token2, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1", PageSize: 1, PageToken: token})
	if err != nil {
		t.Fatalf("List page2: %v", err)
	}
	if len(page2) != 1 || page2[0].DecisionID != "second" {
		t.Errorf("page2: %v", listIDs(page2))
	}
	if token2 != "" {
		t.Errorf("page2 token: %q", token2)
	}
}

func TestListTimeWindow(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		s.Insert(ctx, makeDecision(id, base.Add(time.Duration(i)*time.Minute), nil))
	}

	// From is inclusive, To exclusive.
	got, _, err := s.List(ctx, Query{
		Org: "org-a", Learner: "learner-1",
		From: base.Add(time.Minute),
		To:   base.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listIDs(got) != "d2" {
		t.Errorf("window: got %s", listIDs(got))
	}
}

func TestListTokenRejectedAcrossFilters(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		s.Insert(ctx, makeDecision(id, base.Add(time.Duration(i)*time.Second), nil))
	}

	_, token, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1", PageSize: 1})
	if err != nil || token == "" {
		t.Fatalf("first page: token=%q err=%v", token, err)
	}

	_, _, err = s.List(ctx, Query{
		Org: "org-a", Learner: "learner-1", PageSize: 1, PageToken: token,
		From: base.Add(time.Second),
	})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION for filter change, got %v", err)
	}
}

func TestListBadTokens(t *testing.T) {
	s := tempStore(t)

	for _, tok := range []string{"v2.abc", "not-a-token", "v1.%%%%"} {
		_, _, err := s.List(context.Background(), Query{
			Org: "org-a", Learner: "learner-1", PageToken: tok,
		})
		if !apperr.Is(err, apperr.CodeValidation) {
			t.Errorf("token %q: expected VALIDATION, got %v", tok, err)
		}
	}
}

func TestListScopesByLearner(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	mine := makeDecision("mine", at, nil)
	s.Insert(ctx, mine)
	other := makeDecision("other", at, nil)
	other.Learner = "learner-2"
	s.Insert(ctx, other)

	got, _, err := s.List(ctx, Query{Org: "org-a", Learner: "learner-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listIDs(got) != "mine" {
		t.Errorf("scoping: got %s", listIDs(got))
	}
}

func TestListEmpty(t *testing.T) {
	s := tempStore(t)

	got, token, err := s.List(context.Background(), Query{Org: "org-a", Learner: "learner-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 || token != "" {
		t.Errorf("empty listing: %v token=%q", got, token)
	}
}

func listIDs(ds []Decision) string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.DecisionID
	}
	return strings.Join(ids, ",")
}
