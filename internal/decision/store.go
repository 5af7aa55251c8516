package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id     TEXT NOT NULL,
	org             TEXT NOT NULL,
	learner         TEXT NOT NULL,
	decision_type   TEXT NOT NULL,
	decided_at      TEXT NOT NULL,
	context_json    TEXT NOT NULL,
	state_id        TEXT NOT NULL,
	state_version   INTEGER NOT NULL,
	policy_version  TEXT NOT NULL,
	matched_rule_id TEXT,
	UNIQUE (org, decision_id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_listing
	ON decisions (org, learner, decided_at, seq);
`

// decidedAtLayout pads nanoseconds so the stored strings sort in time order.
const decidedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// #endregion schema

// #region store

// Store is the append-only decision repository.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the decision store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// NewStoreWithDB wraps an existing connection, creating the schema on it.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion store

// #region insert

// Insert appends one decision. A (org, decision_id) uniqueness violation is
// a CONFLICT and is never retried; decisions are never overwritten.
func (s *Store) Insert(ctx context.Context, d *Decision) error {
	contextJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("marshal decision context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (decision_id, org, learner, decision_type, decided_at, context_json,
		                        state_id, state_version, policy_version, matched_rule_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DecisionID, d.Org, d.Learner, string(d.DecisionType),
		d.DecidedAt.UTC().Format(decidedAtLayout), string(contextJSON),
		d.Trace.StateID, d.Trace.StateVersion, d.Trace.PolicyVersion, d.Trace.MatchedRuleID,
	)
	if err != nil {
		if isConstraintError(err) {
			return apperr.New(apperr.CodeConflict, "decision_id",
				"decision %q already exists", d.DecisionID)
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// #endregion insert

// #region list

// List returns a page of decisions for (org, learner) ordered by
// (decided_at, seq) ascending. From is inclusive, To exclusive. The returned
// token resumes after the last row; empty means the listing is exhausted.
func (s *Store) List(ctx context.Context, q Query) ([]Decision, string, error) {
	size := q.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	filterHash := hashFilter(q)

	where := `org = ? AND learner = ?`
	args := []any{q.Org, q.Learner}
	if !q.From.IsZero() {
		where += ` AND decided_at >= ?`
		args = append(args, q.From.UTC().Format(decidedAtLayout))
	}
	if !q.To.IsZero() {
		where += ` AND decided_at < ?`
		args = append(args, q.To.UTC().Format(decidedAtLayout))
	}

	if q.PageToken != "" {
		c, err := decodeToken(q.PageToken)
		if err != nil {
			return nil, "", apperr.New(apperr.CodeValidation, "page_token", "invalid page token")
		}
		if c.FilterHash != filterHash {
			return nil, "", apperr.New(apperr.CodeValidation, "page_token",
				"page token does not match the listing filters")
		}
		where += ` AND (decided_at > ? OR (decided_at = ? AND seq > ?))`
		args = append(args, c.DecidedAt, c.DecidedAt, c.Seq)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, decision_id, org, learner, decision_type, decided_at, context_json,
		        state_id, state_version, policy_version, matched_rule_id
		 FROM decisions WHERE `+where+`
		 ORDER BY decided_at, seq
		 LIMIT ?`,
		append(args, size+1)...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var (
		decisions []Decision
		seqs      []int64
		ats       []string
	)
	for rows.Next() {
		d, seq, at, err := scanDecision(rows)
		if err != nil {
			return nil, "", err
		}
		decisions = append(decisions, *d)
		seqs = append(seqs, seq)
		ats = append(ats, at)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list decisions: %w", err)
	}

	if len(decisions) <= size {
		return decisions, "", nil
	}

	// Lookahead row exists, so there is a next page. The token points at the
	// last returned row.
	decisions = decisions[:size]
	token, err := encodeToken(cursor{DecidedAt: ats[size-1], Seq: seqs[size-1], FilterHash: filterHash})
	if err != nil {
		return nil, "", err
	}
	return decisions, token, nil
}

// #endregion list

// #region get

// Get looks up one decision by id within an org.
func (s *Store) Get(ctx context.Context, org, decisionID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, decision_id, org, learner, decision_type, decided_at, context_json,
		        state_id, state_version, policy_version, matched_rule_id
		 FROM decisions WHERE org = ? AND decision_id = ?`,
		org, decisionID,
	)

	d, _, _, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "decision_id",
			"unknown decision id %q", decisionID)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// #endregion get

// #region scan

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, int64, string, error) {
	var (
		d           Decision
		seq         int64
		decidedAt   string
		contextJSON string
		matched     sql.NullString
	)
	err := row.Scan(&seq, &d.DecisionID, &d.Org, &d.Learner, &d.DecisionType,
		&decidedAt, &contextJSON, &d.Trace.StateID, &d.Trace.StateVersion,
		&d.Trace.PolicyVersion, &matched)
	if err != nil {
		return nil, 0, "", err
	}

	d.DecidedAt, err = time.Parse(time.RFC3339Nano, decidedAt)
	if err != nil {
		return nil, 0, "", fmt.Errorf("parse decided_at: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
		return nil, 0, "", fmt.Errorf("unmarshal decision context: %w", err)
	}
	if matched.Valid {
		d.Trace.MatchedRuleID = &matched.String
	}
	return &d, seq, decidedAt, nil
}

// #endregion scan

// #region constraint-detection

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// #endregion constraint-detection
