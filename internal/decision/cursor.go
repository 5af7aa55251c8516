package decision

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// #region cursor

const tokenPrefix = "v1."

// cursor is the decoded form of a page token: resume strictly after the
// (DecidedAt, Seq) order key, valid only for the filter that minted it.
type cursor struct {
	DecidedAt  string `json:"decided_at"`
	Seq        int64  `json:"seq"`
	FilterHash string `json:"filter_hash"`
}

// encodeToken mints an opaque page token with a versioned prefix.
func encodeToken(c cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return tokenPrefix + base64.URLEncoding.EncodeToString(data), nil
}

// decodeToken rejects unknown prefixes and garbled bodies.
func decodeToken(token string) (cursor, error) {
	body, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return cursor{}, fmt.Errorf("unknown token version")
	}
	data, err := base64.URLEncoding.DecodeString(body)
	if err != nil {
		return cursor{}, fmt.Errorf("decode token: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return cursor{}, fmt.Errorf("unmarshal token: %w", err)
	}
	return c, nil
}

// hashFilter fingerprints the listing filters so a token replayed with
// different filters is refused instead of returning a misaligned page.
func hashFilter(q Query) string {
	canonical := fmt.Sprintf("org=%s&learner=%s&from=%s&to=%s",
		q.Org, q.Learner, canonicalTime(q.From), canonicalTime(q.To))
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:8])
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// #endregion cursor
