package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any cursor query can request.
	MaxLimit = 100
	// MaxCursorLength bounds the opaque cursor accepted from clients.
	MaxCursorLength = 128
)

var errCursorFormat = errors.New("invalid cursor format")

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor orders rows by creation time with the id as tie breaker.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// LimitWithBuffer fetches one extra row so callers can tell whether another
// page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Cursors are url-safe so they survive query strings without escaping.
func encode(kind, value string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(kind + "|" + value))
}

func decode(raw, kind string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, nil
	}
	if len(raw) > MaxCursorLength {
		return "", false, errCursorFormat
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", false, fmt.Errorf("decode cursor: %w", err)
	}
	prefix, value, ok := strings.Cut(string(decoded), "|")
	if !ok || prefix != kind {
		return "", false, errCursorFormat
	}
	return value, true, nil
}

func EncodeCursor(cursor Cursor) string {
	return encode("ts", cursor.CreatedAt.UTC().Format(time.RFC3339Nano)+"|"+cursor.ID.String())
}

// ParseCursor returns nil for an empty value.
func ParseCursor(value string) (*Cursor, error) {
	payload, ok, err := decode(value, "ts")
	if err != nil || !ok {
		return nil, err
	}
	ts, rawID, found := strings.Cut(payload, "|")
	if !found {
		return nil, errCursorFormat
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return &Cursor{CreatedAt: t, ID: id}, nil
}

// EncodeSeqCursor builds a cursor for sequence-ordered streams such as the
// ledger journal.
func EncodeSeqCursor(seq int64) string {
	return encode("seq", strconv.FormatInt(seq, 10))
}

// ParseSeqCursor yields zero for an empty value.
func ParseSeqCursor(value string) (int64, error) {
	payload, ok, err := decode(value, "seq")
	if err != nil || !ok {
		return 0, err
	}
	seq, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid cursor sequence")
	}
	return seq, nil
}
