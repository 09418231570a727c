package pagination

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -4: DefaultLimit, 10: 10, 1000: MaxLimit}
	for in, want := range cases {
		require.Equal(t, want, NormalizeLimit(in), "limit %d", in)
	}
	require.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC), ID: uuid.New()}
	encoded := EncodeCursor(c)
	require.Equal(t, encoded, url.QueryEscape(encoded), "cursor must not need escaping")

	parsed, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.True(t, parsed.CreatedAt.Equal(c.CreatedAt))
	require.Equal(t, c.ID, parsed.ID)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestSeqCursor(t *testing.T) {
	seq, err := ParseSeqCursor(EncodeSeqCursor(42))
	require.NoError(t, err)
	require.EqualValues(t, 42, seq)

	seq, err = ParseSeqCursor("")
	require.NoError(t, err)
	require.Zero(t, seq)

	_, err = ParseSeqCursor(EncodeCursor(Cursor{ID: uuid.New()}))
	require.Error(t, err, "time cursor is not a sequence cursor")

	_, err = ParseSeqCursor(EncodeSeqCursor(-3))
	require.Error(t, err)
}

func TestParseCursorRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"%%%", strings.Repeat("A", MaxCursorLength+1), encode("ts", "yesterday|nope")} {
		_, err := ParseCursor(raw)
		require.Error(t, err, raw)
	}
}
