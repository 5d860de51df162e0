package convlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := New(Config{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	require.NoError(t, err)

	logger.Log(Event{
		Mode:       "two-chairs",
		SessionID:  "sess-1",
		Direction:  DirectionOutbound,
		EventType:  EventUserMessage,
		Role:       "self",
		ContentRaw: "  I   tried\x1b[0m today ",
	})
	logger.Log(Event{Mode: "two-chairs", SessionID: "sess-1", Direction: DirectionInbound, EventType: EventAwaitMore})
	require.NoError(t, logger.Close())

	lines := readLines(t, SessionPath(dir, "two-chairs", "sess-1"))
	require.Len(t, lines, 2)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "I tried today", got.Content)
	assert.Equal(t, "self", got.Role)
	assert.NotEmpty(t, got.Timestamp)

	assert.Len(t, readLines(t, global), 2)
}

func TestLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, logger)
	logger.Log(Event{SessionID: "x"})
	assert.NoError(t, logger.Close())
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Enabled: true, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	assert.NotPanics(t, func() { logger.Log(Event{SessionID: "late"}) })
	assert.NoError(t, logger.Close())
}

func TestSessionPathSanitizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("d", "two-chairs", "a_b.ndjson"), SessionPath("d", "two-chairs", "a/b"))
	assert.Equal(t, filepath.Join("d", "default", unknownSession+".ndjson"), SessionPath("d", "", ""))
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("\x1b[31merror\x1b[0m plain\r\n\r\n  next ")
	assert.NotContains(t, clean, "\x1b[31m")
	assert.Equal(t, "error plain\nnext", clean)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
