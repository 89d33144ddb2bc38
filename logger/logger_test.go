package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLogger_FieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info")

	log.Debug("hidden")
	assert.Empty(t, buf.String(), "debug is below the configured level")

	log.WithFields(map[string]any{"symbol": "SPY", "reason": "zero variance"}).Warn("dropping asset")
	entry := lastEntry(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "SPY", entry["symbol"])
	assert.Equal(t, "zero variance", entry["reason"])
	assert.Equal(t, "dropping asset", entry["message"])

	log.WithError(errors.New("boom")).Errorf("run %d failed", 7)
	entry = lastEntry(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "run 7 failed", entry["message"])
}

func TestLogger_Elapsed(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug").Elapsed("covariance", time.Now().Add(-time.Second))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "covariance", entry["step"])
	assert.Contains(t, entry["message"], "covariance took")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestNop_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { Nop().WithField("a", 1).Infof("x %d", 1) })
}
