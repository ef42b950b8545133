package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetHandler(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(func() { SetHandler(slog.NewJSONHandler(os.Stderr, nil)) })
	return &buf
}

func TestErrorLine(t *testing.T) {
	buf := capture(t)
	New("api").Error(Fields{Step: "fulfill_inventory", OrderID: "o1"}, errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "fulfill_inventory", line["msg"])
	assert.Equal(t, "api", line["service"])
	assert.Equal(t, "o1", line["order_id"])
	assert.Equal(t, "error", line["status"])
	assert.Equal(t, "boom", line["error"])
	assert.NotContains(t, line, "event_id")
}

func TestNilLoggerStillLogs(t *testing.T) {
	buf := capture(t)
	var l *Logger
	l.Info(Fields{Step: "webhook", Status: "processed", DurationMS: 12})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "processed", line["status"])
	assert.Equal(t, float64(12), line["duration_ms"])
}
