package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "info", Output: &buf}).With("chat_id", "c1")

	l.Debug("hidden")
	l.Warn("send queue full", "conn_id", "conn-1", "error", errors.New("full"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "send queue full", line["message"])
	assert.Equal(t, "conn-1", line["conn_id"])
	assert.Equal(t, "full", line["error"])
	assert.Equal(t, "c1", line["chat_id"])
}

func TestLogger_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "nonsense", Output: &buf})

	l.Debug("dropped")
	assert.Zero(t, buf.Len())

	l.Info("kept")
	assert.Contains(t, buf.String(), "kept")
}
