package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bark-labs/webpush-relay/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestJSONOutputWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(config.LogConfig{Level: "info"}, &buf), "push")
	l.Debug().Msg("hidden")
	l.Info().Str("endpoint", "e1").Msg("sent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "push", entry["component"])
	assert.Equal(t, "sent", entry["message"])
	assert.Equal(t, "e1", entry["endpoint"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, &buf)
	l.Warn().Msg("to both")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
