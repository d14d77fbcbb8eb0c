package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		"WARN":   zerolog.WarnLevel,
		" error": zerolog.ErrorLevel,
		"":       zerolog.InfoLevel,
		"loud":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewJSONComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(Config{Level: "info", Format: "json", Writer: &buf}), "chat")

	l.Debug().Msg("hidden")
	l.Info().Str("event", "sendMessage").Msg("handled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chat", line["component"])
	assert.Equal(t, "sendMessage", line["event"])
	assert.Equal(t, "handled", line["message"])
	assert.Contains(t, line, "time")
}
