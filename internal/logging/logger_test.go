package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "test-service",
		JSONFormat:  true,
		Output:      buf,
	})

	log.With(F("job_id", "abc")).Info("stage finished", F("stage", "dedupe"), F("kept", 3), Err(errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "stage finished", entry["message"])
	assert.Equal(t, "test-service", entry["service_name"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.Equal(t, "dedupe", entry["stage"])
	assert.Equal(t, float64(3), entry["kept"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_LevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelWarn, JSONFormat: true, Output: buf})

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNop(t *testing.T) {
	log := Nop()
	log.With(F("a", 1)).Error("nothing")
}
