package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriserin/ftplan/internal/logging"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.NewWithWriter(logging.Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info("plan built")
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "plan built", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "ts")
}

func TestNew_ConsoleDefaults(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.NewWithWriter(logging.Config{}, &buf)
	require.NoError(t, err)

	log.Warn("step not resolved")
	assert.Contains(t, buf.String(), "step not resolved")
	assert.Contains(t, buf.String(), "warn")
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := logging.NewWithWriter(logging.Config{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "logging.level")

	_, err = logging.NewWithWriter(logging.Config{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "logging.format")
}

func TestNewObserved(t *testing.T) {
	log, logs := logging.NewObserved()
	log.Debug("feature compiled")
	assert.Equal(t, 1, logs.FilterMessage("feature compiled").Len())
}
