package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, false)
	l.Debug("hidden")
	l.Info("shown", "chunks", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "chunks=3")

	buf.Reset()
	New(&buf, true, false).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, true).Warn("store artifacts missing", "dir", "/x")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "/x", rec["dir"])
}
