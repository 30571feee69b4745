package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrite_WithoutRequestContext(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Error(nil, "sync_replay_failed", errors.New("connection refused"), map[string]any{"component": "syncer", "op_id": "abc"})

	line := buf.String()
	i := strings.IndexByte(line, '{')
	require.GreaterOrEqual(t, i, 0, "no JSON in %q", line)

	var e entry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line[i:])), &e))
	require.Equal(t, "error", e.Level)
	require.Equal(t, "syncer", e.Component)
	require.Equal(t, "sync_replay_failed", e.Action)
	require.Equal(t, "connection refused", e.Err)
	require.Equal(t, "abc", e.Fields["op_id"])
	require.Empty(t, e.Path)
}
