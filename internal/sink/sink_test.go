package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/schema"
)

func TestJSONSink_StdoutSuccessPayload(t *testing.T) {
	runID := uuid.New()
	s := NewJSON("-", false, runID, "firefox", zap.NewNop())

	var buf bytes.Buffer
	s.SetStdout(&buf)

	s.Record([]schema.Record{{"title": "hello"}})
	require.NoError(t, s.Flush())

	var got Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, runID, got.RunID)
	assert.Equal(t, StatusOK, got.Status)
	assert.Equal(t, "firefox", got.Engine)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "hello", got.Records[0]["title"])
	assert.Nil(t, got.Failure)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestJSONSink_FailurePayload(t *testing.T) {
	s := NewJSON("-", false, uuid.New(), "cdp", zap.NewNop())

	var buf bytes.Buffer
	s.SetStdout(&buf)

	s.RecordFailure(KindNavigation, errors.New("connection refused"), 3)
	require.NoError(t, s.Flush())

	var got Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, StatusError, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, KindNavigation, got.Failure.Kind)
	assert.Equal(t, "connection refused", got.Failure.Message)
	assert.Equal(t, 3, got.Failure.Attempts)
	assert.Empty(t, got.Records)
}

func TestJSONSink_FirstOutcomeWins(t *testing.T) {
	s := NewJSON("-", false, uuid.New(), "firefox", zap.NewNop())
	var buf bytes.Buffer
	s.SetStdout(&buf)

	s.RecordFailure(KindEngineLaunch, errors.New("binary missing"), 1)
	s.Record([]schema.Record{{"title": "late"}})

	require.NoError(t, s.Flush())

	res := s.Result()
	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, res.Records)
}

func TestJSONSink_FlushIsExactlyOnce(t *testing.T) {
	s := NewJSON("-", false, uuid.New(), "firefox", zap.NewNop())
	var buf bytes.Buffer
	s.SetStdout(&buf)

	s.Record(nil)
	require.NoError(t, s.Flush())
	first := buf.Len()

	require.NoError(t, s.Flush())
	assert.Equal(t, first, buf.Len(), "second flush must not write again")
}

func TestJSONSink_FlushWithoutOutcomeFails(t *testing.T) {
	s := NewJSON("-", false, uuid.New(), "firefox", zap.NewNop())
	assert.Error(t, s.Flush())
}

func TestJSONSink_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	s := NewJSON(path, true, uuid.New(), "chromium", zap.NewNop())

	s.Record([]schema.Record{{"k": "v"}})
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, StatusOK, got.Status)
	assert.Contains(t, string(data), "\n  ", "pretty output is indented")
}

func TestJSONSink_UnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "deeper", "result.json")
	s := NewJSON(path, false, uuid.New(), "firefox", zap.NewNop())

	s.Record(nil)
	err := s.Flush()
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, path, writeErr.Path)
}

func TestJSONSink_ResultReturnsCopy(t *testing.T) {
	s := NewJSON("-", false, uuid.New(), "firefox", zap.NewNop())
	s.Record(nil)

	a := s.Result()
	a.Status = StatusError
	assert.Equal(t, StatusOK, s.Result().Status)
}
