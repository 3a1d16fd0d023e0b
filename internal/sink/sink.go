// Package sink owns the single Result a run produces and the only
// externally visible I/O besides the browser engine itself.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/schema"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Failure classification kinds reported in the error payload.
const (
	KindConfig       = "config"
	KindEngineLaunch = "engine_launch"
	KindSession      = "session"
	KindNavigation   = "navigation"
	KindExtraction   = "extraction"
	KindCanceled     = "canceled"
	KindSink         = "sink"
)

type Failure struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// Result is the one outcome a run hands to the outside world.
type Result struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     Status          `json:"status"`
	Engine     string          `json:"engine"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Records    []schema.Record `json:"records,omitempty"`
	Failure    *Failure        `json:"error,omitempty"`
}

// WriteError means the configured output target was unwritable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write result to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Sink normalizes a run outcome into a Result and flushes it exactly once.
type Sink interface {
	Record(records []schema.Record)
	RecordFailure(kind string, err error, attempts int)
	Flush() error
	Result() *Result
}

// JSONSink serializes the Result as JSON to stdout ("-") or a file.
type JSONSink struct {
	mu      sync.Mutex
	path    string
	pretty  bool
	stdout  io.Writer
	logger  *zap.Logger
	result  *Result
	flushed bool
}

func NewJSON(path string, pretty bool, runID uuid.UUID, engine string, logger *zap.Logger) *JSONSink {
	return &JSONSink{
		path:   path,
		pretty: pretty,
		stdout: os.Stdout,
		logger: logger,
		result: &Result{
			RunID:     runID,
			Engine:    engine,
			StartedAt: time.Now().UTC(),
		},
	}
}

// SetStdout redirects the stdout target; used by tests.
func (s *JSONSink) SetStdout(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout = w
}

func (s *JSONSink) Record(records []schema.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result.Status != "" {
		s.logger.Warn("run outcome recorded twice, keeping first",
			zap.String("status", string(s.result.Status)))
		return
	}
	s.result.Status = StatusOK
	s.result.Records = records
	s.result.FinishedAt = time.Now().UTC()
}

func (s *JSONSink) RecordFailure(kind string, err error, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result.Status != "" {
		s.logger.Warn("run outcome recorded twice, keeping first",
			zap.String("status", string(s.result.Status)))
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.result.Status = StatusError
	s.result.Failure = &Failure{Kind: kind, Message: msg, Attempts: attempts}
	s.result.FinishedAt = time.Now().UTC()
}

// Flush serializes the Result. A second Flush is a no-op so racing error
// reporters cannot double-emit.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flushed {
		s.logger.Warn("result already flushed")
		return nil
	}
	if s.result.Status == "" {
		return fmt.Errorf("flush before any outcome was recorded")
	}

	var (
		data []byte
		err  error
	)
	if s.pretty {
		data, err = json.MarshalIndent(s.result, "", "  ")
	} else {
		data, err = json.Marshal(s.result)
	}
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if s.path == "" || s.path == "-" {
		if _, err := s.stdout.Write(data); err != nil {
			return &WriteError{Path: "stdout", Err: err}
		}
	} else {
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return &WriteError{Path: s.path, Err: err}
		}
	}

	s.flushed = true
	s.logger.Info("result flushed",
		zap.String("status", string(s.result.Status)),
		zap.Int("records", len(s.result.Records)),
	)
	return nil
}

func (s *JSONSink) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.result
	return &cp
}
