package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
)

// JSONLSink appends events to <dir>/<run_id>.jsonl
type JSONLSink struct {
	dir    string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewJSONLSink creates a sink writing under dir
func NewJSONLSink(dir string, logger *logging.Logger) *JSONLSink {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &JSONLSink{dir: dir, logger: logger}
}

// Path returns the log file of a run
func (s *JSONLSink) Path(runID string) string {
	return filepath.Join(s.dir, runID+".jsonl")
}

// Emit appends e. Write failures are logged and otherwise ignored.
func (s *JSONLSink) Emit(e Event) {
	if err := s.Append(e); err != nil {
		s.logger.Warn("event log append failed", "type", e.Type, "error", err)
	}
}

// Append writes e as one JSON line
func (s *JSONLSink) Append(e Event) (err error) {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(e.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = f.Write(append(data, '\n'))
	return err
}

// Read returns every event logged for a run, oldest first
func (s *JSONLSink) Read(runID string) ([]Event, error) {
	f, err := os.Open(s.Path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s line %d: %w", s.Path(runID), line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
