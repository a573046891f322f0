package batch

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

const stopFileName = "stop"

// StopFile is the operator stop signal of a run: a file at
// <stateDir>/runs/<runID>/stop. While it exists, finalization keeps
// workspaces and containers so the run can be resumed.
type StopFile struct {
	stateDir string
}

// NewStopFile creates a StopFile under stateDir
func NewStopFile(stateDir string) *StopFile {
	return &StopFile{stateDir: stateDir}
}

// Path returns the stop file of a run
func (s *StopFile) Path(runID string) string {
	return filepath.Join(s.stateDir, "runs", runID, stopFileName)
}

// StopRequested reports whether a stop is pending for runID
func (s *StopFile) StopRequested(runID string) bool {
	_, err := os.Stat(s.Path(runID))
	return err == nil
}

// Request creates the stop file
func (s *StopFile) Request(runID string) error {
	path := s.Path(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}

// Clear removes the stop file. Clearing a run that was not stopped is not an error.
func (s *StopFile) Clear(runID string) error {
	err := os.Remove(s.Path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
