package domain

import (
	"fmt"
	"regexp"
	"sort"
)

var taskIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// TaskID uniquely identifies a task within a project
type TaskID string

// ParseTaskID validates s and returns it as a TaskID
func ParseTaskID(s string) (TaskID, error) {
	if !taskIDRegex.MatchString(s) {
		return "", fmt.Errorf("invalid task ID format: %q", s)
	}
	return TaskID(s), nil
}

// String returns the canonical string representation
func (t TaskID) String() string {
	return string(t)
}

// SortTaskIDs sorts ids in place and returns them
func SortTaskIDs(ids []TaskID) []TaskID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Scope lists the component locks or files a task declares
type Scope struct {
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
}

// TaskManifest is the machine-readable contract of a task (manifest.json)
type TaskManifest struct {
	ID          TaskID   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	DependsOn   []TaskID `json:"depends_on,omitempty"`
	Locks       Scope    `json:"locks"`
	Files       Scope    `json:"files"`
	Rescopes    int      `json:"rescopes,omitempty"`
}

// TaskSpec is a task as found in the task layout tree
type TaskSpec struct {
	Manifest TaskManifest
	Title    string
	Stage    TaskStage
	DirName  string // directory name under the stage directory
	Dir      string // absolute task directory
}

// ID returns the manifest task id
func (s *TaskSpec) ID() TaskID {
	return s.Manifest.ID
}

// Usage captures the spend reported by a worker for one task attempt
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens returns the sum of input and output tokens
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of u and o
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// TaskResult is what a worker reports when a task attempt finishes
type TaskResult struct {
	TaskID         TaskID `json:"task_id"`
	Success        bool   `json:"success"`
	ResetToPending bool   `json:"reset_to_pending,omitempty"`
	ErrorMessage   string `json:"error,omitempty"`
	Workspace      string `json:"workspace,omitempty"`
	Branch         string `json:"branch,omitempty"`
	ContainerID    string `json:"container_id,omitempty"`
	Usage          Usage  `json:"usage"`
}
