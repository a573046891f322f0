package domain

import (
	"sort"
	"time"
)

// ValidatorResult is the latest verdict of one validator for one task
type ValidatorResult struct {
	Validator  string          `json:"validator"`
	Status     ValidatorStatus `json:"status"`
	Summary    string          `json:"summary,omitempty"`
	ReportPath string          `json:"report_path,omitempty"`
	Trigger    string          `json:"trigger,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// HumanReview records why a task was escalated
type HumanReview struct {
	Validator string `json:"validator,omitempty"`
	Reason    string `json:"reason"`
	Summary   string `json:"summary,omitempty"`
}

// TaskState is the per-run state of a task. Mutate only through the
// transition methods on RunState.
type TaskState struct {
	Status           TaskStatus        `json:"status"`
	Attempts         int               `json:"attempts"`
	Workspace        string            `json:"workspace,omitempty"`
	Branch           string            `json:"branch,omitempty"`
	ContainerID      string            `json:"container_id,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	HumanReview      *HumanReview      `json:"human_review,omitempty"`
	ValidatorResults []ValidatorResult `json:"validator_results,omitempty"`
	Usage            Usage             `json:"usage"`
}

// ValidatorResult returns the stored result for validator, if any
func (t *TaskState) ValidatorResult(validator string) (ValidatorResult, bool) {
	for _, r := range t.ValidatorResults {
		if r.Validator == validator {
			return r, true
		}
	}
	return ValidatorResult{}, false
}

// CanaryResult is the outcome of the doctor canary protocol
type CanaryResult struct {
	Status   CanaryStatus `json:"status"`
	ExitCode int          `json:"exit_code,omitempty"`
	Output   string       `json:"output,omitempty"`
	EnvVar   string       `json:"env_var,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// SkippedCanary builds a skipped canary result
func SkippedCanary(reason string) CanaryResult {
	return CanaryResult{Status: CanarySkipped, Reason: reason}
}

// CanarySummary is the persisted form of a CanaryResult (output dropped)
type CanarySummary struct {
	Status   CanaryStatus `json:"status"`
	ExitCode int          `json:"exit_code,omitempty"`
	EnvVar   string       `json:"env_var,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Summary strips the captured output
func (c CanaryResult) Summary() *CanarySummary {
	return &CanarySummary{Status: c.Status, ExitCode: c.ExitCode, EnvVar: c.EnvVar, Reason: c.Reason}
}

// BatchRecord is written once when a batch finishes
type BatchRecord struct {
	BatchID                 int            `json:"batch_id"`
	Tasks                   []TaskID       `json:"tasks"`
	Status                  BatchStatus    `json:"status"`
	MergeCommit             string         `json:"merge_commit,omitempty"`
	IntegrationDoctorPassed *bool          `json:"integration_doctor_passed,omitempty"`
	Canary                  *CanarySummary `json:"canary,omitempty"`
	CompletedAt             time.Time      `json:"completed_at"`
}

// ControlPlaneState holds the scope-enforcement settings fixed at run start
type ControlPlaneState struct {
	Enabled bool   `json:"enabled"`
	BaseSHA string `json:"base_sha,omitempty"`
}

// ScopeViolations counts compliance findings by severity
type ScopeViolations struct {
	WarnCount  int `json:"warn_count"`
	BlockCount int `json:"block_count"`
}

// RunMetrics aggregates counters across batches
type RunMetrics struct {
	ScopeViolations ScopeViolations `json:"scope_violations"`
	Rescopes        int             `json:"rescopes"`
	MergeConflicts  int             `json:"merge_conflicts"`
}

// DoctorCadence tracks when the periodic doctor validator last ran
type DoctorCadence struct {
	LastFinishedCount int `json:"last_finished_count"`
}

// ValidatorsState is run-level validator bookkeeping
type ValidatorsState struct {
	DoctorCadence DoctorCadence `json:"doctor_cadence"`
}

// RunState is the single-owner aggregate for one run. It is not safe for
// concurrent use; one driver goroutine per run owns it.
type RunState struct {
	RunID        string                `json:"run_id"`
	Project      string                `json:"project"`
	RepoPath     string                `json:"repo_path"`
	MainBranch   string                `json:"main_branch"`
	Status       RunStatus             `json:"status"`
	Tasks        map[TaskID]*TaskState `json:"tasks"`
	Batches      []BatchRecord         `json:"batches,omitempty"`
	ControlPlane ControlPlaneState     `json:"control_plane"`
	Usage        Usage                 `json:"usage"`
	Metrics      RunMetrics            `json:"metrics"`
	Validators   ValidatorsState       `json:"validators"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewRunState creates an empty running state
func NewRunState(runID, project, repoPath, mainBranch string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		RunID:      runID,
		Project:    project,
		RepoPath:   repoPath,
		MainBranch: mainBranch,
		Status:     RunRunning,
		Tasks:      make(map[TaskID]*TaskState),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EnsureTask returns the state for id, creating a pending entry if needed
func (s *RunState) EnsureTask(id TaskID) *TaskState {
	if s.Tasks == nil {
		s.Tasks = make(map[TaskID]*TaskState)
	}
	ts, ok := s.Tasks[id]
	if !ok {
		ts = &TaskState{Status: StatusPending}
		s.Tasks[id] = ts
	}
	return ts
}

// Task returns the state for id, or nil
func (s *RunState) Task(id TaskID) *TaskState {
	return s.Tasks[id]
}

// TaskIDsWithStatus returns the sorted ids of tasks whose status is one of statuses
func (s *RunState) TaskIDsWithStatus(statuses ...TaskStatus) []TaskID {
	want := make(map[TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var ids []TaskID
	for id, ts := range s.Tasks {
		if want[ts.Status] {
			ids = append(ids, id)
		}
	}
	return SortTaskIDs(ids)
}

// CompletedTaskIDs returns the set of tasks that finished successfully so far
func (s *RunState) CompletedTaskIDs() map[TaskID]bool {
	return toSet(s.TaskIDsWithStatus(StatusComplete, StatusValidated, StatusSkipped))
}

// FailedTaskIDs returns the set of tasks that finished unsuccessfully so far
func (s *RunState) FailedTaskIDs() map[TaskID]bool {
	return toSet(s.TaskIDsWithStatus(StatusFailed, StatusNeedsHumanReview, StatusNeedsRescope))
}

// FinishedCount is the number of completed plus failed tasks
func (s *RunState) FinishedCount() int {
	return len(s.CompletedTaskIDs()) + len(s.FailedTaskIDs())
}

// HasBatch reports whether a record for batchID exists
func (s *RunState) HasBatch(batchID int) bool {
	for _, b := range s.Batches {
		if b.BatchID == batchID {
			return true
		}
	}
	return false
}

// LastBatch returns the most recently completed batch record, if any
func (s *RunState) LastBatch() *BatchRecord {
	if len(s.Batches) == 0 {
		return nil
	}
	return &s.Batches[len(s.Batches)-1]
}

// StatusCounts returns the number of tasks per status, sorted by status name
func (s *RunState) StatusCounts() []StatusCount {
	counts := make(map[TaskStatus]int)
	for _, ts := range s.Tasks {
		counts[ts.Status]++
	}
	out := make([]StatusCount, 0, len(counts))
	for st, n := range counts {
		out = append(out, StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

// StatusCount pairs a status with a task count
type StatusCount struct {
	Status TaskStatus
	Count  int
}

func toSet(ids []TaskID) map[TaskID]bool {
	set := make(map[TaskID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ValidatorBlock names a validator that stops a task from being validated
type ValidatorBlock struct {
	Validator string `json:"validator"`
	Trigger   string `json:"trigger,omitempty"`
	Reason    string `json:"reason"`
}

// ValidationOutcome is what a validation run produced for one task or, for
// the doctor validator, for the whole integration
type ValidationOutcome struct {
	Results []ValidatorResult
	Blocked []ValidatorBlock
}

// IsBlocked reports whether any validator blocked
func (o ValidationOutcome) IsBlocked() bool {
	return len(o.Blocked) > 0
}
