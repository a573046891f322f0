package domain

// TaskStatus represents the lifecycle state of a task within a run
type TaskStatus string

const (
	StatusPending          TaskStatus = "pending"
	StatusRunning          TaskStatus = "running"
	StatusValidated        TaskStatus = "validated"
	StatusNeedsHumanReview TaskStatus = "needs_human_review"
	StatusNeedsRescope     TaskStatus = "needs_rescope"
	StatusRescopeRequired  TaskStatus = "rescope_required"
	StatusFailed           TaskStatus = "failed"
	StatusComplete         TaskStatus = "complete"
	StatusSkipped          TaskStatus = "skipped"
)

// IsBlocking reports whether the status keeps a batch from completing
func (s TaskStatus) IsBlocking() bool {
	switch s {
	case StatusFailed, StatusNeedsHumanReview, StatusNeedsRescope, StatusRescopeRequired, StatusPending:
		return true
	}
	return false
}

// RunStatus represents the state of a whole run
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunPaused   RunStatus = "paused"
	RunFailed   RunStatus = "failed"
	RunComplete RunStatus = "complete"
)

// BatchStatus is the final outcome of a batch
type BatchStatus string

const (
	BatchComplete BatchStatus = "complete"
	BatchFailed   BatchStatus = "failed"
)

// StopReason short-circuits the remaining merge and finalization phases of a batch.
// Merge conflicts are deliberately absent: they are always retried.
type StopReason string

const (
	StopNone                    StopReason = ""
	StopBudgetBlock             StopReason = "budget_block"
	StopIntegrationDoctorFailed StopReason = "integration_doctor_failed"
)

// ValidatorStatus is the verdict of a single validator run
type ValidatorStatus string

const (
	ValidatorPass    ValidatorStatus = "pass"
	ValidatorFail    ValidatorStatus = "fail"
	ValidatorError   ValidatorStatus = "error"
	ValidatorSkipped ValidatorStatus = "skipped"
)

// ValidatorDoctor is the name of the per-task human-review validator that
// re-checks the doctor command
const ValidatorDoctor = "doctor"

// CanaryStatus discriminates CanaryResult
type CanaryStatus string

const (
	CanarySkipped        CanaryStatus = "skipped"
	CanaryExpectedFail   CanaryStatus = "expected_fail"
	CanaryUnexpectedPass CanaryStatus = "unexpected_pass"
)

// FastForwardStatus discriminates FastForwardResult
type FastForwardStatus string

const (
	FastForwarded FastForwardStatus = "fast_forwarded"
	MainAdvanced  FastForwardStatus = "main_advanced"
	FFBlocked     FastForwardStatus = "blocked"
)

// TaskStage is the directory stage of a task in the task layout tree
type TaskStage string

const (
	StageActive  TaskStage = "active"
	StageArchive TaskStage = "archive"
	StageLegacy  TaskStage = "legacy"
)
