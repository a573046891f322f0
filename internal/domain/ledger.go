package domain

import "time"

// LedgerEntry is the durable, per-project record of a completed task. It lets
// later runs recognise work that was already merged.
type LedgerEntry struct {
	Project                 string     `json:"project"`
	TaskID                  TaskID     `json:"task_id"`
	Status                  TaskStatus `json:"status"`
	Fingerprint             string     `json:"fingerprint"`
	MergeCommit             string     `json:"merge_commit"`
	IntegrationDoctorPassed bool       `json:"integration_doctor_passed"`
	CompletedAt             time.Time  `json:"completed_at"`
	RunID                   string     `json:"run_id"`
	Source                  string     `json:"source"`
}
