package models

// Alert keys surfaced to operators.
const (
	AlertManualTask = "manual_task"
	AlertFailedJobs = "failed_jobs"
)

// Alert is a best-effort operational counter.
type Alert struct {
	Key   string `json:"key"`
	Route string `json:"route"`
	Level string `json:"level"`
	Count int64  `json:"count"`
}
