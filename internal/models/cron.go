package models

import "time"

// CronState is the lifecycle of one scheduled execution slot.
type CronState string

const (
	CronPending    CronState = "pending"
	CronProcessing CronState = "processing"
	CronSuccess    CronState = "success"
	CronError      CronState = "error"
)

// Constraint sentinels. Uniqueness over (state, constraint_key) allows one
// pending and one processing row; terminal rows use their own id.
const (
	ConstraintPending    int64 = 0
	ConstraintProcessing int64 = -1
)

// CronClaim is a row of the single-flight claim table.
type CronClaim struct {
	ID            int64      `json:"id"`
	SecurityToken string     `json:"security_token"`
	State         CronState  `json:"state"`
	ConstraintKey int64      `json:"constraint_key"`
	DateScheduled time.Time  `json:"date_scheduled"`
	DateStarted   *time.Time `json:"date_started,omitempty"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}
