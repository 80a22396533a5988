package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobKind identifies which money-movement operation a job represents.
type JobKind string

const (
	KindCompletion JobKind = "completion"
	KindRefund     JobKind = "refund"
	KindVoid       JobKind = "void"
)

// JobKinds lists every kind in a stable order.
var JobKinds = []JobKind{KindCompletion, KindRefund, KindVoid}

// Valid reports whether k is one of the known kinds.
func (k JobKind) Valid() bool {
	switch k {
	case KindCompletion, KindRefund, KindVoid:
		return true
	}
	return false
}

// JobState enumerates lifecycle states persisted for every job kind.
type JobState string

const (
	StateCreated     JobState = "CREATED"
	StateSent        JobState = "SENT"
	StateSuccess     JobState = "SUCCESS"
	StateFailedCheck JobState = "FAILED_CHECK"
	StateFailedDone  JobState = "FAILED_DONE"
)

// TerminalStates are excluded from running-job counts.
var TerminalStates = []JobState{StateSuccess, StateFailedCheck, StateFailedDone}

// Terminal reports whether the state no longer counts as running.
func (s JobState) Terminal() bool {
	for _, t := range TerminalStates {
		if s == t {
			return true
		}
	}
	return false
}

// Sendable reports whether a job in this state may be handed to the gateway.
func (s JobState) Sendable() bool {
	return s == StateCreated || s == StateFailedCheck
}

// Job is a durable record of one capture, refund or void intent and its outcome.
//
// Amount is used by completions and refunds; ExternalID, Restock and
// ReductionItems only by refunds. The store decides per kind which of
// these columns exist.
type Job struct {
	ID             int64               `json:"id"`
	Kind           JobKind             `json:"kind"`
	JobID          *int64              `json:"job_id,omitempty"`
	SpaceID        int64               `json:"space_id"`
	TransactionID  int64               `json:"transaction_id"`
	OrderID        int64               `json:"order_id"`
	State          JobState            `json:"state"`
	Labels         Labels              `json:"labels"`
	FailureReason  FailureReason       `json:"failure_reason,omitempty"`
	Amount         decimal.NullDecimal `json:"amount"`
	ExternalID     string              `json:"external_id,omitempty"`
	Restock        bool                `json:"restock,omitempty"`
	ReductionItems Reductions          `json:"reduction_items,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewJob seeds a CREATED job of the given kind from a transaction context.
func NewJob(kind JobKind, info TransactionInfo) *Job {
	return &Job{
		Kind:          kind,
		SpaceID:       info.SpaceID,
		TransactionID: info.TransactionID,
		OrderID:       info.OrderID,
		State:         StateCreated,
		Labels:        Labels{},
	}
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.JobID != nil {
		id := *j.JobID
		c.JobID = &id
	}
	c.Labels = append(Labels(nil), j.Labels...)
	if j.FailureReason != nil {
		c.FailureReason = make(FailureReason, len(j.FailureReason))
		for k, v := range j.FailureReason {
			c.FailureReason[k] = v
		}
	}
	c.ReductionItems = append(Reductions(nil), j.ReductionItems...)
	return &c
}
