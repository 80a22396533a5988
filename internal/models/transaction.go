package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionState mirrors the gateway's transaction states.
type TransactionState string

const (
	TxPending    TransactionState = "PENDING"
	TxAuthorized TransactionState = "AUTHORIZED"
	TxCompleted  TransactionState = "COMPLETED"
	TxFulfill    TransactionState = "FULFILL"
	TxDecline    TransactionState = "DECLINE"
	TxVoided     TransactionState = "VOIDED"
	TxFailed     TransactionState = "FAILED"
)

// TransactionInfo is the locally stored copy of a remote payment transaction.
// Its row is the target of the per-transaction lock.
type TransactionInfo struct {
	SpaceID             int64            `json:"space_id"`
	TransactionID       int64            `json:"transaction_id"`
	OrderID             int64            `json:"order_id"`
	State               TransactionState `json:"state"`
	Currency            string           `json:"currency"`
	AuthorizationAmount decimal.Decimal  `json:"authorization_amount"`
	FailureReason       FailureReason    `json:"failure_reason,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}
