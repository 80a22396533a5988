package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"payment-reconciler/internal/models"
)

// RefundTypeMerchantInitiatedOnline is the only refund type this service issues.
const RefundTypeMerchantInitiatedOnline = "MERCHANT_INITIATED_ONLINE"

// Client is the remote payment gateway. Methods return a *RejectionError when
// the gateway answered definitively with an error; any other error is a
// transport failure and says nothing about the remote state.
type Client interface {
	Capture(ctx context.Context, spaceID, transactionID int64) (Operation, error)
	Refund(ctx context.Context, spaceID int64, req RefundRequest) (Operation, error)
	Void(ctx context.Context, spaceID, transactionID int64) (Operation, error)
	CountOpenManualTasks(ctx context.Context, spaceID int64) (int64, error)
}

// Operation is the gateway's acknowledgement of a capture, refund or void.
// A non-empty FailureReason is a soft failure inside an accepted call.
type Operation struct {
	ID            int64
	FailureReason models.FailureReason
	Labels        models.Labels
	// Amount is only reported for refunds.
	Amount decimal.NullDecimal
}

// RefundRequest describes one refund attempt.
type RefundRequest struct {
	TransactionID int64
	ExternalID    string
	Type          string
	Reductions    models.Reductions
}
