package gateway

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrRejected matches every *RejectionError through errors.Is.
var ErrRejected = errors.New("gateway rejected the operation")

// RejectionError is a definitive refusal by the gateway.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejected (%d): %s", e.StatusCode, e.Message)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// IsRejection reports whether err carries a gateway rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// RejectionMessage returns the gateway's message for a rejection, or err's text otherwise.
func RejectionMessage(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return err.Error()
}
