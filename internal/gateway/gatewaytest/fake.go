// Package gatewaytest provides a scripted in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"payment-reconciler/internal/gateway"
)

// Call records one request made to the fake.
type Call struct {
	Method        string
	SpaceID       int64
	TransactionID int64
	Refund        gateway.RefundRequest
}

type result struct {
	op  gateway.Operation
	err error
}

// Fake answers calls from per-method queues. When a queue is empty it
// returns an operation with an incrementing id.
type Fake struct {
	mu          sync.Mutex
	nextID      int64
	queued      map[string][]result
	calls       []Call
	manualTasks int64
	manualErr   error
}

var _ gateway.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{nextID: 1000, queued: make(map[string][]result)}
}

// Queue scripts the next answer for method ("capture", "refund" or "void").
func (f *Fake) Queue(method string, op gateway.Operation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[method] = append(f.queued[method], result{op: op, err: err})
}

// Reject scripts a gateway rejection carrying msg.
func (f *Fake) Reject(method, msg string) {
	f.Queue(method, gateway.Operation{}, &gateway.RejectionError{StatusCode: 409, Message: msg})
}

// FailTransport scripts a transport failure.
func (f *Fake) FailTransport(method string) {
	f.Queue(method, gateway.Operation{}, errors.New("connection reset by peer"))
}

// SetManualTasks sets the answer of CountOpenManualTasks.
func (f *Fake) SetManualTasks(n int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manualTasks, f.manualErr = n, err
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts recorded calls of one method.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *Fake) Capture(_ context.Context, spaceID, transactionID int64) (gateway.Operation, error) {
	return f.answer(Call{Method: "capture", SpaceID: spaceID, TransactionID: transactionID})
}

func (f *Fake) Refund(_ context.Context, spaceID int64, req gateway.RefundRequest) (gateway.Operation, error) {
	return f.answer(Call{Method: "refund", SpaceID: spaceID, TransactionID: req.TransactionID, Refund: req})
}

func (f *Fake) Void(_ context.Context, spaceID, transactionID int64) (gateway.Operation, error) {
	return f.answer(Call{Method: "void", SpaceID: spaceID, TransactionID: transactionID})
}

func (f *Fake) CountOpenManualTasks(_ context.Context, spaceID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "manual_tasks", SpaceID: spaceID})
	return f.manualTasks, f.manualErr
}

func (f *Fake) answer(c Call) (gateway.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if q := f.queued[c.Method]; len(q) > 0 {
		f.queued[c.Method] = q[1:]
		return q[0].op, q[0].err
	}
	f.nextID++
	return gateway.Operation{ID: f.nextID}, nil
}
