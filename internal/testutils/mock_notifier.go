package testutils

import (
	"context"
	"sync"

	"github.com/srg/doorbell20/internal/webhook"
	"github.com/stretchr/testify/mock"
)

// TriggerCall records one MockNotifier.Trigger invocation.
type TriggerCall struct {
	Event  string
	Values webhook.Values
}

// MockNotifier is a testify mock of the webhook dispatcher. Return values
// come from expectations; Triggered keeps the ordered call log.
type MockNotifier struct {
	mock.Mock

	mu    sync.Mutex
	calls []TriggerCall
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// ExpectAny answers every Trigger call with status and err.
func (n *MockNotifier) ExpectAny(status int, err error) *MockNotifier {
	n.On("Trigger", mock.Anything, mock.Anything, mock.Anything).Return(status, err)
	return n
}

func (n *MockNotifier) Trigger(ctx context.Context, event string, values webhook.Values) (int, error) {
	n.mu.Lock()
	n.calls = append(n.calls, TriggerCall{Event: event, Values: values})
	n.mu.Unlock()

	args := n.Called(ctx, event, values)
	return args.Int(0), args.Error(1)
}

// Triggered returns the calls made so far, in order.
func (n *MockNotifier) Triggered() []TriggerCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TriggerCall(nil), n.calls...)
}

// TriggeredEvent returns the calls made for event, in order.
func (n *MockNotifier) TriggeredEvent(event string) []TriggerCall {
	var out []TriggerCall
	for _, c := range n.Triggered() {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}
