// File: internal/mocks/operator.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/receipt-harvester/internal/retry"
)

// -- Operator Mock --

// MockOperator mocks the operator console.
type MockOperator struct {
	mock.Mock

	mu       sync.Mutex
	notified []string
}

func (m *MockOperator) Interactive() bool {
	args := m.Called()
	return args.Bool(0)
}

// Notify is recorded, not asserted.
func (m *MockOperator) Notify(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, msg)
}

// Notifications returns every Notify message.
func (m *MockOperator) Notifications() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notified...)
}

func (m *MockOperator) Confirm(ctx context.Context, question string) (bool, error) {
	args := m.Called(ctx, question)
	return args.Bool(0), args.Error(1)
}

func (m *MockOperator) Ask(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func (m *MockOperator) AskInt(ctx context.Context, question string) (int, error) {
	args := m.Called(ctx, question)
	return args.Int(0), args.Error(1)
}

func (m *MockOperator) Acknowledge(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOperator) Escalate(ctx context.Context, e retry.Escalation) (retry.Decision, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(retry.Decision), args.Error(1)
}
