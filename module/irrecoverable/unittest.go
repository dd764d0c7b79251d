package irrecoverable

import (
	"context"
	"testing"
)

// MockSignalerContext is a SignalerContext for tests of components that are
// not expected to throw: any thrown error fails the test.
type MockSignalerContext struct {
	context.Context
	tb testing.TB
}

var _ SignalerContext = (*MockSignalerContext)(nil)

func (m *MockSignalerContext) sealed() {}

func (m *MockSignalerContext) Throw(err error) {
	m.tb.Fatalf("unexpected irrecoverable error: %v", err)
}

func NewMockSignalerContext(tb testing.TB, ctx context.Context) *MockSignalerContext {
	return &MockSignalerContext{Context: ctx, tb: tb}
}
