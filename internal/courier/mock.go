package courier

import (
	"context"
	"time"
)

// MockSlug identifies the synthetic provider.
const MockSlug = "mock"

// MockAdapter returns a fixed delivery history for any phone.
type MockAdapter struct {
	now func() time.Time
}

// NewMockAdapter constructs the synthetic provider.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{now: time.Now}
}

// Fetch implements Adapter.
func (m *MockAdapter) Fetch(ctx context.Context, phone string) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Payload{
		Phone:     phone,
		Courier:   MockSlug,
		Delivered: 3,
		Returned:  1,
		Cancelled: 0,
		UpdatedAt: m.now().UTC(),
	}, nil
}
