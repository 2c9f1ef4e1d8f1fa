package courier

import (
	"context"
	"fmt"
	"time"
)

// Payload is the delivery history a courier reports for a phone.
type Payload struct {
	Phone     string    `json:"phone"`
	Courier   string    `json:"courier"`
	Delivered int64     `json:"delivered"`
	Returned  int64     `json:"returned"`
	Cancelled int64     `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Adapter abstracts a courier integration so providers can be swapped in tests.
// Fetch receives a normalized phone. A nil payload with a nil error means the
// courier has no history for the phone.
type Adapter interface {
	Fetch(ctx context.Context, phone string) (*Payload, error)
}

// AdapterFunc lets ordinary functions act as adapters.
type AdapterFunc func(ctx context.Context, phone string) (*Payload, error)

// Fetch calls f.
func (f AdapterFunc) Fetch(ctx context.Context, phone string) (*Payload, error) {
	return f(ctx, phone)
}

// AdapterError reports a failure of a single provider.
type AdapterError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("courier %s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
