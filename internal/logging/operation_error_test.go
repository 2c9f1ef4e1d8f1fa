package logging

import (
	"context"
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("repository.upsert", "req-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapContextCarriesRequestID(t *testing.T) {
	base := errors.New("disk full")
	ctx := ContextWithRequestID(context.Background(), "req-42")

	err := WrapContext(ctx, "repository.upsert", base)

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.RequestID != "req-42" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "repository.upsert (request_id=req-42): disk full" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestRequestIDFromBackgroundContext(t *testing.T) {
	if id := RequestIDFromContext(context.Background()); id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}
