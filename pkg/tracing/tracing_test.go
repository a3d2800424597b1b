package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestStartStage_NoOpProviderDoesNotPanic(t *testing.T) {
	ctx, finish := StartStage(context.Background(), "pkg-42", "validate")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	finish(nil)
}

func TestStartStage_RecordsErrorWithoutPanic(t *testing.T) {
	_, finish := StartStage(context.Background(), "pkg-42", "extract")
	finish(errors.New("boom"))
}
