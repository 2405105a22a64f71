package auth

import (
	"context"
	"testing"
)

func TestCallerContextRoundTrip(t *testing.T) {
	caller := CallerContext{UserID: "u-1", Identity: "ana@example.com", Role: RoleAnalyst, Method: "token"}
	ctx := ContextWithCaller(context.Background(), caller)

	got, ok := CallerFromContext(ctx)
	if !ok || got != caller {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatal("empty context resolved a caller")
	}
}
