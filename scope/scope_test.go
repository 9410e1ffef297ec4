package scope_test

import (
	"context"
	"testing"

	"github.com/hyunkyoun/moira/scope"
)

func TestAllows(t *testing.T) {
	ctx := context.Background()
	if !scope.Allows(ctx, "alice") {
		t.Error("context without owner should be trusted")
	}

	ctx = scope.WithOwner(ctx, "alice")
	if got, ok := scope.Owner(ctx); !ok || got != "alice" {
		t.Errorf("Owner = %q, %v; want alice, true", got, ok)
	}
	if !scope.Allows(ctx, "alice") {
		t.Error("owner should see own job")
	}
	if scope.Allows(ctx, "bob") {
		t.Error("owner should not see another owner's job")
	}
}

func TestWithOwnerEmpty(t *testing.T) {
	ctx := scope.WithOwner(context.Background(), "")
	if _, ok := scope.Owner(ctx); ok {
		t.Error("empty owner should not be attached")
	}
}
