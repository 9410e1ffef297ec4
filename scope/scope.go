// Package scope carries the caller's owner identity through
// context.Context.
//
// The HTTP layer captures the owner from the trusted identity header and
// attaches it with [WithOwner]. Engine read operations compare it against
// the job's OwnerID. The step middleware restores the job's owner into
// the step context so units and hooks see who the job belongs to.
package scope

import "context"

type ownerKey struct{}

// WithOwner attaches an owner id to ctx. An empty owner returns ctx
// unchanged.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// Owner returns the owner id attached to ctx.
func Owner(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ownerKey{}).(string)
	return v, ok && v != ""
}

// Allows reports whether the caller in ctx may see a job owned by
// ownerID. A context without an owner is trusted (in-process callers).
func Allows(ctx context.Context, ownerID string) bool {
	caller, ok := Owner(ctx)
	return !ok || caller == ownerID
}
