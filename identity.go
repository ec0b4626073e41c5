package cloudauth

import "context"

// Identity is the authenticated caller of a subsystem operation. It is
// established by the embedding application's authentication middleware and
// carried through the request context; the subsystem itself never
// authenticates anyone.
type Identity struct {
	UserID   string
	TenantID string

	// Admin grants access to administrative operations: provider management
	// and the security metrics surface.
	Admin bool
}

type identityContextKey struct{}

// WithIdentity attaches the caller identity to a context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity, if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
