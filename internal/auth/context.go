package auth

import "context"

type identityKey struct{}

// WithIdentity binds the authenticated principal to the context. The
// transport middleware sets it once per request; everything downstream
// reads it through IdentityFrom.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the principal bound to the context, or nil when
// the request is anonymous.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
