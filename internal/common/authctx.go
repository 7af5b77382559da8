package common

import (
	"context"
	"slices"
)

// Principal is the authenticated caller of an admin route.
type Principal struct {
	Subject string
	Roles   []string
}

// Has reports whether the principal carries role.
func (p Principal) Has(role string) bool {
	return slices.Contains(p.Roles, role)
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Subject != ""
}

// Actor names the caller for audit log lines, "anonymous" when unauthenticated.
func Actor(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Subject
	}
	return "anonymous"
}
