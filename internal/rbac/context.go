package rbac

import "context"

type principalContextKey struct{}

type permissionsContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the authenticated principal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// ContextWithPermissions stores the evaluated permission set in ctx.
func ContextWithPermissions(ctx context.Context, set PermissionSet) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, set)
}

// PermissionsFromContext returns the set placed by the guard, or an empty set.
func PermissionsFromContext(ctx context.Context) PermissionSet {
	set, _ := ctx.Value(permissionsContextKey{}).(PermissionSet)
	return set
}
