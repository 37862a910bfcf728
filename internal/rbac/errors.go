package rbac

import (
	"fmt"
	"strings"

	"github.com/mscandco/platform/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrInvalidPermission indicates a permission string outside the grammar.
	ErrInvalidPermission = fmt.Errorf("rbac: invalid permission: %w", httpx.ErrValidation)
	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = fmt.Errorf("rbac: invalid role: %w", httpx.ErrValidation)
	// ErrUnauthenticated indicates the request carries no valid principal.
	ErrUnauthenticated = fmt.Errorf("rbac: no authenticated principal: %w", httpx.ErrUnauthorized)
)

// ForbiddenError reports an authenticated principal lacking permission. It
// carries the required permissions and the caller's role for diagnostics.
type ForbiddenError struct {
	Required []string
	Role     Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("rbac: role %q lacks %s", e.Role, strings.Join(e.Required, " or "))
}

// Unwrap lets errors.Is(err, httpx.ErrForbidden) match.
func (e *ForbiddenError) Unwrap() error {
	return httpx.ErrForbidden
}

// ProblemFields exposes the diagnostics in problem responses.
func (e *ForbiddenError) ProblemFields() map[string]any {
	required := e.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"required_permissions": required,
		"role":                 string(e.Role),
	}
}
