package rbac

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// Wildcard matches every value of a permission segment.
	Wildcard = "*"
	// SuperAdminPermission grants everything.
	SuperAdminPermission = "*:*:*"

	segmentSeparator = ":"
)

// Permission is the tagged-segment form of a "resource:action:scope" string.
type Permission struct {
	Resource string
	Action   string
	Scope    string
}

// String renders the permission in its wire form.
func (p Permission) String() string {
	return p.Resource + segmentSeparator + p.Action + segmentSeparator + p.Scope
}

// ParsePermission splits s into its three segments. Malformed input (wrong
// segment count or an empty segment) reports false.
func ParsePermission(s string) (Permission, bool) {
	parts := strings.Split(normalizePermission(s), segmentSeparator)
	if len(parts) != 3 {
		return Permission{}, false
	}
	for _, part := range parts {
		if part == "" {
			return Permission{}, false
		}
	}
	return Permission{Resource: parts[0], Action: parts[1], Scope: parts[2]}, true
}

// ValidatePermission checks the strict grammar used when permissions are
// written: three segments, each "*" or lower snake case.
func ValidatePermission(s string) error {
	if s != strings.TrimSpace(s) || s != strings.ToLower(s) {
		return fmt.Errorf("%w: %q must be trimmed lower case", ErrInvalidPermission, s)
	}
	p, ok := ParsePermission(s)
	if !ok {
		return fmt.Errorf("%w: %q must have the form resource:action:scope", ErrInvalidPermission, s)
	}
	for _, segment := range []string{p.Resource, p.Action, p.Scope} {
		if segment == Wildcard {
			continue
		}
		if !isSnakeCase(segment) {
			return fmt.Errorf("%w: segment %q of %q", ErrInvalidPermission, segment, s)
		}
	}
	return nil
}

func isSnakeCase(segment string) bool {
	if segment == "" || segment[0] == '_' || segment[len(segment)-1] == '_' {
		return false
	}
	for _, c := range segment {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// PermissionSet is a normalised set of granted permission strings.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set, dropping blanks and duplicates.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		p = normalizePermission(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set grants requested, honouring wildcard segments.
func (s PermissionSet) Has(requested string) bool {
	requested = normalizePermission(requested)
	if requested == "" || len(s) == 0 {
		return false
	}
	if s.contains(requested) || s.contains(SuperAdminPermission) {
		return true
	}
	p, ok := ParsePermission(requested)
	if !ok {
		return false
	}
	if s.contains(Permission{Resource: p.Resource, Action: Wildcard, Scope: Wildcard}.String()) {
		return true
	}
	return s.contains(Permission{Resource: p.Resource, Action: p.Action, Scope: Wildcard}.String())
}

// HasAny reports whether at least one requested permission is granted.
// An empty request list is always satisfied.
func (s PermissionSet) HasAny(requested ...string) bool {
	if len(requested) == 0 {
		return true
	}
	for _, r := range requested {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every requested permission is granted.
func (s PermissionSet) HasAll(requested ...string) bool {
	for _, r := range requested {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Without returns a copy of the set with the exact names removed.
func (s PermissionSet) Without(names ...string) PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	for _, n := range names {
		delete(out, normalizePermission(n))
	}
	return out
}

// List returns the granted permissions sorted by name.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s PermissionSet) contains(p string) bool {
	_, ok := s[p]
	return ok
}

// HasPermission reports whether granted allows requested.
func HasPermission(granted []string, requested string) bool {
	return NewPermissionSet(granted...).Has(requested)
}

// HasAnyPermission is the logical OR of HasPermission over requested.
func HasAnyPermission(granted []string, requested []string) bool {
	return NewPermissionSet(granted...).HasAny(requested...)
}

// HasAllPermissions is the logical AND of HasPermission over requested.
func HasAllPermissions(granted []string, requested []string) bool {
	return NewPermissionSet(granted...).HasAll(requested...)
}

func normalizePermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizePermission(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
