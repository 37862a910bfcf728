package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminRouter(t *testing.T, principal Principal) (http.Handler, *memoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	store.users[principal.ID] = principal.Role
	h := NewHandler(nil, svc, Guard{Permissions: svc})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(ContextWithPrincipal(req.Context(), principal)))
		})
	})
	r.Route("/api/admin", h.MountRoutes)
	return r, store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAdminListRoles(t *testing.T) {
	router, _ := newAdminRouter(t, Principal{ID: uuid.New(), Role: RoleCompanyAdmin})

	rr := doJSON(t, router, http.MethodGet, "/api/admin/roles", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Roles []roleResponse `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Roles, len(Roles()))
	var found bool
	for _, r := range body.Roles {
		if r.Name == "distribution_partner" {
			found = true
			assert.Equal(t, "Distribution Partner", r.DisplayName)
			assert.Contains(t, r.Permissions, PermReleasePublishAny)
		}
	}
	assert.True(t, found)
}

func TestAdminRoutesForbiddenForArtist(t *testing.T) {
	router, _ := newAdminRouter(t, Principal{ID: uuid.New(), Role: RoleArtist})

	rr := doJSON(t, router, http.MethodGet, "/api/admin/roles", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, router, http.MethodPut, "/api/admin/roles/artist/permissions", `{"permissions":["*:*:*"]}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminSetAndResetRolePermissions(t *testing.T) {
	router, store := newAdminRouter(t, Principal{ID: uuid.New(), Role: RoleSuperAdmin})

	rr := doJSON(t, router, http.MethodPut, "/api/admin/roles/artist/permissions", `{"permissions":["release:view:own"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{PermReleaseViewOwn}, store.roles[RoleArtist])

	rr = doJSON(t, router, http.MethodPut, "/api/admin/roles/artist/permissions", `{"permissions":["release:view"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPut, "/api/admin/roles/nobody/permissions", `{"permissions":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/admin/roles/artist/reset-default", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, DefaultsFor(RoleArtist), store.roles[RoleArtist])
}

func TestAdminUserPermissionLifecycle(t *testing.T) {
	router, store := newAdminRouter(t, Principal{ID: uuid.New(), Role: RoleCompanyAdmin})
	userID := store.addUser(RoleArtist)
	base := "/api/admin/users/" + userID.String()

	rr := doJSON(t, router, http.MethodPost, base+"/permissions", `{"permission":"release:submit:own","denied":true}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doJSON(t, router, http.MethodGet, base+"/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var up userPermissionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, "artist", up.Role)
	assert.Equal(t, []Grant{{Permission: PermReleaseSubmitOwn, Denied: true}}, up.Grants)
	assert.NotContains(t, up.Effective, PermReleaseSubmitOwn)

	rr = doJSON(t, router, http.MethodDelete, base+"/permissions/release:submit:own", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doJSON(t, router, http.MethodDelete, base+"/permissions/release:submit:own", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodPut, base+"/role", `{"role":"label_admin"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, RoleLabelAdmin, store.users[userID])

	rr = doJSON(t, router, http.MethodPut, base+"/role", `{"role":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/api/admin/users/not-a-uuid/permissions", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminListPermissions(t *testing.T) {
	router, _ := newAdminRouter(t, Principal{ID: uuid.New(), Role: RoleCompanyAdmin})

	rr := doJSON(t, router, http.MethodGet, "/api/admin/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), PermReleaseRequestUpdateOwn)
}

func TestAdminCompanyAdminCannotEscalate(t *testing.T) {
	admin := Principal{ID: uuid.New(), Role: RoleCompanyAdmin}
	router, store := newAdminRouter(t, admin)
	userID := store.addUser(RoleArtist)

	rr := doJSON(t, router, http.MethodPost, "/api/admin/users/"+admin.ID.String()+"/permissions", `{"permission":"*:*:*"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, []any{SuperAdminPermission}, problem["required_permissions"])
	assert.Equal(t, "company_admin", problem["role"])

	rr = doJSON(t, router, http.MethodPut, "/api/admin/users/"+userID.String()+"/role", `{"role":"super_admin"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, RoleArtist, store.users[userID])

	rr = doJSON(t, router, http.MethodPut, "/api/admin/roles/super_admin/permissions", `{"permissions":["release:view:own"]}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/admin/roles/super_admin/reset-default", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, DefaultsFor(RoleSuperAdmin), store.roles[RoleSuperAdmin])
}
