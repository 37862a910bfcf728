package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok
}

// Middleware resolves bearer tokens into principals.
type Middleware struct {
	Tokens      *TokenIssuer
	Revocations RevocationStore
	Logger      *slog.Logger
}

// Authenticate places the principal of a valid bearer token in the request
// context. Requests without a valid token continue anonymously and are
// rejected by the route guard.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.Tokens.Parse(raw)
		if err != nil {
			m.debug("auth token rejected", slog.Bool("expired", IsExpired(err)), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		principal, err := claims.Principal()
		if err != nil {
			m.debug("auth token claims rejected", slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		if m.Revocations != nil {
			revoked, err := m.Revocations.IsRevoked(r.Context(), claims)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("auth revocation lookup", slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.Upstream(err))
				return
			}
			if revoked {
				m.debug("auth token revoked", slog.String("jti", claims.ID))
				next.ServeHTTP(w, r)
				return
			}
		}
		ctx := rbac.ContextWithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) debug(msg string, attrs ...any) {
	if m.Logger == nil {
		return
	}
	m.Logger.Debug(msg, attrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
