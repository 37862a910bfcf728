package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscandco/platform/internal/rbac"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	user := User{ID: uuid.New(), Email: "partner@example.com", Role: rbac.RoleDistributionPartner}

	raw, issued, err := issuer.Issue(user)
	require.NoError(t, err)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, claims.ID)

	p, err := claims.Principal()
	require.NoError(t, err)
	assert.Equal(t, user.Principal(), p)
	assert.InDelta(t, time.Hour.Seconds(), claims.Remaining(time.Now()).Seconds(), 5)
}

func TestTokenExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, _, err := issuer.Issue(User{ID: uuid.New(), Role: rbac.RoleArtist})
	require.NoError(t, err)

	_, err = issuer.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, IsExpired(err))
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	claims := &Claims{UserID: uuid.NewString(), Role: "super_admin", RegisteredClaims: jwt.RegisteredClaims{ID: "x"}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsPrincipalRejectsUnknownRole(t *testing.T) {
	claims := &Claims{UserID: uuid.NewString(), Role: "owner"}
	_, err := claims.Principal()
	require.ErrorIs(t, err, ErrInvalidToken)
}
