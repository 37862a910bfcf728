package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	revokedKeyPrefix    = "auth:revoked:"
	revokedBeforePrefix = "auth:revoked_before:"
)

// RevocationStore tracks logged-out tokens by jti and users whose sessions
// were ended as a whole.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error
	IsRevoked(ctx context.Context, claims *Claims) (bool, error)
}

// Revocations keeps revocation markers in Redis until the tokens they cover
// would have expired anyway.
type Revocations struct {
	client redis.UniversalClient
}

// NewRevocations constructs a Redis backed RevocationStore.
func NewRevocations(client redis.UniversalClient) *Revocations {
	return &Revocations{client: client}
}

// Revoke marks jti as revoked for ttl. Tokens already past expiry are ignored.
func (r *Revocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err()
}

// RevokeUser rejects every token of userID issued at or before at. ttl is the
// token lifetime, after which no such token can still be valid.
func (r *Revocations) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedBeforePrefix+userID.String(), at.Unix(), ttl).Err()
}

// IsRevoked reports whether the token was logged out or issued before its
// user's sessions were ended.
func (r *Revocations) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	values, err := r.client.MGet(ctx, revokedKeyPrefix+claims.ID, revokedBeforePrefix+claims.UserID).Result()
	if err != nil {
		return false, err
	}
	if values[0] != nil {
		return true, nil
	}
	raw, ok := values[1].(string)
	if !ok {
		return false, nil
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, err
	}
	// IssuedAt has second precision; a token minted in the cutoff second is
	// treated as issued before it.
	return claims.IssuedAt == nil || claims.IssuedAt.Unix() <= cutoff, nil
}

var _ RevocationStore = (*Revocations)(nil)
