package auth

import (
	"context"

	"github.com/zhenyuanlu/haybeat/internal"
)

// Provider resolves a bearer token into the identity it was issued for.
// Unknown, expired or revoked tokens yield internal.ErrNotAuthenticated.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*internal.User, error)
}
