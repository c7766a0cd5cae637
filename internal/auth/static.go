package auth

import (
	"context"
	"fmt"

	"github.com/zhenyuanlu/haybeat/internal"
)

// StaticProvider accepts one fixed token. Development only.
type StaticProvider struct {
	Token  string
	User   internal.User
	logger internal.Logger
}

func (a *StaticProvider) ValidateToken(ctx context.Context, token string) (*internal.User, error) {
	if token != "" && token == a.Token {
		u := a.User
		return &u, nil
	}
	a.logger.Warnf("invalid static token")
	return nil, fmt.Errorf("%w: invalid token", internal.ErrNotAuthenticated)
}

func NewStaticProvider(token string, logger internal.Logger) *StaticProvider {
	return &StaticProvider{
		Token:  token,
		User:   internal.User{ID: "u1", Name: "Demo User", Email: "demo@haybeat.local"},
		logger: logger,
	}
}
