// Package identity carries the signed-in user id through a context.
package identity

import (
	"context"

	"smartshop/internal/domain"
)

type userKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the user id in ctx, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// Require returns the user id in ctx or domain.ErrUnauthenticated.
func Require(ctx context.Context) (string, error) {
	id, ok := UserID(ctx)
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	return id, nil
}
