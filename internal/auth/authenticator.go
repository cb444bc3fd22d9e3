package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/models"
)

// UserSource looks up a user record by id. Implemented by Repository.
type UserSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenAuthenticator returns a function that resolves a bearer token to a
// live user record: the token must validate and the user must still exist.
// A valid token for a deleted user is rejected.
func TokenAuthenticator(jwt *JWTService, users UserSource) func(ctx context.Context, token string) (uuid.UUID, string, error) {
	return func(ctx context.Context, token string) (uuid.UUID, string, error) {
		claims, err := jwt.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		u, err := users.GetByID(ctx, claims.UserID)
		if err != nil {
			return uuid.Nil, "", err
		}
		return u.ID, u.FullName, nil
	}
}
