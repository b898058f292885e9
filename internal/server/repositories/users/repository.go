package users

import (
	"context"

	"github.com/dmitrijs2005/circle/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	// Resolve finds a user by id or by username.
	Resolve(ctx context.Context, identifier string) (*models.User, error)
}
