package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// UserService handles admin user management
type UserService struct {
	users  UserRepository
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users UserRepository) *UserService {
	return &UserService{users: users, logger: util.GetLogger()}
}

// List returns all users
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Get returns one user
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return user, nil
}

// Delete removes a user
func (s *UserService) Delete(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "UserService.Delete")
	defer span.End()

	if err := s.users.DeleteUser(ctx, id); err != nil {
		return mapUserErr(err)
	}
	s.logger.Info("User deleted", zap.Int64("user_id", id))
	return nil
}

// UpdateRole changes the role of a user
func (s *UserService) UpdateRole(ctx context.Context, id int64, role string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UpdateRole")
	defer span.End()

	if !models.ValidRole(role) {
		return nil, invalid("role must be one of %s, %s, %s", models.RoleCustomer, models.RoleManager, models.RoleAdmin)
	}
	if err := s.users.UpdateUserRole(ctx, id, role); err != nil {
		return nil, mapUserErr(err)
	}

	s.logger.Info("User role updated", zap.Int64("user_id", id), zap.String("role", role))
	return s.Get(ctx, id)
}

func mapUserErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("user store: %w", err)
}
