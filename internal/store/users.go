package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/models"
)

const userColumns = `id, name, email, phone, password_hash, role, created_at, updated_at`

// CreateUser inserts a user. Returns ErrConflict if the email is taken.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (name, email, phone, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users, newest first
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC")
	return users, err
}

// DeleteUser removes a user
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("user %d", id), "DELETE FROM users WHERE id = $1", id)
}

// UpdateUserRole changes a user's role
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role string) error {
	return s.execOne(ctx, fmt.Sprintf("user %d", id),
		"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2", role, id)
}

// UpdateUserProfile changes name and phone
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, name, phone string) error {
	return s.execOne(ctx, fmt.Sprintf("user %d", id),
		"UPDATE users SET name = $1, phone = $2, updated_at = NOW() WHERE id = $3", name, phone, id)
}

// UpdateUserPassword stores a new password hash
func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	return s.execOne(ctx, fmt.Sprintf("user %d", id),
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2", hash, id)
}

func (s *Store) execOne(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
