package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/models"
)

// UserService persists user accounts for the password auth provider.
type UserService struct {
	db *database.Client
}

// NewUserService creates a new UserService
func NewUserService(db *database.Client) *UserService {
	return &UserService{db: db}
}

// Create inserts a new user. Emails are stored lowercase and must be unique.
func (s *UserService) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return NewValidationError("id", "required")
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	exists, err := s.EmailExists(ctx, user.Email)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("user %s: %w", user.Email, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO users (id, email, fullname, role, is_active, password_hash, last_login_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Fullname, string(user.Role), user.IsActive,
		nullable(user.PasswordHash), nullTime(user.LastLoginAt), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user %s: %w", user.Email, err)
	}
	return nil
}

// FindByID returns the user or (nil, nil) when absent.
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, `WHERE id = ?`, id)
}

// FindByEmail returns the user or (nil, nil) when absent. Lookup is
// case-insensitive via lowercase normalization.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// EmailExists reports whether an account already uses the email.
func (s *UserService) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return n > 0, nil
}

// UpdatePassword replaces the stored password hash.
func (s *UserService) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, id, `password_hash = ?`, passwordHash)
}

// UpdateFullname changes the display name.
func (s *UserService) UpdateFullname(ctx context.Context, id, fullname string) error {
	return s.update(ctx, id, `fullname = ?`, fullname)
}

// UpdateLastLogin stamps a successful login.
func (s *UserService) UpdateLastLogin(ctx context.Context, id string) error {
	return s.update(ctx, id, `last_login_at = ?`, time.Now().UTC())
}

// SetActive flips the account's active flag.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, `is_active = ?`, active)
}

func (s *UserService) update(ctx context.Context, id, set string, value any) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *UserService) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	var (
		user         models.User
		passwordHash sql.NullString
		lastLoginAt  sql.NullTime
	)
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT id, email, fullname, role, is_active, password_hash, last_login_at, created_at, updated_at
		FROM users `+where, arg).
		Scan(&user.ID, &user.Email, &user.Fullname, &user.Role, &user.IsActive,
			&passwordHash, &lastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.PasswordHash = passwordHash.String
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}
