package models

import "time"

// UserRole controls what a user may administer
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleNormal UserRole = "user"
)

// User is an authenticated account. PasswordHash is only populated under the
// password auth provider; the none and local providers synthesize users.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Fullname     string     `json:"fullname"`
	Role         UserRole   `json:"role"`
	IsActive     bool       `json:"is_active"`
	PasswordHash string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AuthToken is the login/refresh response payload.
type AuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user,omitempty"`
}
