package model

import "time"

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusBlocked  = "blocked"
)

// User is the slice of the platform user directory the auth core needs.
type User struct {
	UserID      string     `json:"user_id" db:"user_id"`
	Email       string     `json:"email" db:"email"`
	Name        string     `json:"name" db:"name"`
	Status      string     `json:"status" db:"status"`
	RoleID      string     `json:"role_id" db:"role_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

func (u User) IsActiveUser() bool {
	return u.Status == UserStatusActive
}

// Role describes the user's role for token claims and UI routing.
type Role struct {
	RoleID      string `json:"role_id" db:"role_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// RoleRoutes is the UI routing metadata resolved for a role.
type RoleRoutes struct {
	DefaultRoute string   `json:"default_route"`
	Routes       []string `json:"routes"`
}
