package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a participant role in the platform.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTutor || r == RoleStudent
}

// IsPrivileged reports whether the role may receive proctoring alerts.
func (r Role) IsPrivileged() bool {
	return r == RoleTutor
}

// User represents a platform user.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	FullName    string    `json:"full_name"`
	Role        Role      `json:"role"`
	Institution string    `json:"institution,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	Role        Role      `json:"role"`
	Institution string    `json:"institution,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Role:        u.Role,
		Institution: u.Institution,
		CreatedAt:   u.CreatedAt,
	}
}

// Identity is the authenticated caller of an operation, supplied by the auth layer.
type Identity struct {
	UserID      uuid.UUID
	Role        Role
	DisplayName string
}
