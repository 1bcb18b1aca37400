package models

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account holder. Users are never hard-deleted.
type User struct {
	BaseModel

	Name     string `gorm:"size:255" json:"name"`
	Email    string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"size:16;not null;default:user;index" json:"role"`
	Avatar   string `gorm:"size:1024" json:"avatar"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`

	ResetPasswordToken   *string    `gorm:"size:64;index" json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ValidRole reports whether role is a known account role.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
