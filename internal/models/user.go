package models

import "time"

// User is a platform account. Every user holds exactly one role.
type User struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null;size:191" json:"email"`
	FullName string `gorm:"size:191" json:"full_name"`
	Password string `gorm:"not null" json:"-"`

	RoleID   string `gorm:"not null;index;size:64" json:"role_id"`
	Role     *Role  `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	IsActive bool   `gorm:"not null" json:"is_active"`

	Teams []Team `gorm:"many2many:user_teams;" json:"teams,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`
}

// IsAdministrator reports whether the user's role bypasses permission checks.
func (u *User) IsAdministrator() bool {
	return u != nil && u.Role.IsAdministrator()
}

// RoleName returns the loaded role name or an empty string.
func (u *User) RoleName() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}
