package models

// AdministratorRoleName is the role that bypasses every permission check.
const AdministratorRoleName = "Administrator"

// Seeded role identifiers.
const (
	AdminRoleID      = "admin"
	SupervisorRoleID = "supervisor"
	UserRoleID       = "user"
)

type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"not null" json:"is_system"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	Users       []User       `gorm:"foreignKey:RoleID" json:"-"`
}

// IsAdministrator reports whether the role carries the administrator override.
func (r *Role) IsAdministrator() bool {
	return r != nil && r.Name == AdministratorRoleName
}

// PermissionNames returns the names of the role's active permissions.
func (r *Role) PermissionNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Permissions))
	for _, perm := range r.Permissions {
		if perm.IsActive {
			names = append(names, perm.Name)
		}
	}
	return names
}
