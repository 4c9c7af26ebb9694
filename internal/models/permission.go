package models

// Permission scopes.
const (
	ScopeOwn  = "own"
	ScopeTeam = "team"
	ScopeAll  = "all"
)

// Permission is a catalog entry. Name is always the canonical module.action.scope
// form; Module, Action and Scope are the parsed components kept for filtering.
type Permission struct {
	BaseModel

	Name        string `gorm:"not null;index;size:191" json:"name"`
	Module      string `gorm:"not null;index;size:64" json:"module"`
	Action      string `gorm:"not null;size:64" json:"action"`
	Scope       string `gorm:"not null;size:16" json:"scope"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"not null;index" json:"is_active"`
	IsSystem    bool   `gorm:"not null" json:"is_system"`

	Roles []Role `gorm:"many2many:role_permissions;" json:"roles,omitempty"`
}
