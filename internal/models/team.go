package models

type Team struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Description string `json:"description"`

	Members []User `gorm:"many2many:user_teams;" json:"members,omitempty"`
}
