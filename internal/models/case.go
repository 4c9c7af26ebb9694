package models

// Case statuses.
const (
	CaseStatusOpen       = "open"
	CaseStatusInProgress = "in_progress"
	CaseStatusClosed     = "closed"
)

// Case is the managed business record. Scoped permissions are evaluated
// against OwnerID.
type Case struct {
	BaseModel

	Title       string `gorm:"not null;size:255" json:"title"`
	Description string `json:"description"`
	Status      string `gorm:"not null;index;size:32" json:"status"`
	OwnerID     string `gorm:"not null;index;size:64" json:"owner_id"`
	Owner       *User  `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

// ValidCaseStatus reports whether status is one of the known case statuses.
func ValidCaseStatus(status string) bool {
	switch status {
	case CaseStatusOpen, CaseStatusInProgress, CaseStatusClosed:
		return true
	}
	return false
}
