package models

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is an append-only vulnerability record. Findings are never
// updated or deduplicated; every probe hit produces a new row.
type Finding struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Type       string    `gorm:"type:varchar(64);index" json:"type"`
	Severity   Severity  `gorm:"type:varchar(16);index" json:"severity"`
	Domain     string    `gorm:"index;type:varchar(253)" json:"domain"`
	URL        string    `gorm:"type:varchar(2048)" json:"url"`
	Method     string    `gorm:"type:varchar(16)" json:"method"`
	Parameter  string    `gorm:"type:varchar(256)" json:"parameter,omitempty"`
	Payload    string    `gorm:"type:text" json:"payload,omitempty"`
	Proof      string    `gorm:"type:text" json:"proof,omitempty"`
	Context    string    `gorm:"type:varchar(16)" json:"context,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
