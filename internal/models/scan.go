package models

import "time"

type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusCancelled ScanStatus = "cancelled"
	ScanStatusTimedOut  ScanStatus = "timed_out"
	ScanStatusFailed    ScanStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusCancelled, ScanStatusTimedOut, ScanStatusFailed:
		return true
	}
	return false
}

// Scan is the service-level record of one orchestrated run.
type Scan struct {
	UUID              string     `gorm:"primaryKey;type:varchar(36)" json:"uuid"`
	Domain            string     `gorm:"index;type:varchar(253)" json:"domain"`
	Status            ScanStatus `gorm:"type:varchar(16)" json:"status"`
	IncludeBruteforce bool       `json:"include_bruteforce"`
	TimeoutSeconds    int        `json:"timeout_seconds,omitempty"`
	Report            string     `gorm:"type:text" json:"report,omitempty"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ScanReport is the document produced exactly once per run. Counts come
// from durable storage, not from in-memory tallies.
type ScanReport struct {
	Target              string    `json:"target"`
	StartTime           time.Time `json:"start_time"`
	CompletionTime      time.Time `json:"completion_time"`
	DurationSeconds     float64   `json:"duration_seconds"`
	TotalTargets        int64     `json:"total_targets"`
	LiveTargetsCrawled  int64     `json:"live_targets_crawled"`
	ResourcesDiscovered int64     `json:"resources_discovered"`
	ScriptsDiscovered   int64     `json:"scripts_discovered"`
	FindingsDiscovered  int64     `json:"findings_discovered"`
	Status              string    `json:"status"`
	Error               string    `json:"error,omitempty"`
}

// ScopeCounts aggregates durable rows for one scan scope.
type ScopeCounts struct {
	Targets     int64 `json:"targets"`
	LiveTargets int64 `json:"live_targets"`
	Resources   int64 `json:"resources"`
	Scripts     int64 `json:"scripts"`
	Findings    int64 `json:"findings"`
}
