package models

import "time"

type DiscoverySource string

const (
	SourceBase       DiscoverySource = "base"
	SourcePassive    DiscoverySource = "passive"
	SourceBruteforce DiscoverySource = "bruteforce"
)

// Target is a discovered host name together with its probe state.
// Name is unique across scans; rediscovery updates probe fields in place.
type Target struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"uniqueIndex;type:varchar(253);not null" json:"name"`
	Source            DiscoverySource `gorm:"type:varchar(16)" json:"source"`
	Alive             bool            `gorm:"index" json:"alive"`
	IPAddresses       StringList      `gorm:"type:text" json:"ip_addresses"`
	HTTPStatus        *int            `json:"http_status,omitempty"`
	TakeoverCandidate bool            `json:"takeover_candidate"`
	DiscoveredAt      time.Time       `json:"discovered_at"`
	LastChecked       time.Time       `json:"last_checked"`
	LastCrawledAt     *time.Time      `gorm:"index" json:"last_crawled_at,omitempty"`
}
