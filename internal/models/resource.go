package models

import "time"

// ResourceSource labels which crawl mode produced a resource.
type ResourceSource string

const (
	SourceCrawler        ResourceSource = "crawler"
	SourceJSParser       ResourceSource = "javascript_parser"
	SourceFormSubmission ResourceSource = "form_submission"
)

// Resource is a crawled endpoint. (URL, Method) is the natural key.
type Resource struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Domain       string         `gorm:"index;type:varchar(253)" json:"domain"`
	URL          string         `gorm:"uniqueIndex:idx_resources_url_method;type:varchar(2048);not null" json:"url"`
	Method       string         `gorm:"uniqueIndex:idx_resources_url_method;type:varchar(16);default:GET" json:"method"`
	Tag          string         `gorm:"type:varchar(64)" json:"tag,omitempty"`
	Attribute    string         `gorm:"type:varchar(64)" json:"attribute,omitempty"`
	Source       ResourceSource `gorm:"type:varchar(32)" json:"source,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	ContentType  string         `gorm:"type:varchar(128)" json:"content_type,omitempty"`
	ResponseSize int64          `json:"response_size,omitempty"`
	Parameters   StringMap      `gorm:"type:text" json:"parameters,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at"`
}

// HasParameters reports whether the resource carries query parameters,
// which is what makes it eligible for vulnerability probing.
func (r *Resource) HasParameters() bool {
	return len(r.Parameters) > 0
}

// ScriptAsset is a JavaScript file seen during a crawl, plus whatever
// endpoints and URLs static analysis pulled out of its body.
type ScriptAsset struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Domain       string     `gorm:"index;type:varchar(253)" json:"domain"`
	URL          string     `gorm:"uniqueIndex;type:varchar(2048);not null" json:"url"`
	SourcePage   string     `gorm:"type:varchar(2048)" json:"source_page,omitempty"`
	Endpoints    StringList `gorm:"type:text" json:"endpoints,omitempty"`
	ExternalURLs StringList `gorm:"type:text" json:"external_urls,omitempty"`
	Size         int64      `json:"size,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}
