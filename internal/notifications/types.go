// Package notifications implements the in-memory notification feed for BizGenie.
package notifications

import (
	"time"

	"github.com/bizgenie/bizgenie/internal/core"
)

// Severity represents how urgent a notification is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// DefaultAgent labels notifications that arrive from the proxy.
const DefaultAgent = "System"

// JustNow is the time label given to freshly arrived notifications.
const JustNow = "Just now"

// Notification represents a user notification
type Notification struct {
	ID        core.ID    `json:"id"`
	Title     string     `json:"title"`
	Desc      string     `json:"desc,omitempty"`
	Severity  Severity   `json:"severity"`
	Read      bool       `json:"read"`
	TimeLabel string     `json:"time"`
	Agent     string     `json:"agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// CreateRequest for creating new notifications
type CreateRequest struct {
	Title    string   `json:"title"`
	Desc     string   `json:"desc,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Agent    string   `json:"agent,omitempty"`
}

// Stats represents notification statistics
type Stats struct {
	Total       int              `json:"total"`
	Unread      int              `json:"unread"`
	BySeverity  map[Severity]int `json:"by_severity"`
	LastCreated *time.Time       `json:"last_created,omitempty"`
}
