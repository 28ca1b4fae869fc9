package notifications

import (
	"time"

	"github.com/bizgenie/bizgenie/internal/core"
)

// Feed is the most-recent-first notification list. It is not safe for
// concurrent use; the owning store serialises access.
type Feed struct {
	items []Notification
	now   func() time.Time
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{now: func() time.Time { return time.Now().UTC() }}
}

// Push creates a new unread notification and puts it at the front.
func (f *Feed) Push(req CreateRequest) Notification {
	n := Notification{
		ID:        core.NewID(),
		Title:     req.Title,
		Desc:      req.Desc,
		Severity:  req.Severity,
		Read:      false,
		TimeLabel: JustNow,
		Agent:     req.Agent,
		CreatedAt: f.now(),
	}

	if !n.Severity.Valid() {
		n.Severity = SeverityInfo
	}
	if n.Agent == "" {
		n.Agent = DefaultAgent
	}

	f.items = append([]Notification{n}, f.items...)
	return n
}

// Get retrieves a notification by ID
func (f *Feed) Get(id core.ID) (Notification, error) {
	for _, n := range f.items {
		if n.ID == id {
			return n, nil
		}
	}
	return Notification{}, core.ErrNotificationNotFound
}

// List returns a copy of the feed, newest first.
func (f *Feed) List() []Notification {
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	for i := range out {
		if out[i].ReadAt != nil {
			t := *out[i].ReadAt
			out[i].ReadAt = &t
		}
	}
	return out
}

// MarkRead marks a notification as read. Already-read notifications stay read.
func (f *Feed) MarkRead(id core.ID) error {
	for i := range f.items {
		if f.items[i].ID == id {
			f.markRead(i)
			return nil
		}
	}
	return core.ErrNotificationNotFound
}

// MarkAllRead marks all notifications as read and returns how many changed.
func (f *Feed) MarkAllRead() int {
	changed := 0
	for i := range f.items {
		if f.markRead(i) {
			changed++
		}
	}
	return changed
}

func (f *Feed) markRead(i int) bool {
	if f.items[i].Read {
		return false
	}
	now := f.now()
	f.items[i].Read = true
	f.items[i].ReadAt = &now
	return true
}

// Delete removes a notification
func (f *Feed) Delete(id core.ID) error {
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i:i], f.items[i+1:]...)
			return nil
		}
	}
	return core.ErrNotificationNotFound
}

// UnreadCount returns the count of unread notifications
func (f *Feed) UnreadCount() int {
	count := 0
	for _, n := range f.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Stats returns notification statistics
func (f *Feed) Stats() Stats {
	stats := Stats{
		Total:      len(f.items),
		BySeverity: make(map[Severity]int),
	}

	for _, n := range f.items {
		if !n.Read {
			stats.Unread++
		}
		stats.BySeverity[n.Severity]++
		if stats.LastCreated == nil || n.CreatedAt.After(*stats.LastCreated) {
			created := n.CreatedAt
			stats.LastCreated = &created
		}
	}

	return stats
}
