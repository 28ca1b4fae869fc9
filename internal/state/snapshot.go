// Package state holds the canonical client-side state: business profile,
// inventory, legal tasks, chat transcript, notifications and UI flags.
package state

import (
	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/notifications"
)

// UIFlags are view visibility toggles
type UIFlags struct {
	ChatOpen              bool `json:"chat_open"`
	NotificationPanelOpen bool `json:"notification_panel_open"`
	MobileNavOpen         bool `json:"mobile_nav_open"`
}

// Snapshot is a deep copy of the store at one version. Versions increase
// with every change, so consumers can drop a snapshot older than one they
// already hold.
type Snapshot struct {
	Version       uint64                       `json:"version"`
	Business      *core.BusinessProfile        `json:"business"`
	Inventory     []core.InventoryItem         `json:"inventory"`
	LegalTasks    []legal.Task                 `json:"legal_tasks"`
	Chat          []core.ChatMessage           `json:"chat"`
	Notifications []notifications.Notification `json:"notifications"`
	UnreadCount   int                          `json:"unread_count"`
	UI            UIFlags                      `json:"ui"`
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Business != nil {
		b := *s.Business
		out.Business = &b
	}
	out.Inventory = append([]core.InventoryItem{}, s.Inventory...)
	out.LegalTasks = legal.CloneAll(s.LegalTasks)
	out.Chat = append([]core.ChatMessage{}, s.Chat...)
	out.Notifications = make([]notifications.Notification, len(s.Notifications))
	for i, n := range s.Notifications {
		if n.ReadAt != nil {
			t := *n.ReadAt
			n.ReadAt = &t
		}
		out.Notifications[i] = n
	}
	return out
}

// LowStock returns the inventory items below their threshold.
func (s Snapshot) LowStock() []core.InventoryItem {
	out := []core.InventoryItem{}
	for _, it := range s.Inventory {
		if it.LowStock() {
			out = append(out, it)
		}
	}
	return out
}
