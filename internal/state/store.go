package state

import (
	"strings"
	"sync"
	"time"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/logging"
	"github.com/bizgenie/bizgenie/internal/notifications"
	"github.com/bizgenie/bizgenie/internal/packets"
)

const (
	// GreetingText seeds a fresh transcript.
	GreetingText = "Hi! I'm BizGenie. I'm keeping an eye on your business."

	// StartupName is the placeholder name of a business described in chat.
	StartupName = "New business"

	// DefaultCategory is used when onboarding does not name one.
	DefaultCategory = "restaurant"
)

// ConnectForm is the data for connecting an existing business
type ConnectForm struct {
	Name           string `json:"name"`
	RegistrationID string `json:"registration_id"`
	Category       string `json:"category,omitempty"`
}

// Store is the canonical state. Every method is safe for concurrent use and
// every command is applied atomically.
type Store struct {
	mu        sync.RWMutex
	business  *core.BusinessProfile
	inventory []core.InventoryItem
	tasks     []legal.Task
	chat      []core.ChatMessage
	feed      *notifications.Feed
	ui        UIFlags
	version   uint64

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	log *logging.Logger
}

// New creates a store with an empty business and a greeting in the transcript.
func New() *Store {
	return &Store{
		inventory: []core.InventoryItem{},
		tasks:     []legal.Task{},
		chat:      []core.ChatMessage{core.NewChatMessage(GreetingText, core.SenderAI)},
		feed:      notifications.NewFeed(),
		ui:        UIFlags{ChatOpen: true},
		subs:      make(map[int]func(Snapshot)),
		log:       logging.Component("state"),
	}
}

// Subscribe registers fn to receive a fresh snapshot after every change.
// fn runs outside the store lock and may call back into the store. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) subscribers() []func(Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// mutate runs fn under the write lock. When fn reports a change the version
// is bumped and subscribers are notified after the lock is released.
func (s *Store) mutate(fn func() (changed bool, err error)) error {
	s.mu.Lock()
	changed, err := fn()
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	s.version++
	subs := s.subscribers()
	var snap Snapshot
	if len(subs) > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	for i, sub := range subs {
		if i == 0 {
			sub(snap)
			continue
		}
		sub(snap.Clone())
	}
	return nil
}

// Snapshot returns a deep copy of the current state. It has no side effects.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:       s.version,
		Inventory:     append([]core.InventoryItem{}, s.inventory...),
		LegalTasks:    legal.CloneAll(s.tasks),
		Chat:          append([]core.ChatMessage{}, s.chat...),
		Notifications: s.feed.List(),
		UnreadCount:   s.feed.UnreadCount(),
		UI:            s.ui,
	}
	if s.business != nil {
		b := *s.business
		snap.Business = &b
	}
	return snap
}

// =============================================================================
// Queries
// =============================================================================

// Business returns the profile, or nil before onboarding.
func (s *Store) Business() *core.BusinessProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.business == nil {
		return nil
	}
	b := *s.business
	return &b
}

// LegalTasks returns a copy of the task list.
func (s *Store) LegalTasks() []legal.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return legal.CloneAll(s.tasks)
}

// LowStock returns the items whose quantity is below their threshold.
func (s *Store) LowStock() []core.InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Inventory: s.inventory}.LowStock()
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feed.UnreadCount()
}

// NotificationStats summarises the feed by read state and severity.
func (s *Store) NotificationStats() notifications.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feed.Stats()
}

// =============================================================================
// Onboarding
// =============================================================================

// StartBusiness creates a startup-stage profile from a free-text description
// and records the description as a user message.
func (s *Store) StartBusiness(description string) (core.BusinessProfile, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return core.BusinessProfile{}, core.ErrEmptyMessage
	}

	var profile core.BusinessProfile
	err := s.mutate(func() (bool, error) {
		if s.business != nil {
			return false, core.ErrAlreadyOnboarded
		}
		profile = core.BusinessProfile{
			Name:      StartupName,
			Category:  DefaultCategory,
			Stage:     core.StageStartup,
			Details:   description,
			CreatedAt: time.Now().UTC(),
		}
		s.business = &profile
		s.chat = append(s.chat, core.NewChatMessage(description, core.SenderUser))
		return true, nil
	})
	return profile, err
}

// ConnectBusiness creates an active profile for an existing business.
func (s *Store) ConnectBusiness(form ConnectForm) (core.BusinessProfile, error) {
	name := strings.TrimSpace(form.Name)
	if name == "" {
		return core.BusinessProfile{}, core.ErrMissingName
	}
	category := form.Category
	if category == "" {
		category = DefaultCategory
	}

	var profile core.BusinessProfile
	err := s.mutate(func() (bool, error) {
		if s.business != nil {
			return false, core.ErrAlreadyOnboarded
		}
		profile = core.BusinessProfile{
			Name:           name,
			Category:       category,
			RegistrationID: strings.TrimSpace(form.RegistrationID),
			Stage:          core.StageActive,
			CreatedAt:      time.Now().UTC(),
		}
		s.business = &profile
		return true, nil
	})
	return profile, err
}

// =============================================================================
// Chat
// =============================================================================

// AppendMessage appends a settled message to the transcript.
func (s *Store) AppendMessage(text string, sender core.Sender) core.ChatMessage {
	msg := core.NewChatMessage(text, sender)
	_ = s.mutate(func() (bool, error) {
		s.chat = append(s.chat, msg)
		return true, nil
	})
	return msg
}

// AppendError appends an AI-sender message flagged as an error.
func (s *Store) AppendError(text string) core.ChatMessage {
	msg := core.NewChatMessage(text, core.SenderAI)
	msg.IsError = true
	_ = s.mutate(func() (bool, error) {
		s.chat = append(s.chat, msg)
		return true, nil
	})
	return msg
}

// AppendPending optimistically appends a user message awaiting delivery.
func (s *Store) AppendPending(text string) core.ChatMessage {
	msg := core.NewChatMessage(text, core.SenderUser)
	msg.Delivery = core.DeliveryPending
	_ = s.mutate(func() (bool, error) {
		s.chat = append(s.chat, msg)
		return true, nil
	})
	return msg
}

// SettleDelivery moves a pending message to delivered or failed. It is the
// only in-place change the transcript allows.
func (s *Store) SettleDelivery(id core.ID, d core.Delivery) error {
	if d != core.DeliveryDelivered && d != core.DeliveryFailed {
		return core.ErrDeliverySettled
	}
	return s.mutate(func() (bool, error) {
		for i := range s.chat {
			if s.chat[i].ID != id {
				continue
			}
			if s.chat[i].Delivery != core.DeliveryPending {
				return false, core.ErrDeliverySettled
			}
			s.chat[i].Delivery = d
			return true, nil
		}
		return false, core.ErrMessageNotFound
	})
}

// =============================================================================
// Legal
// =============================================================================

// ToggleLegalStep flips every step named stepName in the task and re-derives
// its status.
func (s *Store) ToggleLegalStep(taskID core.ID, stepName string) (legal.Task, error) {
	var out legal.Task
	err := s.mutate(func() (bool, error) {
		i := legal.Find(s.tasks, taskID)
		if i < 0 {
			return false, core.ErrTaskNotFound
		}
		t, err := legal.ToggleStep(s.tasks[i], stepName)
		if err != nil {
			return false, err
		}
		s.tasks[i] = t
		out = t.Clone()
		return true, nil
	})
	return out, err
}

// DeleteLegalTask removes a task locally.
func (s *Store) DeleteLegalTask(taskID core.ID) error {
	return s.mutate(func() (bool, error) {
		i := legal.Find(s.tasks, taskID)
		if i < 0 {
			return false, core.ErrTaskNotFound
		}
		s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
		return true, nil
	})
}

// =============================================================================
// Notifications
// =============================================================================

// MarkNotificationRead marks one notification read.
func (s *Store) MarkNotificationRead(id core.ID) error {
	return s.mutate(func() (bool, error) {
		n, err := s.feed.Get(id)
		if err != nil {
			return false, err
		}
		if n.Read {
			return false, nil
		}
		return true, s.feed.MarkRead(id)
	})
}

// MarkAllNotificationsRead marks every notification read and returns how
// many changed. Calling it again changes nothing.
func (s *Store) MarkAllNotificationsRead() int {
	var changed int
	_ = s.mutate(func() (bool, error) {
		changed = s.feed.MarkAllRead()
		return changed > 0, nil
	})
	return changed
}

// DeleteNotification removes a notification.
func (s *Store) DeleteNotification(id core.ID) error {
	return s.mutate(func() (bool, error) {
		return true, s.feed.Delete(id)
	})
}

// =============================================================================
// UI flags
// =============================================================================

// ToggleChatPanel flips the chat panel flag and returns the new value.
func (s *Store) ToggleChatPanel() bool {
	return s.toggle(func(u *UIFlags) *bool { return &u.ChatOpen })
}

// ToggleNotificationPanel flips the notification panel flag.
func (s *Store) ToggleNotificationPanel() bool {
	return s.toggle(func(u *UIFlags) *bool { return &u.NotificationPanelOpen })
}

// ToggleMobileNav flips the mobile navigation flag.
func (s *Store) ToggleMobileNav() bool {
	return s.toggle(func(u *UIFlags) *bool { return &u.MobileNavOpen })
}

func (s *Store) toggle(field func(*UIFlags) *bool) bool {
	var v bool
	_ = s.mutate(func() (bool, error) {
		f := field(&s.ui)
		*f = !*f
		v = *f
		return true, nil
	})
	return v
}

// =============================================================================
// Reconciliation
// =============================================================================

// Apply applies decoded packets in order as one atomic change.
func (s *Store) Apply(pkts []packets.Packet) {
	if len(pkts) == 0 {
		return
	}
	_ = s.mutate(func() (bool, error) {
		for _, p := range pkts {
			s.applyLocked(p)
		}
		return true, nil
	})
}

func (s *Store) applyLocked(p packets.Packet) {
	switch p.Kind {
	case packets.KindInventory:
		s.inventory = append([]core.InventoryItem{}, p.Inventory...)
		s.log.WithField("items", len(p.Inventory)).Debug("inventory replaced")

	case packets.KindLegal:
		s.tasks = legal.NormalizeAll(p.Tasks)
		s.log.WithField("tasks", len(p.Tasks)).Debug("legal tasks replaced")

	case packets.KindLegalResearch:
		fresh := make([]legal.Task, len(p.Research))
		for i, r := range p.Research {
			fresh[i] = legal.FromResearch(r)
		}
		if p.ReplaceTasks {
			s.tasks = legal.Replace(fresh)
		} else {
			s.tasks = legal.Prepend(s.tasks, fresh)
		}
		s.log.WithFields(map[string]interface{}{
			"entries": len(fresh),
			"replace": p.ReplaceTasks,
		}).Debug("legal research merged")

	case packets.KindChatMessage:
		s.chat = append(s.chat, core.NewChatMessage(p.ChatText, core.SenderAI))

	case packets.KindNotification:
		n := s.feed.Push(p.Notification)
		s.log.WithField("severity", n.Severity).Debug("notification received")

	default:
		s.log.WithField("kind", p.Kind).Debug("ignoring packet")
	}
}
