package state

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/notifications"
	"github.com/bizgenie/bizgenie/internal/packets"
)

func mustDecode(t *testing.T, raws ...string) []packets.Packet {
	t.Helper()
	in := make([]json.RawMessage, len(raws))
	for i, r := range raws {
		in[i] = json.RawMessage(r)
	}
	pkts, errs := packets.DecodeBatch(in)
	require.Empty(t, errs)
	return pkts
}

func chatTexts(msgs []core.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// =============================================================================
// Initial state
// =============================================================================

func TestNew_SeedsGreeting(t *testing.T) {
	snap := New().Snapshot()

	require.Len(t, snap.Chat, 1)
	assert.Equal(t, GreetingText, snap.Chat[0].Text)
	assert.Equal(t, core.SenderAI, snap.Chat[0].Sender)
	assert.Nil(t, snap.Business)
	assert.Empty(t, snap.Inventory)
	assert.Empty(t, snap.LegalTasks)
	assert.True(t, snap.UI.ChatOpen)
	assert.Zero(t, snap.Version)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t,
		`{"type":"data_update","payload":{"category":"legal","tasks":[{"id":1,"title":"ONRC","steps":[{"step":"a"}]}]}}`,
		`{"type":"notification","payload":{"title":"n"}}`,
	))

	snap := s.Snapshot()
	snap.LegalTasks[0].Steps[0].Done = true
	snap.Chat[0].Text = "changed"
	snap.Notifications[0].Read = true

	fresh := s.Snapshot()
	assert.False(t, fresh.LegalTasks[0].Steps[0].Done)
	assert.Equal(t, GreetingText, fresh.Chat[0].Text)
	assert.False(t, fresh.Notifications[0].Read)
}

func TestSnapshot_NoSideEffects(t *testing.T) {
	s := New()
	s.AppendMessage("hello", core.SenderUser)

	first := s.Snapshot()
	second := s.Snapshot()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Snapshot differs (-first +second):\n%s", diff)
	}
}

// =============================================================================
// Onboarding
// =============================================================================

func TestStartBusiness(t *testing.T) {
	s := New()

	profile, err := s.StartBusiness("  A small pizzeria downtown  ")
	require.NoError(t, err)
	assert.Equal(t, core.StageStartup, profile.Stage)
	assert.Equal(t, "A small pizzeria downtown", profile.Details)

	snap := s.Snapshot()
	require.NotNil(t, snap.Business)
	assert.Equal(t, StartupName, snap.Business.Name)
	last := snap.Chat[len(snap.Chat)-1]
	assert.Equal(t, core.SenderUser, last.Sender)
	assert.Equal(t, "A small pizzeria downtown", last.Text)

	_, err = s.StartBusiness("again")
	assert.ErrorIs(t, err, core.ErrAlreadyOnboarded)
	_, err = s.ConnectBusiness(ConnectForm{Name: "Other"})
	assert.ErrorIs(t, err, core.ErrAlreadyOnboarded)
}

func TestStartBusiness_EmptyDescription(t *testing.T) {
	s := New()
	_, err := s.StartBusiness("   ")
	assert.ErrorIs(t, err, core.ErrEmptyMessage)
	assert.Nil(t, s.Business())
}

func TestConnectBusiness(t *testing.T) {
	s := New()

	_, err := s.ConnectBusiness(ConnectForm{Name: " "})
	require.ErrorIs(t, err, core.ErrMissingName)

	profile, err := s.ConnectBusiness(ConnectForm{Name: "Pizza Roma", RegistrationID: "RO123"})
	require.NoError(t, err)
	assert.Equal(t, core.StageActive, profile.Stage)
	assert.Equal(t, "RO123", profile.RegistrationID)
	assert.Equal(t, DefaultCategory, profile.Category)

	snap := s.Snapshot()
	assert.Len(t, snap.Chat, 1, "connect does not touch the transcript")
	assert.Equal(t, "Pizza Roma", s.Business().Name)
}

// =============================================================================
// Reconciliation
// =============================================================================

func TestApply_InventoryReplacedWholesale(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"inventory","items":[
		{"id":1,"product_name":"Flour","quantity":25,"min_threshold":10},
		{"id":2,"product_name":"Sauce","quantity":3,"min_threshold":5}
	]}}`))
	require.Len(t, s.Snapshot().Inventory, 2)

	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"inventory","items":[
		{"id":9,"product_name":"Basil","quantity":1,"min_threshold":2}
	]}}`))

	inv := s.Snapshot().Inventory
	require.Len(t, inv, 1)
	assert.Equal(t, core.ID("9"), inv[0].ID)
	assert.Equal(t, "Basil", inv[0].ProductName)

	low := s.LowStock()
	require.Len(t, low, 1)
	assert.True(t, low[0].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestApply_LegalReplacedAndStatusDerived(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[
		{"id":101,"title":"ONRC","status":"pending","steps":[{"step":"a","done":true},{"step":"b","done":true}]}
	]}}`))

	tasks := s.Snapshot().LegalTasks
	require.Len(t, tasks, 1)
	assert.Equal(t, legal.StatusCompleted, tasks[0].Status)

	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[]}}`))
	assert.Empty(t, s.Snapshot().LegalTasks)
}

func TestApply_VATResearchScenario(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[{"id":1,"title":"Existing"}]}}`))

	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal_research","data":{
		"subject":"VAT Registration",
		"research":{"summary":"Register for VAT.","checklist":[{"step":"File form"}]}
	}}}`))

	tasks := s.Snapshot().LegalTasks
	require.Len(t, tasks, 2)
	vat := tasks[0]
	assert.Equal(t, "VAT Registration", vat.Title)
	assert.Equal(t, legal.StatusPending, vat.Status)
	assert.Equal(t, "Register for VAT.", vat.Description)
	require.Len(t, vat.Steps, 1)
	assert.Equal(t, "File form", vat.Steps[0].Step)
	assert.False(t, vat.Steps[0].Done)
	assert.Equal(t, "Existing", tasks[1].Title)

	updated, err := s.ToggleLegalStep(vat.ID, "File form")
	require.NoError(t, err)
	assert.Equal(t, legal.StatusCompleted, updated.Status)
}

func TestApply_ResearchCapAndReplace(t *testing.T) {
	s := New()
	for i := 0; i < legal.MaxTasks+3; i++ {
		s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal_research","subject":"S"}}`))
	}
	assert.Len(t, s.Snapshot().LegalTasks, legal.MaxTasks)

	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal_research","data":[{"subject":"A"},{"subject":"B"}]}}`))
	tasks := s.Snapshot().LegalTasks
	require.Len(t, tasks, 2)
	assert.Equal(t, "A", tasks[0].Title)
	assert.Equal(t, "B", tasks[1].Title)
}

func TestApply_ChatInOrder(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t,
		`{"type":"chat_message","payload":{"text":"first"}}`,
		`{"type":"chat_message","payload":{"text":"second"}}`,
		`{"type":"chat_message","payload":{"text":"third"}}`,
	))

	got := chatTexts(s.Snapshot().Chat)
	want := []string{GreetingText, "first", "second", "third"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	for _, m := range s.Snapshot().Chat[1:] {
		assert.Equal(t, core.SenderAI, m.Sender)
	}
}

func TestApply_NotificationsPrepended(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t,
		`{"type":"notification","payload":{"title":"older","type":"warning"}}`,
		`{"type":"notification","payload":{"title":"newer","severity":"critical"}}`,
	))

	snap := s.Snapshot()
	require.Len(t, snap.Notifications, 2)
	assert.Equal(t, "newer", snap.Notifications[0].Title)
	assert.Equal(t, notifications.SeverityCritical, snap.Notifications[0].Severity)
	assert.Equal(t, notifications.SeverityWarning, snap.Notifications[1].Severity)
	assert.Equal(t, notifications.DefaultAgent, snap.Notifications[0].Agent)
	assert.Equal(t, notifications.JustNow, snap.Notifications[0].TimeLabel)
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestApply_EmptyBatchIsNoChange(t *testing.T) {
	s := New()
	s.Apply(nil)
	assert.Zero(t, s.Snapshot().Version)
}

// =============================================================================
// Local commands
// =============================================================================

func TestToggleLegalStep_NotFound(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[{"id":1,"steps":[{"step":"a"}]}]}}`))
	before := s.Snapshot()

	_, err := s.ToggleLegalStep("404", "a")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
	_, err = s.ToggleLegalStep("1", "zzz")
	assert.ErrorIs(t, err, core.ErrStepNotFound)

	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("state changed on no-match (-before +after):\n%s", diff)
	}
}

func TestToggleLegalStep_StatusAfterEveryToggle(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[
		{"id":1,"steps":[{"step":"a"},{"step":"b"},{"step":"c"}]}
	]}}`))

	sequence := []struct {
		step string
		want legal.Status
	}{
		{"a", legal.StatusInProgress},
		{"b", legal.StatusInProgress},
		{"c", legal.StatusCompleted},
		{"b", legal.StatusInProgress},
		{"a", legal.StatusInProgress},
		{"c", legal.StatusPending},
	}

	for i, st := range sequence {
		got, err := s.ToggleLegalStep("1", st.step)
		require.NoError(t, err)
		assert.Equal(t, st.want, got.Status, "toggle %d (%s)", i, st.step)
		assert.Equal(t, st.want, s.Snapshot().LegalTasks[0].Status)
	}
}

func TestDeleteLegalTask(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t, `{"type":"data_update","payload":{"category":"legal","tasks":[{"id":1},{"id":2}]}}`))

	require.NoError(t, s.DeleteLegalTask("1"))
	tasks := s.LegalTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, core.ID("2"), tasks[0].ID)

	assert.ErrorIs(t, s.DeleteLegalTask("1"), core.ErrTaskNotFound)
}

func TestMarkAllNotificationsRead_Idempotent(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t,
		`{"type":"notification","payload":{"title":"a"}}`,
		`{"type":"notification","payload":{"title":"b"}}`,
	))

	assert.Equal(t, 2, s.MarkAllNotificationsRead())
	once := s.Snapshot()

	assert.Equal(t, 0, s.MarkAllNotificationsRead())
	twice := s.Snapshot()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second mark-all changed state (-once +twice):\n%s", diff)
	}
	assert.Zero(t, s.UnreadCount())
}

func TestNotificationCommands(t *testing.T) {
	s := New()
	s.Apply(mustDecode(t,
		`{"type":"notification","payload":{"title":"a"}}`,
		`{"type":"notification","payload":{"title":"b"}}`,
	))
	list := s.Snapshot().Notifications

	require.NoError(t, s.MarkNotificationRead(list[0].ID))
	assert.Equal(t, 1, s.UnreadCount())
	v := s.Snapshot().Version
	require.NoError(t, s.MarkNotificationRead(list[0].ID))
	assert.Equal(t, v, s.Snapshot().Version, "re-reading is not a change")

	require.NoError(t, s.DeleteNotification(list[1].ID))
	assert.Len(t, s.Snapshot().Notifications, 1)
	assert.Zero(t, s.UnreadCount())

	assert.ErrorIs(t, s.MarkNotificationRead("missing"), core.ErrNotificationNotFound)
	assert.ErrorIs(t, s.DeleteNotification("missing"), core.ErrNotificationNotFound)
}

func TestChatDelivery(t *testing.T) {
	s := New()
	msg := s.AppendPending("hello")
	assert.Equal(t, core.DeliveryPending, msg.Delivery)

	require.NoError(t, s.SettleDelivery(msg.ID, core.DeliveryDelivered))
	assert.ErrorIs(t, s.SettleDelivery(msg.ID, core.DeliveryFailed), core.ErrDeliverySettled)
	assert.ErrorIs(t, s.SettleDelivery("missing", core.DeliveryFailed), core.ErrMessageNotFound)
	assert.ErrorIs(t, s.SettleDelivery(msg.ID, core.DeliveryPending), core.ErrDeliverySettled)

	last := s.Snapshot().Chat[1]
	assert.Equal(t, "hello", last.Text)
	assert.Equal(t, core.DeliveryDelivered, last.Delivery)

	errMsg := s.AppendError("boom")
	assert.True(t, errMsg.IsError)
	assert.Equal(t, core.SenderAI, errMsg.Sender)
}

func TestUIToggles(t *testing.T) {
	s := New()

	assert.False(t, s.ToggleChatPanel())
	assert.True(t, s.ToggleChatPanel())
	assert.True(t, s.ToggleNotificationPanel())
	assert.True(t, s.ToggleMobileNav())

	ui := s.Snapshot().UI
	assert.Equal(t, UIFlags{ChatOpen: true, NotificationPanelOpen: true, MobileNavOpen: true}, ui)
}

// =============================================================================
// Subscriptions
// =============================================================================

func TestSubscribe(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var versions []uint64

	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	})

	s.AppendMessage("a", core.SenderUser)
	s.ToggleMobileNav()
	s.MarkAllNotificationsRead() // no change, no event
	_ = s.DeleteLegalTask("missing")

	unsubscribe()
	s.AppendMessage("b", core.SenderUser)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestSubscribe_CallbackMayReadStore(t *testing.T) {
	s := New()
	var seen int
	s.Subscribe(func(snap Snapshot) {
		seen = len(s.Snapshot().Chat)
	})

	s.AppendMessage("a", core.SenderUser)
	assert.Equal(t, 2, seen)
}

func TestStore_ConcurrentCommands(t *testing.T) {
	s := New()
	note := mustDecode(t, `{"type":"notification","payload":{"title":"n"}}`)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.AppendMessage("m", core.SenderUser)
		}()
		go func() {
			defer wg.Done()
			s.Apply(note)
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			s.MarkAllNotificationsRead()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap.Chat, 21)
	assert.Len(t, snap.Notifications, 20)
}
