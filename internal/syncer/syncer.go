// Package syncer keeps the state store current with the proxy: it runs the
// update poll and the commands that need the network.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/logging"
	"github.com/bizgenie/bizgenie/internal/packets"
	"github.com/bizgenie/bizgenie/internal/scheduler"
	"github.com/bizgenie/bizgenie/internal/state"
	"github.com/bizgenie/bizgenie/internal/transport"
)

const (
	// PollTaskID names the update poll in the scheduler.
	PollTaskID = "poll-updates"

	// DefaultPollInterval matches the proxy's expected cadence.
	DefaultPollInterval = 2 * time.Second

	// ChatFailureText is shown in the transcript when a message cannot be sent.
	ChatFailureText = "Unable to reach the server right now. Please try again later."

	// LegalSavedText confirms a successful legal save.
	LegalSavedText = "Legal changes saved."
)

// Proxy is the remote side the synchronizer talks to. *transport.Client
// implements it.
type Proxy interface {
	SendChat(ctx context.Context, message string, chatContext map[string]any) (*transport.ChatReply, error)
	FetchUpdates(ctx context.Context) ([]json.RawMessage, error)
	SaveLegal(ctx context.Context, tasks []legal.Task) (string, error)
	Upload(ctx context.Context, name string, r io.Reader) (*transport.UploadResult, error)
	FileURL(name string) string
}

// Options configures a Synchronizer
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration // bound on one poll; defaults to the transport timeout
	ManualStart  bool          // do not start polling in New
}

// Synchronizer owns the poll loop and the network-backed commands.
type Synchronizer struct {
	store *state.Store
	proxy Proxy
	sched *scheduler.Scheduler

	// generation is bumped by Stop; a poll response fetched under an older
	// generation is discarded. applyMu makes check-and-apply atomic with
	// respect to the bump.
	generation atomic.Uint64
	applyMu    sync.RWMutex

	bg  sync.WaitGroup
	log *logging.Logger
}

// New creates a synchronizer and, unless opts.ManualStart is set, starts
// polling.
func New(store *state.Store, proxy Proxy, opts Options) (*Synchronizer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = transport.DefaultConfig().Timeout
	}

	s := &Synchronizer{
		store: store,
		proxy: proxy,
		sched: scheduler.NewScheduler(scheduler.Config{DefaultTimeout: opts.PollTimeout}),
		log:   logging.Component("syncer"),
	}

	task := scheduler.IntervalTask(PollTaskID, "Poll proxy updates", opts.PollInterval, s.poll)
	if err := s.sched.Register(task); err != nil {
		return nil, fmt.Errorf("register poll task: %w", err)
	}

	if !opts.ManualStart {
		if err := s.Start(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Store returns the underlying state store.
func (s *Synchronizer) Store() *state.Store {
	return s.store
}

// Start begins polling.
func (s *Synchronizer) Start() error {
	if err := s.sched.Start(); err != nil {
		return fmt.Errorf("start polling: %w", err)
	}
	s.log.Info("polling started")
	return nil
}

// Stop halts polling. An in-flight poll is cancelled and its response, if
// one still arrives, is never applied. Background forwards are awaited.
func (s *Synchronizer) Stop() {
	s.applyMu.Lock()
	s.generation.Add(1)
	s.applyMu.Unlock()

	s.sched.Stop()
	s.bg.Wait()
	s.log.Info("polling stopped")
}

// Stats returns poll loop statistics.
func (s *Synchronizer) Stats() scheduler.Stats {
	return s.sched.GetStats()
}

// PollOnce runs a poll immediately. It returns scheduler.ErrBusy when a
// scheduled poll is already in flight.
func (s *Synchronizer) PollOnce(ctx context.Context) error {
	return s.sched.RunNow(ctx, PollTaskID)
}

func (s *Synchronizer) poll(ctx context.Context) error {
	gen := s.generation.Load()

	raw, err := s.proxy.FetchUpdates(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Warn("poll failed")
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	pkts, errs := packets.DecodeBatch(raw)
	for _, de := range errs {
		entry := s.log.WithFields(map[string]interface{}{
			"index": de.Index,
			"kind":  de.Kind,
		}).WithError(de.Err)
		if errors.Is(de, packets.ErrUnknownPacket) {
			entry.Debug("skipping unknown packet")
		} else {
			entry.Warn("skipping undecodable packet")
		}
	}

	s.applyMu.RLock()
	defer s.applyMu.RUnlock()
	if s.generation.Load() != gen {
		s.log.WithField("packets", len(pkts)).Debug("discarding stale poll response")
		return nil
	}
	s.store.Apply(pkts)
	s.log.WithFields(map[string]interface{}{
		"received": len(raw),
		"applied":  len(pkts),
	}).Debug("updates applied")
	return nil
}

// =============================================================================
// Local commands
// =============================================================================

// Snapshot returns the current state.
func (s *Synchronizer) Snapshot() state.Snapshot {
	return s.store.Snapshot()
}

// OnBusinessConnect onboards an existing business. No network is involved.
func (s *Synchronizer) OnBusinessConnect(form state.ConnectForm) (core.BusinessProfile, error) {
	return s.store.ConnectBusiness(form)
}

// ToggleLegalStep flips a step and re-derives the task status.
func (s *Synchronizer) ToggleLegalStep(taskID core.ID, stepName string) (legal.Task, error) {
	return s.store.ToggleLegalStep(taskID, stepName)
}

// DeleteLegalTask removes a task locally; the proxy is not told.
func (s *Synchronizer) DeleteLegalTask(taskID core.ID) error {
	return s.store.DeleteLegalTask(taskID)
}

// MarkNotificationRead marks one notification read.
func (s *Synchronizer) MarkNotificationRead(id core.ID) error {
	return s.store.MarkNotificationRead(id)
}

// MarkAllNotificationsRead marks every notification read.
func (s *Synchronizer) MarkAllNotificationsRead() int {
	return s.store.MarkAllNotificationsRead()
}

// DeleteNotification removes a notification.
func (s *Synchronizer) DeleteNotification(id core.ID) error {
	return s.store.DeleteNotification(id)
}

func (s *Synchronizer) ToggleChatPanel() bool         { return s.store.ToggleChatPanel() }
func (s *Synchronizer) ToggleNotificationPanel() bool { return s.store.ToggleNotificationPanel() }
func (s *Synchronizer) ToggleMobileNav() bool         { return s.store.ToggleMobileNav() }

// =============================================================================
// Network-backed commands
// =============================================================================

// OnBusinessStart onboards a business described in free text. The profile
// and the user message are recorded before returning; the description is
// then forwarded to the proxy in the background and a failure is only
// logged.
func (s *Synchronizer) OnBusinessStart(ctx context.Context, description string) (core.BusinessProfile, error) {
	profile, err := s.store.StartBusiness(description)
	if err != nil {
		return profile, err
	}

	fwdCtx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		_, err := s.proxy.SendChat(fwdCtx, profile.Details, map[string]any{"stage": string(core.StageStartup)})
		if err != nil {
			s.log.WithError(err).Warn("forwarding business description failed")
			return
		}
		s.log.Debug("business description forwarded")
	}()

	return profile, nil
}

// SendChatMessage appends the user's message immediately and forwards it.
// On success the reply, if it carries text, is appended and returned. On
// failure the message is marked failed and an error message is appended and
// returned; transport errors are not returned to the caller. A nil message
// with a nil error means the answer will arrive through the update poll.
func (s *Synchronizer) SendChatMessage(ctx context.Context, text string) (*core.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.ErrEmptyMessage
	}

	pending := s.store.AppendPending(text)

	reply, err := s.proxy.SendChat(ctx, text, s.chatContext())
	if err != nil {
		s.log.WithError(err).Warn("chat message not delivered")
		if serr := s.store.SettleDelivery(pending.ID, core.DeliveryFailed); serr != nil {
			s.log.WithError(serr).Error("settling chat delivery")
		}
		msg := s.store.AppendError(ChatFailureText)
		return &msg, nil
	}

	if serr := s.store.SettleDelivery(pending.ID, core.DeliveryDelivered); serr != nil {
		s.log.WithError(serr).Error("settling chat delivery")
	}
	if strings.TrimSpace(reply.Text) == "" {
		return nil, nil
	}

	sender := core.Sender(reply.Sender)
	if !sender.Valid() || sender == core.SenderUser {
		sender = core.SenderAI
	}
	msg := s.store.AppendMessage(reply.Text, sender)
	return &msg, nil
}

// chatContext describes the business to the proxy, empty before onboarding.
func (s *Synchronizer) chatContext() map[string]any {
	b := s.store.Business()
	if b == nil {
		return map[string]any{}
	}
	ctx := map[string]any{
		"name":     b.Name,
		"category": b.Category,
		"stage":    string(b.Stage),
	}
	if b.RegistrationID != "" {
		ctx["registration_id"] = b.RegistrationID
	}
	return ctx
}

// SaveLegalChanges pushes the whole task list to the proxy. Unlike the other
// commands, a failure is returned so the caller can offer a retry.
func (s *Synchronizer) SaveLegalChanges(ctx context.Context) error {
	tasks := s.store.LegalTasks()

	status, err := s.proxy.SaveLegal(ctx, tasks)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSaveFailed, err)
	}
	if status != "" && status != "saved" {
		s.log.WithField("status", status).Warn("legal changes saved without backend confirmation")
	}

	s.store.AppendMessage(LegalSavedText, core.SenderSystem)
	return nil
}

// UploadDocument sends a document to the proxy's storage.
func (s *Synchronizer) UploadDocument(ctx context.Context, name string, r io.Reader) (*transport.UploadResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.ErrMissingDocumentName
	}

	res, err := s.proxy.Upload(ctx, name, r)
	if err != nil {
		return nil, err
	}
	if res.Simulated() {
		s.log.WithFields(map[string]interface{}{
			"document": name,
			"warning":  res.Warning,
		}).Warn("upload accepted but not forwarded")
	}
	return res, nil
}

// FileURL returns where an uploaded document can be downloaded.
func (s *Synchronizer) FileURL(name string) string {
	return s.proxy.FileURL(name)
}
