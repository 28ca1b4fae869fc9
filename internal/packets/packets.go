// Package packets decodes the update packets delivered by the proxy's
// /updates endpoint into typed values the state store can apply.
package packets

import (
	"errors"
	"fmt"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/notifications"
)

// Kind identifies what a packet updates
type Kind string

const (
	KindInventory     Kind = "inventory"
	KindLegal         Kind = "legal"
	KindLegalResearch Kind = "legal_research"
	KindChatMessage   Kind = "chat_message"
	KindNotification  Kind = "notification"
)

// Envelope types on the wire
const (
	TypeDataUpdate   = "data_update"
	TypeChatMessage  = "chat_message"
	TypeNotification = "notification"
)

// Decode failure classes
var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrUnknownPacket   = errors.New("unknown packet type")
	ErrInvalidPayload  = errors.New("invalid packet payload")
	ErrEmptyResearch   = errors.New("research entry has no subject, summary or checklist")
)

// DecodeError reports why the packet at Index could not be decoded.
type DecodeError struct {
	Index int
	Kind  Kind
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("packet %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("packet %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Packet is one decoded update. Only the fields belonging to Kind are set.
type Packet struct {
	Kind Kind

	// KindInventory
	Inventory []core.InventoryItem

	// KindLegal
	Tasks []legal.Task

	// KindLegalResearch. ReplaceTasks is set when the proxy sent an explicit
	// set of several entries; otherwise the entries are prepended.
	Research     []legal.Research
	ReplaceTasks bool

	// KindChatMessage
	ChatText string

	// KindNotification
	Notification notifications.CreateRequest
}
