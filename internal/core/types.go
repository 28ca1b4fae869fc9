// Package core defines the fundamental types for BizGenie.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// ID - identifiers minted locally or handed out by the proxy
// -----------------------------------------------------------------------------

// ID identifies an entity. The proxy sends numeric ids; ids minted on this
// side are UUIDs. Both decode into the same string form, and numeric ids
// encode back as numbers.
type ID string

// NewID returns a fresh UUID-backed ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := n.Int64(); err == nil {
		*id = ID(n.String())
		return nil
	}
	// 101 and 101.0 name the same entity
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = ID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes ids that came in as numbers back as numbers, so the
// proxy sees its own ids unchanged. Everything else is a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	if isNumber(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

func (id ID) String() string { return string(id) }

// -----------------------------------------------------------------------------
// BUSINESS PROFILE - set once at onboarding
// -----------------------------------------------------------------------------

// Stage is the lifecycle stage of the business
type Stage string

const (
	StageStartup Stage = "startup" // described in chat, not yet registered
	StageActive  Stage = "active"  // connected with a registration id
)

// BusinessProfile describes the onboarded business. Absence means "not onboarded".
type BusinessProfile struct {
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Stage          Stage     `json:"stage"`
	Details        string    `json:"details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// INVENTORY
// -----------------------------------------------------------------------------

// InventoryItem is one stocked product.
type InventoryItem struct {
	ID             ID              `json:"id"`
	ProductName    string          `json:"product_name"`
	Category       string          `json:"category,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit,omitempty"`
	MinThreshold   decimal.Decimal `json:"min_threshold"`
	ExpirationDate string          `json:"expiration_date,omitempty"`
	AutoBuy        bool            `json:"auto_buy"`
}

// MarshalJSON writes the quantities as JSON numbers rather than decimal's
// default quoted strings.
func (i InventoryItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID             ID          `json:"id"`
		ProductName    string      `json:"product_name"`
		Category       string      `json:"category,omitempty"`
		Quantity       json.Number `json:"quantity"`
		Unit           string      `json:"unit,omitempty"`
		MinThreshold   json.Number `json:"min_threshold"`
		ExpirationDate string      `json:"expiration_date,omitempty"`
		AutoBuy        bool        `json:"auto_buy"`
	}{
		ID:             i.ID,
		ProductName:    i.ProductName,
		Category:       i.Category,
		Quantity:       json.Number(i.Quantity.String()),
		Unit:           i.Unit,
		MinThreshold:   json.Number(i.MinThreshold.String()),
		ExpirationDate: i.ExpirationDate,
		AutoBuy:        i.AutoBuy,
	})
}

// LowStock reports quantity < minThreshold.
func (i InventoryItem) LowStock() bool {
	return i.Quantity.LessThan(i.MinThreshold)
}

// -----------------------------------------------------------------------------
// CHAT
// -----------------------------------------------------------------------------

// Sender identifies who wrote a chat message
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAI, SenderSystem:
		return true
	}
	return false
}

// Delivery tracks an optimistically appended user message.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryDelivered Delivery = "delivered"
	DeliveryFailed    Delivery = "failed"
)

// ChatMessage is one entry of the append-only transcript.
type ChatMessage struct {
	ID        ID        `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Delivery  Delivery  `json:"delivery,omitempty"` // user messages only
	IsError   bool      `json:"is_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatMessage builds a message with a fresh id.
func NewChatMessage(text string, sender Sender) ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Text:      text,
		Sender:    sender,
		CreatedAt: time.Now().UTC(),
	}
}
