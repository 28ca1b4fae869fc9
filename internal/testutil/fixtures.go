package testutil

import (
	"encoding/json"
	"fmt"
)

// Update packets in the proxy's wire format.

// InventoryItemFixture is one item of an inventory packet
type InventoryItemFixture struct {
	ID           int     `json:"id"`
	ProductName  string  `json:"product_name"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit,omitempty"`
	MinThreshold float64 `json:"min_threshold"`
	AutoBuy      bool    `json:"auto_buy"`
}

// DefaultInventory returns a small restaurant stock list with one low item.
func DefaultInventory() []InventoryItemFixture {
	return []InventoryItemFixture{
		{ID: 1, ProductName: "Pizza flour", Quantity: 25, Unit: "kg", MinThreshold: 10},
		{ID: 2, ProductName: "Tomato sauce", Quantity: 4, Unit: "L", MinThreshold: 5, AutoBuy: true},
		{ID: 3, ProductName: "Mozzarella", Quantity: 12, Unit: "kg", MinThreshold: 8},
	}
}

// InventoryPacket builds a data_update/inventory packet.
func InventoryPacket(items []InventoryItemFixture) json.RawMessage {
	return mustJSON(map[string]any{
		"type":    "data_update",
		"payload": map[string]any{"category": "inventory", "items": items},
	})
}

// LegalTaskFixture is one task of a legal packet
type LegalTaskFixture struct {
	ID    int                `json:"id"`
	Title string             `json:"title"`
	Steps []LegalStepFixture `json:"steps"`
}

// LegalStepFixture is one checklist step
type LegalStepFixture struct {
	Step string `json:"step"`
	Done bool   `json:"done"`
}

// LegalPacket builds a data_update/legal packet.
func LegalPacket(tasks []LegalTaskFixture) json.RawMessage {
	return mustJSON(map[string]any{
		"type":    "data_update",
		"payload": map[string]any{"category": "legal", "tasks": tasks},
	})
}

// ResearchPacket builds a data_update/legal_research packet with one entry
// whose summary and checklist are nested under "research".
func ResearchPacket(subject, summary string, steps ...string) json.RawMessage {
	checklist := make([]map[string]any, len(steps))
	for i, s := range steps {
		checklist[i] = map[string]any{"step": s, "done": false}
	}
	return mustJSON(map[string]any{
		"type": "data_update",
		"payload": map[string]any{
			"category": "legal_research",
			"data": map[string]any{
				"subject":  subject,
				"research": map[string]any{"summary": summary, "checklist": checklist},
			},
		},
	})
}

// ChatPacket builds a chat_message packet.
func ChatPacket(text string) json.RawMessage {
	return mustJSON(map[string]any{
		"type":    "chat_message",
		"payload": map[string]any{"text": text, "sender": "ai"},
	})
}

// NotificationPacket builds a notification packet.
func NotificationPacket(title, desc, severity string) json.RawMessage {
	return mustJSON(map[string]any{
		"type":    "notification",
		"payload": map[string]any{"title": title, "desc": desc, "severity": severity},
	})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fixture: %v", err))
	}
	return data
}
