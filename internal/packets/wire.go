package packets

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
	"github.com/bizgenie/bizgenie/internal/notifications"
)

type envelope struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

type dataUpdate struct {
	Category string `json:"category" validate:"required"`
}

type inventoryPayload struct {
	Items []inventoryItem `json:"items" validate:"required,dive"`
}

// inventoryItem accepts the simulator's legacy name/stock keys next to the
// canonical product_name/quantity.
type inventoryItem struct {
	ID             core.ID          `json:"id"`
	ProductName    string           `json:"product_name" validate:"required_without=Name"`
	Name           string           `json:"name"`
	Category       string           `json:"category"`
	Quantity       *decimal.Decimal `json:"quantity"`
	Stock          *decimal.Decimal `json:"stock"`
	Unit           string           `json:"unit"`
	MinThreshold   *decimal.Decimal `json:"min_threshold"`
	ExpirationDate string           `json:"expiration_date"`
	AutoBuy        flexBool         `json:"auto_buy"`
}

func (w inventoryItem) item() core.InventoryItem {
	it := core.InventoryItem{
		ID:             w.ID,
		ProductName:    w.ProductName,
		Category:       w.Category,
		Unit:           w.Unit,
		ExpirationDate: w.ExpirationDate,
		AutoBuy:        bool(w.AutoBuy),
	}
	if it.ProductName == "" {
		it.ProductName = w.Name
	}
	switch {
	case w.Quantity != nil:
		it.Quantity = *w.Quantity
	case w.Stock != nil:
		it.Quantity = *w.Stock
	}
	if w.MinThreshold != nil {
		it.MinThreshold = *w.MinThreshold
	}
	if it.ID == "" {
		it.ID = core.NewID()
	}
	return it
}

type step struct {
	Step     string `json:"step" validate:"required"`
	Action   string `json:"action"`
	Citation string `json:"citation"`
	Source   string `json:"source"`
	Done     bool   `json:"done"`
}

func toSteps(in []step) []legal.Step {
	out := make([]legal.Step, len(in))
	for i, s := range in {
		out[i] = legal.Step(s)
	}
	return out
}

type legalPayload struct {
	Tasks []task `json:"tasks" validate:"omitempty,dive"`
}

// task status is ignored on the wire; it is always re-derived.
type task struct {
	ID          core.ID      `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Steps       []step       `json:"steps" validate:"omitempty,dive"`
	Risks       []legal.Risk `json:"risks"`
}

func (w task) task() legal.Task {
	t := legal.Task{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Steps:       toSteps(w.Steps),
		Risks:       w.Risks,
	}
	if t.ID == "" {
		t.ID = core.NewID()
	}
	return legal.Normalize(t)
}

type researchFields struct {
	Subject   string       `json:"subject"`
	Summary   string       `json:"summary"`
	Checklist []step       `json:"checklist" validate:"omitempty,dive"`
	Risks     []legal.Risk `json:"risks"`
}

type researchEntry struct {
	researchFields
	Research *researchFields `json:"research"`
}

// research merges the nested block over the top level, field by field.
func (w researchEntry) research() legal.Research {
	f := w.researchFields
	if n := w.Research; n != nil {
		if n.Subject != "" {
			f.Subject = n.Subject
		}
		if n.Summary != "" {
			f.Summary = n.Summary
		}
		if n.Checklist != nil {
			f.Checklist = n.Checklist
		}
		if n.Risks != nil {
			f.Risks = n.Risks
		}
	}
	return legal.Research{
		Subject:   f.Subject,
		Summary:   f.Summary,
		Checklist: toSteps(f.Checklist),
		Risks:     f.Risks,
	}
}

type chatPayload struct {
	Text   string `json:"text" validate:"required"`
	Sender string `json:"sender"`
}

type notificationPayload struct {
	Title    string `json:"title" validate:"required"`
	Desc     string `json:"desc"`
	Severity string `json:"severity"`
	Type     string `json:"type"` // legacy name for severity
}

func (w notificationPayload) request() notifications.CreateRequest {
	sev := w.Severity
	if sev == "" {
		sev = w.Type
	}
	return notifications.CreateRequest{
		Title:    w.Title,
		Desc:     w.Desc,
		Severity: notifications.Severity(sev),
		Agent:    notifications.DefaultAgent,
	}
}

// flexBool decodes a JSON bool or a number (non-zero is true).
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("want bool or number, got %s", data)
	}
	*b = n != 0
	return nil
}
