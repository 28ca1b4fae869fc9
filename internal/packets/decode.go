package packets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/legal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report wire names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeBatch decodes every packet independently. Packets that fail are
// reported in errs and left out of the result; order is preserved.
func DecodeBatch(raw []json.RawMessage) (pkts []Packet, errs []*DecodeError) {
	for i, r := range raw {
		p, err := Decode(r)
		if err != nil {
			de := err.(*DecodeError)
			de.Index = i
			errs = append(errs, de)
			continue
		}
		pkts = append(pkts, p)
	}
	return pkts, errs
}

// Decode decodes a single packet. Any error is a *DecodeError.
func Decode(raw json.RawMessage) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Packet{}, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedPacket, err)}
	}
	if err := validate.Struct(env); err != nil {
		return Packet{}, &DecodeError{Err: fmt.Errorf("%w: %s", ErrMalformedPacket, describe(err))}
	}
	if !isObject(env.Payload) {
		return Packet{}, &DecodeError{Err: fmt.Errorf("%w: payload must be an object", ErrMalformedPacket)}
	}

	kind, err := classify(env)
	if err != nil {
		return Packet{}, &DecodeError{Err: err}
	}

	p := Packet{Kind: kind}
	switch kind {
	case KindInventory:
		err = decodeInventory(env.Payload, &p)
	case KindLegal:
		err = decodeLegal(env.Payload, &p)
	case KindLegalResearch:
		err = decodeResearch(env.Payload, &p)
	case KindChatMessage:
		var w chatPayload
		if err = unmarshalValid(env.Payload, &w); err == nil {
			p.ChatText = w.Text
		}
	case KindNotification:
		var w notificationPayload
		if err = unmarshalValid(env.Payload, &w); err == nil {
			p.Notification = w.request()
		}
	}
	if err != nil {
		return Packet{}, &DecodeError{Kind: kind, Err: err}
	}
	return p, nil
}

func classify(env envelope) (Kind, error) {
	switch env.Type {
	case TypeChatMessage:
		return KindChatMessage, nil
	case TypeNotification:
		return KindNotification, nil
	case TypeDataUpdate:
		var du dataUpdate
		if err := json.Unmarshal(env.Payload, &du); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
		if err := validate.Struct(du); err != nil {
			return "", fmt.Errorf("%w: %s", ErrMalformedPacket, describe(err))
		}
		switch k := Kind(du.Category); k {
		case KindInventory, KindLegal, KindLegalResearch:
			return k, nil
		}
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownPacket, env.Type, du.Category)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPacket, env.Type)
}

func decodeInventory(payload json.RawMessage, p *Packet) error {
	var w inventoryPayload
	if err := unmarshalValid(payload, &w); err != nil {
		return err
	}
	p.Inventory = make([]core.InventoryItem, 0, len(w.Items))
	for i, it := range w.Items {
		if it.Quantity == nil && it.Stock == nil {
			return fmt.Errorf("%w: items[%d].quantity is required", ErrInvalidPayload, i)
		}
		p.Inventory = append(p.Inventory, it.item())
	}
	return nil
}

func decodeLegal(payload json.RawMessage, p *Packet) error {
	var w legalPayload
	if err := unmarshalValid(payload, &w); err != nil {
		return err
	}
	p.Tasks = make([]legal.Task, len(w.Tasks))
	for i, t := range w.Tasks {
		p.Tasks[i] = t.task()
	}
	return nil
}

// decodeResearch accepts a payload that is itself the entry, or wraps an
// entry or an array of entries in "data".
func decodeResearch(payload json.RawMessage, p *Packet) error {
	body := payload
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(wrapper.Data) > 0 && !bytes.Equal(bytes.TrimSpace(wrapper.Data), []byte("null")) {
		body = wrapper.Data
	}

	var entries []researchEntry
	isArray := bytes.HasPrefix(bytes.TrimSpace(body), []byte("["))
	if isArray {
		if err := json.Unmarshal(body, &entries); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else {
		var e researchEntry
		if err := json.Unmarshal(body, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		entries = []researchEntry{e}
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrEmptyResearch)
	}

	p.Research = make([]legal.Research, len(entries))
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return fmt.Errorf("%w: entry %d: %s", ErrInvalidPayload, i, describe(err))
		}
		r := e.research()
		if r.Empty() {
			return fmt.Errorf("%w (entry %d)", ErrEmptyResearch, i)
		}
		p.Research[i] = r
	}
	p.ReplaceTasks = isArray && len(entries) > 1
	return nil
}

func unmarshalValid(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	return nil
}

// describe flattens validator errors into "field: tag" pairs.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", trimRoot(fe.Namespace()), fe.Tag()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func isObject(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
}
