package mockservers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestProxyMockServer_UpdatesDrainQueue(t *testing.T) {
	mock := NewProxyMockServer(t)
	mock.Push(json.RawMessage(`{"type":"chat_message","payload":{"text":"hi"}}`))

	get := func() []json.RawMessage {
		resp, err := http.Get(mock.URL() + "/updates")
		if err != nil {
			t.Fatalf("GET /updates: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Updates []json.RawMessage `json:"updates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Updates
	}

	if got := get(); len(got) != 1 {
		t.Fatalf("first poll returned %d updates, want 1", len(got))
	}
	if got := get(); len(got) != 0 {
		t.Errorf("second poll returned %d updates, want 0", len(got))
	}
	if n := len(mock.RequestsTo("/api/updates")); n != 2 {
		t.Errorf("recorded %d update requests, want 2", n)
	}
}

func TestProxyMockServer_Failing(t *testing.T) {
	mock := NewProxyMockServer(t)
	mock.SetFailing(true)

	resp, err := http.Post(mock.URL()+"/chat", "application/json", strings.NewReader(`{"message":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	reqs := mock.RequestsTo("/api/chat")
	if len(reqs) != 1 || string(reqs[0].Body) != `{"message":"x"}` {
		t.Errorf("unexpected recorded requests: %+v", reqs)
	}
}
