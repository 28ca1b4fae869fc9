package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizgenie/bizgenie/internal/legal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL + "/api", Timeout: 2 * time.Second})
}

// =============================================================================
// Config Tests
// =============================================================================

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, "http://localhost:5000/api", c.BaseURL())
	assert.Equal(t, 8*time.Second, c.httpClient.Timeout)
}

func TestNewClient_TrimsSlash(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://proxy/api/"})
	assert.Equal(t, "http://proxy/api", c.BaseURL())
	assert.Equal(t, "http://proxy/api/files/menu%20v2.pdf", c.FileURL("menu v2.pdf"))
}

// =============================================================================
// Chat
// =============================================================================

func TestSendChat(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"text":"Hi there","sender":"ai"}`))
	})

	reply, err := c.SendChat(context.Background(), "hello", map[string]any{"stage": "startup"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply.Text)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "startup", got.Context["stage"])
}

func TestSendChat_NilContextSentAsObject(t *testing.T) {
	var raw map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	})

	reply, err := c.SendChat(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	assert.Equal(t, "processing", reply.Status)
	assert.JSONEq(t, `{}`, string(raw["context"]))
}

func TestSendChat_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"orchestrator unreachable"}`))
	})

	_, err := c.SendChat(context.Background(), "hello", nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Contains(t, se.Body, "orchestrator unreachable")
}

// =============================================================================
// Updates
// =============================================================================

func TestFetchUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/updates", r.URL.Path)
		_, _ = w.Write([]byte(`{"updates":[{"type":"chat_message","payload":{"text":"a"}},{"type":"bogus"}]}`))
	})

	updates, err := c.FetchUpdates(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.JSONEq(t, `{"type":"bogus"}`, string(updates[1]))
}

func TestFetchUpdates_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.FetchUpdates(context.Background())
	assert.ErrorContains(t, err, "decode response")
}

func TestFetchUpdates_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.FetchUpdates(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Legal save
// =============================================================================

func TestSaveLegal(t *testing.T) {
	var got SaveLegalRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/legal/save", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"saved"}`))
	})

	tasks := []legal.Task{legal.Normalize(legal.Task{ID: "1", Title: "ONRC", Steps: []legal.Step{{Step: "File", Done: true}}})}
	status, err := c.SaveLegal(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, "saved", status)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, legal.StatusCompleted, got.Tasks[0].Status)
}

func TestSaveLegal_NilSendsEmptyList(t *testing.T) {
	var raw map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"status":"saved_offline"}`))
	})

	status, err := c.SaveLegal(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "saved_offline", status)
	assert.JSONEq(t, `[]`, string(raw["tasks"]))
}

// =============================================================================
// Documents
// =============================================================================

func TestUpload(t *testing.T) {
	var gotName, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName, gotBody = header.Filename, string(data)
		_, _ = w.Write([]byte(`{"status":"simulated_success","warning":"orchestrator_upload_failed"}`))
	})

	res, err := c.Upload(context.Background(), "invoice.pdf", bytes.NewBufferString("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", gotName)
	assert.Equal(t, "%PDF-1.4", gotBody)
	assert.True(t, res.Simulated())
	assert.Equal(t, "orchestrator_upload_failed", res.Warning)
	assert.Equal(t, c.FileURL("invoice.pdf"), res.URL)
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/invoice.pdf" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"File not found"}`))
			return
		}
		_, _ = w.Write([]byte("content"))
	})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "invoice.pdf", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "content", buf.String())

	_, err = c.Download(context.Background(), "missing.pdf", &buf)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimit_WaitRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"updates":[]}`))
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{BaseURL: server.URL, RateLimit: 0.01, Burst: 1})

	_, err := c.FetchUpdates(context.Background())
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchUpdates(ctx)
	assert.Error(t, err, "second request must wait for a token")
}

func TestStatusError_Message(t *testing.T) {
	assert.Equal(t, "proxy error 500", (&StatusError{Code: 500}).Error())
	assert.Equal(t, "proxy error 503: down", (&StatusError{Code: 503, Body: "down"}).Error())
}
