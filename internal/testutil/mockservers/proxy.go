// Package mockservers provides fake HTTP backends for tests.
package mockservers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RecordedRequest is a request the fake proxy received.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// ProxyMockServer is an in-process stand-in for the BizGenie proxy. Update
// packets pushed with Push are delivered once by the next GET /api/updates,
// as the real proxy drains its queue.
type ProxyMockServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	queue     []json.RawMessage
	failing   bool
	chatReply map[string]any
	saveReply map[string]any
	hold      chan struct{}
	requests  []RecordedRequest
	files     map[string][]byte
	saved     [][]byte
}

// NewProxyMockServer starts the fake proxy; it is closed when the test ends.
func NewProxyMockServer(t *testing.T) *ProxyMockServer {
	t.Helper()

	mock := &ProxyMockServer{
		chatReply: map[string]any{"text": "Got it.", "sender": "ai"},
		saveReply: map[string]any{"status": "saved"},
		files:     make(map[string][]byte),
	}

	r := chi.NewRouter()
	r.Use(mock.record)
	r.Use(mock.failWhenDown)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", mock.handleChat)
		r.Get("/updates", mock.handleUpdates)
		r.Post("/legal/save", mock.handleSave)
		r.Post("/upload", mock.handleUpload)
		r.Get("/files/{name}", mock.handleFile)
	})

	mock.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		mock.Release()
		mock.Server.Close()
	})

	return mock
}

// URL returns the API root to configure clients with.
func (m *ProxyMockServer) URL() string {
	return m.Server.URL + "/api"
}

// Push queues packets for the next poll.
func (m *ProxyMockServer) Push(packets ...json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, packets...)
}

// Pending returns the number of queued packets.
func (m *ProxyMockServer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// SetFailing makes every endpoint answer 503.
func (m *ProxyMockServer) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// SetChatReply sets the body returned by POST /api/chat.
func (m *ProxyMockServer) SetChatReply(reply map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatReply = reply
}

// SetSaveReply sets the body returned by POST /api/legal/save.
func (m *ProxyMockServer) SetSaveReply(reply map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveReply = reply
}

// Hold makes GET /api/updates block until Release is called or the client
// goes away. Packets queued at release time are still delivered.
func (m *ProxyMockServer) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold == nil {
		m.hold = make(chan struct{})
	}
}

// Release unblocks held update requests.
func (m *ProxyMockServer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// Requests returns the requests received so far.
func (m *ProxyMockServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsTo returns the recorded requests for one path.
func (m *ProxyMockServer) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// File returns an uploaded document.
func (m *ProxyMockServer) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// PutFile stores a document as if it had been uploaded.
func (m *ProxyMockServer) PutFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
}

// Saved returns the raw bodies of every legal save.
func (m *ProxyMockServer) Saved() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.saved...)
}

func (m *ProxyMockServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{Method: r.Method, Path: r.URL.Path}
		if r.Header.Get("Content-Type") == "application/json" {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			rec.Body = body
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		m.mu.Lock()
		m.requests = append(m.requests, rec)
		m.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (m *ProxyMockServer) failWhenDown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		failing := m.failing
		m.mu.Unlock()
		if failing {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "proxy unavailable"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *ProxyMockServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing message"})
		return
	}
	m.mu.Lock()
	reply := m.chatReply
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, reply)
}

func (m *ProxyMockServer) handleUpdates(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	m.mu.Lock()
	updates := m.queue
	m.queue = nil
	m.mu.Unlock()
	if updates == nil {
		updates = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

func (m *ProxyMockServer) handleSave(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.saved = append(m.saved, body)
	reply := m.saveReply
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, reply)
}

func (m *ProxyMockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No file part"})
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	m.PutFile(header.Filename, data)
	writeJSON(w, http.StatusOK, map[string]any{"status": "uploaded"})
}

func (m *ProxyMockServer) handleFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad file name"})
		return
	}
	data, ok := m.File(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "File not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
