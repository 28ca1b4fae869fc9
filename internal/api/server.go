// Package api provides the local HTTP and WebSocket surface through which
// views read BizGenie state and issue commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/logging"
	"github.com/bizgenie/bizgenie/internal/state"
	"github.com/bizgenie/bizgenie/internal/syncer"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	sync     *syncer.Synchronizer
	wsHub    *WebSocketHub
	validate *validator.Validate
	unsub    func()
	log      *logging.Logger
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	Synchronizer   *syncer.Synchronizer
	AllowedOrigins []string // default: any
}

// New creates a new API server. It subscribes to state changes and pushes
// them to WebSocket clients until Stop.
func New(cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		sync:     cfg.Synchronizer,
		wsHub:    NewWebSocketHub(),
		validate: newValidator(),
		log:      logging.Component("api"),
	}

	s.unsub = s.sync.Store().Subscribe(func(snap state.Snapshot) {
		s.wsHub.BroadcastState(snap)
	})

	s.setupRouter(cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/state", s.handleGetState)
		r.Get("/sync/stats", s.handleGetSyncStats)
		r.Get("/inventory/low-stock", s.handleGetLowStock)

		// Onboarding
		r.Post("/onboarding/start", s.handleOnboardingStart)
		r.Post("/onboarding/connect", s.handleOnboardingConnect)

		// Chat
		r.Post("/chat", s.handleChat)

		// Legal
		r.Post("/legal/tasks/{id}/toggle", s.handleToggleLegalStep)
		r.Delete("/legal/tasks/{id}", s.handleDeleteLegalTask)
		r.Post("/legal/save", s.handleSaveLegal)

		// Notifications
		r.Get("/notifications/unread-count", s.handleGetUnreadCount)
		r.Get("/notifications/stats", s.handleGetNotificationStats)
		r.Post("/notifications/read-all", s.handleMarkAllNotificationsRead)
		r.Post("/notifications/{id}/read", s.handleMarkNotificationRead)
		r.Delete("/notifications/{id}", s.handleDeleteNotification)

		// UI flags
		r.Post("/ui/{panel}/toggle", s.handleTogglePanel)

		// Documents
		r.Post("/documents", s.handleUploadDocument)
		r.Get("/documents/{name}/url", s.handleDocumentURL)
	})

	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("API server starting on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and disconnects WebSocket clients
func (s *Server) Stop(ctx context.Context) error {
	s.unsub()
	s.wsHub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).Round(time.Microsecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors to status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrTaskNotFound),
		errors.Is(err, core.ErrStepNotFound),
		errors.Is(err, core.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyOnboarded):
		status = http.StatusConflict
	case errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrMissingName),
		errors.Is(err, core.ErrMissingDocumentName):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrSaveFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	respondError(w, status, err.Error())
}

// decodeBody decodes and validates a JSON request body. On failure it writes
// the response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "validation failed",
				"fields": validationFields(verrs),
			})
			return false
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func pathID(r *http.Request) core.ID {
	return core.ID(chi.URLParam(r, "id"))
}
