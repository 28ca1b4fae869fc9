package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bizgenie/bizgenie/internal/state"
	"github.com/bizgenie/bizgenie/internal/transport"
)

// maxUploadSize bounds multipart document uploads.
const maxUploadSize = 32 << 20

// =============================================================================
// State
// =============================================================================

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sync.Snapshot())
}

func (s *Server) handleGetSyncStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sync.Stats())
}

func (s *Server) handleGetLowStock(w http.ResponseWriter, r *http.Request) {
	items := s.sync.Store().LowStock()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// =============================================================================
// Onboarding
// =============================================================================

type startRequest struct {
	Description string `json:"description" validate:"required"`
}

type connectRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	RegistrationID string `json:"registration_id" validate:"omitempty,max=64"`
	Category       string `json:"category"`
}

func (s *Server) handleOnboardingStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	profile, err := s.sync.OnBusinessStart(r.Context(), req.Description)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleOnboardingConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	profile, err := s.sync.OnBusinessConnect(state.ConnectForm{
		Name:           req.Name,
		RegistrationID: req.RegistrationID,
		Category:       req.Category,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

// =============================================================================
// Chat
// =============================================================================

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

// handleChat returns the reply, the error message on delivery failure, or
// null when the answer will arrive with the next update poll.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	reply, err := s.sync.SendChatMessage(r.Context(), req.Message)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reply": reply})
}

// =============================================================================
// Legal
// =============================================================================

type toggleRequest struct {
	Step string `json:"step" validate:"required"`
}

func (s *Server) handleToggleLegalStep(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	task, err := s.sync.ToggleLegalStep(pathID(r), req.Step)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteLegalTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.DeleteLegalTask(pathID(r)); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveLegal(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.SaveLegalChanges(r.Context()); err != nil {
		s.log.WithError(err).Warn("legal save failed")
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// =============================================================================
// Notifications
// =============================================================================

func (s *Server) handleGetUnreadCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"count": s.sync.Store().UnreadCount()})
}

func (s *Server) handleGetNotificationStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sync.Store().NotificationStats())
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"marked": s.sync.MarkAllNotificationsRead()})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.MarkNotificationRead(pathID(r)); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.DeleteNotification(pathID(r)); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// UI flags
// =============================================================================

func (s *Server) handleTogglePanel(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	var open bool
	switch panel {
	case "chat":
		open = s.sync.ToggleChatPanel()
	case "notifications":
		open = s.sync.ToggleNotificationPanel()
	case "nav":
		open = s.sync.ToggleMobileNav()
	default:
		respondError(w, http.StatusNotFound, "unknown panel: "+panel)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"panel": panel, "open": open})
}

// =============================================================================
// Documents
// =============================================================================

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	name := strings.TrimSpace(header.Filename)
	if name == "" {
		respondError(w, http.StatusBadRequest, "document name is required")
		return
	}

	res, err := s.sync.UploadDocument(r.Context(), name, file)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || strings.TrimSpace(name) == "" {
		respondError(w, http.StatusBadRequest, "invalid document name")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": s.sync.FileURL(name)})
}
