package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"learning-agent/internal/app"
	"learning-agent/internal/auth"
	"learning-agent/internal/logger"
	interactionService "learning-agent/internal/service/interaction"
	"learning-agent/pkg/api"
	"learning-agent/pkg/validation"

	"github.com/sirupsen/logrus"
)

const healthTimeout = 2 * time.Second

// InteractionHandlers serves the interact, answer and health endpoints
type InteractionHandlers struct {
	config             *app.Config
	validator          *validation.InteractionValidator
	interactionService *interactionService.Service
}

// NewInteractionHandlers creates a new InteractionHandlers with service layer
func NewInteractionHandlers(config *app.Config) *InteractionHandlers {
	return &InteractionHandlers{
		config:             config,
		validator:          validation.NewInteractionValidator(),
		interactionService: interactionService.NewService(config),
	}
}

// InteractHandler classifies and rewrites a prompt, or answers it when the enhancer is disabled
func (h *InteractionHandlers) InteractHandler(w http.ResponseWriter, r *http.Request) {
	var req api.InteractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.validator.ValidateInteract(req); err != nil {
		h.sendError(w, http.StatusBadRequest, validation.Message(err), err)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"client":           auth.ClientFromContext(r.Context()),
		"enhancer_enabled": req.EnhancerEnabled,
	}).Debug("Interact request received")

	resp, err := h.interactionService.Interact(r.Context(), req)
	if err != nil {
		if errors.Is(err, interactionService.ErrModeRequired) {
			h.sendError(w, http.StatusBadRequest, err.Error(), err)
			return
		}
		logger.Log.WithError(err).Error("Error processing interact request")
		h.sendError(w, http.StatusInternalServerError, "Error processing request", err)
		return
	}

	h.sendJSON(w, http.StatusOK, resp)
}

// AnswerHandler answers the prompt version the user chose
func (h *InteractionHandlers) AnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req api.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.validator.ValidateAnswer(req); err != nil {
		h.sendError(w, http.StatusBadRequest, validation.Message(err), err)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"client":         auth.ClientFromContext(r.Context()),
		"has_stub":       req.InteractionID != nil,
		"chosen_version": req.ChosenVersion,
	}).Debug("Answer request received")

	resp, err := h.interactionService.Answer(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).Error("Error processing answer request")
		h.sendError(w, http.StatusInternalServerError, "Error setting up conversation", err)
		return
	}

	h.sendJSON(w, http.StatusOK, resp)
}

// HealthHandler reports that the server is up and its interaction log is reachable
func (h *InteractionHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.config.DB.Ping(ctx); err != nil {
		h.sendError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	h.sendJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (h *InteractionHandlers) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("Error encoding response")
	}
}

func (h *InteractionHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := api.ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}
