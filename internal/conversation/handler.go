package conversation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

const maxRequestBody = 64 << 10

// Handler wires the bot HTTP routes to the orchestrator.
type Handler struct {
	orchestrator *Orchestrator
	logger       *logging.Logger
}

// NewHandler creates a bot handler.
func NewHandler(orchestrator *Orchestrator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

type messageRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

type messageResponse struct {
	Reply    string         `json:"reply"`
	LeadInfo leads.Snapshot `json:"leadInfo"`
}

type historyResponse struct {
	History  []Turn         `json:"history"`
	LeadInfo leads.Snapshot `json:"leadInfo"`
}

type leadsResponse struct {
	Leads    []LeadSummary `json:"leads"`
	Degraded bool          `json:"degraded"`
}

type leadUpdateRequest struct {
	PropertyID        *string                  `json:"property_id"`
	QualificationData *leads.QualificationData `json:"qualification_data"`
}

type leadUpdateResponse struct {
	LeadInfo leads.Snapshot `json:"leadInfo"`
}

// PostMessage handles POST /bot/message.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode bot message", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.HandleMessage(r.Context(), req.PhoneNumber, req.Message)
	if err != nil {
		h.writeError(w, "failed to handle bot message", err)
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Reply: result.Reply, LeadInfo: result.Lead})
}

// GetHistory handles GET /bot/history?phone_number=.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orchestrator.History(r.Context(), r.URL.Query().Get("phone_number"))
	if err != nil {
		h.writeError(w, "failed to load bot history", err)
		return
	}
	history := sess.Messages
	if history == nil {
		history = []Turn{}
	}
	h.writeJSON(w, http.StatusOK, historyResponse{History: history, LeadInfo: sess.Lead})
}

// DeleteHistory handles DELETE /bot/history?phone_number=.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Clear(r.Context(), r.URL.Query().Get("phone_number")); err != nil {
		h.writeError(w, "failed to clear bot history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListLeads handles GET /bot/leads. A store failure yields an empty, degraded listing.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.orchestrator.ListLeads(r.Context())
	if err != nil {
		h.logger.Error("failed to list bot leads", "error", err)
		h.writeJSON(w, http.StatusOK, leadsResponse{Leads: []LeadSummary{}, Degraded: true})
		return
	}
	h.writeJSON(w, http.StatusOK, leadsResponse{Leads: summaries})
}

// PatchLead handles PATCH /bot/leads/{phone}.
func (h *Handler) PatchLead(w http.ResponseWriter, r *http.Request) {
	var req leadUpdateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode lead update", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PropertyID != nil && strings.TrimSpace(*req.PropertyID) == "" {
		req.PropertyID = nil
	}

	lead, err := h.orchestrator.UpdateLead(r.Context(), chi.URLParam(r, "phone"), leads.Update{
		PropertyID:        req.PropertyID,
		QualificationData: req.QualificationData,
	})
	if err != nil {
		h.writeError(w, "failed to update bot lead", err)
		return
	}
	h.writeJSON(w, http.StatusOK, leadUpdateResponse{LeadInfo: lead})
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, ErrInvalidInput) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
