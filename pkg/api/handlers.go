package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"naming_events/pkg/data"
	"naming_events/pkg/naming"
)

// StartRequest is the body of POST /tenants/{tenant}/event
type StartRequest struct {
	Location          string `json:"location"`
	SubmissionMinutes int    `json:"submission_minutes"`
	VotingMinutes     int    `json:"voting_minutes"`
	TieBreakMinutes   int    `json:"tiebreak_minutes"`
}

type SubmitRequest struct {
	Name string `json:"name"`
}

type VoteRequest struct {
	Option string `json:"option"`
}

type ExtendRequest struct {
	Minutes int `json:"minutes"`
}

type ForceEndRequest struct {
	Reason string `json:"reason"`
}

type DestinationRequest struct {
	ChannelID  string `json:"channel_id"`
	RoleID     string `json:"role_id"`
	WebhookURL string `json:"webhook_url"`
}

// HealthChecker reports store health
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// EventHandler serves the naming event commands
type EventHandler struct {
	engine *naming.Engine
	logger *zap.Logger
}

func NewEventHandler(engine *naming.Engine, logger *zap.Logger) *EventHandler {
	return &EventHandler{engine: engine, logger: logger}
}

func (h *EventHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		ErrorResponse(w, h.logger, http.StatusUnauthorized, userHeader+" header is required")
		return "", false
	}
	return user, true
}

func (h *EventHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := ParseJSONBody(r, v); err != nil {
		ErrorResponse(w, h.logger, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// Start handles POST /tenants/{tenant}/event
func (h *EventHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, m := range []int{req.SubmissionMinutes, req.VotingMinutes, req.TieBreakMinutes} {
		if m < 0 || m > naming.MaxMinutes {
			ErrorResponse(w, h.logger, http.StatusBadRequest, "durations must be between 0 and "+strconv.Itoa(naming.MaxMinutes)+" minutes")
			return
		}
	}

	ev, err := h.engine.Start(r.Context(), r.PathValue("tenant"), naming.StartOptions{
		Location:           req.Location,
		SubmissionDuration: time.Duration(req.SubmissionMinutes) * time.Minute,
		VotingDuration:     time.Duration(req.VotingMinutes) * time.Minute,
		TieBreakDuration:   time.Duration(req.TieBreakMinutes) * time.Minute,
	})
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	h.status(w, r, http.StatusCreated, ev.TenantID)
}

// Status handles GET /tenants/{tenant}/event
func (h *EventHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, http.StatusOK, r.PathValue("tenant"))
}

func (h *EventHandler) status(w http.ResponseWriter, r *http.Request, code int, tenantID string) {
	summary, err := h.engine.Status(r.Context(), tenantID)
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	JSONResponse(w, h.logger, code, summary)
}

// Cancel handles DELETE /tenants/{tenant}/event
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Cancel(r.Context(), r.PathValue("tenant")); err != nil {
		CommandError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /tenants/{tenant}/event/submissions
func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Submit(r.Context(), r.PathValue("tenant"), user, req.Name)
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	code := http.StatusCreated
	if res.Replaced {
		code = http.StatusOK
	}
	JSONResponse(w, h.logger, code, res)
}

// Vote handles POST /tenants/{tenant}/event/votes
func (h *EventHandler) Vote(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Option == "" {
		ErrorResponse(w, h.logger, http.StatusBadRequest, "option is required")
		return
	}

	chosen, err := h.engine.Vote(r.Context(), r.PathValue("tenant"), user, req.Option)
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	JSONResponse(w, h.logger, http.StatusOK, map[string]any{"option": chosen})
}

// Remove handles DELETE /tenants/{tenant}/event/candidates/{name}
func (h *EventHandler) Remove(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.Remove(r.Context(), r.PathValue("tenant"), r.PathValue("name"), r.URL.Query().Get("reason"))
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	JSONResponse(w, h.logger, http.StatusOK, map[string]any{"removed": removed})
}

// Extend handles POST /tenants/{tenant}/event/extend
func (h *EventHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Minutes > naming.MaxMinutes || req.Minutes < -naming.MaxMinutes {
		ErrorResponse(w, h.logger, http.StatusBadRequest, "minutes must be within ±"+strconv.Itoa(naming.MaxMinutes))
		return
	}

	ev, err := h.engine.Extend(r.Context(), r.PathValue("tenant"), req.Minutes)
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	h.status(w, r, http.StatusOK, ev.TenantID)
}

// ForceEnd handles POST /tenants/{tenant}/event/force-end
func (h *EventHandler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	var req ForceEndRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := h.engine.ForceEnd(r.Context(), r.PathValue("tenant"), req.Reason)
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	h.status(w, r, http.StatusOK, ev.TenantID)
}

// Tally handles GET /tenants/{tenant}/event/tally
func (h *EventHandler) Tally(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.List(r.Context(), r.PathValue("tenant"))
	if err != nil {
		CommandError(w, h.logger, err)
		return
	}
	JSONResponse(w, h.logger, http.StatusOK, t)
}

// SetDestination handles PUT /tenants/{tenant}/destination
func (h *EventHandler) SetDestination(w http.ResponseWriter, r *http.Request) {
	var req DestinationRequest
	if !h.decode(w, r, &req) {
		return
	}

	dest := data.Destination{
		TenantID:   r.PathValue("tenant"),
		ChannelID:  req.ChannelID,
		RoleID:     req.RoleID,
		WebhookURL: req.WebhookURL,
	}
	if err := h.engine.SetDestination(r.Context(), dest); err != nil {
		CommandError(w, h.logger, err)
		return
	}
	JSONResponse(w, h.logger, http.StatusOK, dest)
}
