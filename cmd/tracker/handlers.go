package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/integrations/monitoring"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/tracker"
	"outage-tracker/pkg/types"
)

// Handlers contains the HTTP request handlers for the tracker API.
type Handlers struct {
	logger     *logrus.Logger
	db         *gorm.DB
	manager    *tracker.Manager
	reconciler *tracker.Reconciler
	chatClient *chat.Client
	metrics    *metrics.Metrics
}

// NewHandlers creates a new Handlers instance with the provided dependencies.
func NewHandlers(
	logger *logrus.Logger,
	db *gorm.DB,
	manager *tracker.Manager,
	reconciler *tracker.Reconciler,
	chatClient *chat.Client,
	m *metrics.Metrics,
) *Handlers {
	return &Handlers{
		logger:     logger,
		db:         db,
		manager:    manager,
		reconciler: reconciler,
		chatClient: chatClient,
		metrics:    m,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data) // Best effort - can't return error after writing headers
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

func outageIDFromRequest(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["outageId"], 10, 32)
	return uint(id), err
}

// actorFromRequest returns the authenticated user's email. Protected routes
// always have one; its absence is a programming error in the route table.
func (h *Handlers) actorFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, ok := GetUserFromContext(r.Context())
	if !ok || actor == "" {
		respondWithError(w, http.StatusUnauthorized, "Missing authenticated user")
		return "", false
	}
	return actor, true
}

// loadEditableOutage fetches the outage and enforces that only involved
// users may modify it.
func (h *Handlers) loadEditableOutage(w http.ResponseWriter, r *http.Request, actor string) *types.Outage {
	outageID, err := outageIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid outage id")
		return nil
	}
	outage, err := h.manager.GetOutageByID(outageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondWithError(w, http.StatusNotFound, "Outage not found")
		} else {
			h.logger.WithField("error", err).Error("Failed to load outage")
			respondWithError(w, http.StatusInternalServerError, "Failed to load outage")
		}
		return nil
	}
	if !outage.CanEdit(actor) {
		respondWithError(w, http.StatusForbidden, "Only involved users may edit this outage")
		return nil
	}
	return outage
}

// HealthJSON returns the health status of the tracker service.
func (h *Handlers) HealthJSON(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyJSON reports readiness: the database and the chat workspace must both
// answer.
func (h *Handlers) ReadyJSON(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	if err := h.chatClient.Ping(); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Chat workspace unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListOutagesJSON returns all unresolved outages, oldest first.
func (h *Handlers) ListOutagesJSON(w http.ResponseWriter, r *http.Request) {
	outages, err := h.manager.ListUnresolved()
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to list outages")
		respondWithError(w, http.StatusInternalServerError, "Failed to list outages")
		return
	}
	respondWithJSON(w, http.StatusOK, outages)
}

// GetOutageJSON returns one outage with its solution and announcement.
func (h *Handlers) GetOutageJSON(w http.ResponseWriter, r *http.Request) {
	outageID, err := outageIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid outage id")
		return
	}
	outage, err := h.manager.GetOutageByID(outageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondWithError(w, http.StatusNotFound, "Outage not found")
			return
		}
		h.logger.WithField("error", err).Error("Failed to load outage")
		respondWithError(w, http.StatusInternalServerError, "Failed to load outage")
		return
	}
	respondWithJSON(w, http.StatusOK, outage)
}

// GetChangeNotesJSON returns the audit trail of rendered change narratives.
func (h *Handlers) GetChangeNotesJSON(w http.ResponseWriter, r *http.Request) {
	outageID, err := outageIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid outage id")
		return
	}
	notes, err := h.manager.GetChangeNotes(outageID)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to load change notes")
		respondWithError(w, http.StatusInternalServerError, "Failed to load change notes")
		return
	}
	respondWithJSON(w, http.StatusOK, notes)
}

// ListMonitorsJSON returns all known monitoring-system bindings.
func (h *Handlers) ListMonitorsJSON(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.manager.ListMonitors()
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to list monitors")
		respondWithError(w, http.StatusInternalServerError, "Failed to list monitors")
		return
	}
	respondWithJSON(w, http.StatusOK, monitors)
}

// CreateOutageJSON creates a new outage and schedules its announcement.
func (h *Handlers) CreateOutageJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}

	var fields types.OutageFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	outage := &types.Outage{OutageFields: fields}
	if outage.CreatedBy == "" {
		outage.CreatedBy = actor
	}
	if msg, ok := outage.Validate(); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.manager.CreateOutage(outage, actor); err != nil {
		h.logger.WithField("error", err).Error("Failed to create outage")
		respondWithError(w, http.StatusInternalServerError, "Failed to create outage")
		return
	}
	respondWithJSON(w, http.StatusCreated, outage)
}

// updateOutageRequest is the PATCH body: the new field values plus an
// optional free-text description of the change.
type updateOutageRequest struct {
	types.OutageFields
	ChangeDesc string `json:"change_desc"`
}

// UpdateOutageJSON applies field changes to an outage, records a history
// snapshot and schedules the announcement refresh.
func (h *Handlers) UpdateOutageJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req updateOutageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Resolution state is managed by the resolve/reopen endpoints.
	req.Resolved = outage.Resolved
	outage.OutageFields = req.OutageFields
	if msg, ok := outage.Validate(); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.manager.UpdateOutage(outage, actor, req.ChangeDesc); err != nil {
		h.logger.WithField("error", err).Error("Failed to update outage")
		respondWithError(w, http.StatusInternalServerError, "Failed to update outage")
		return
	}
	respondWithJSON(w, http.StatusOK, outage)
}

// SetETAJSON updates just the outage's estimate bucket.
func (h *Handlers) SetETAJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req struct {
		ETA string `json:"eta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := eta.Parse(req.ETA); !ok {
		respondWithError(w, http.StatusBadRequest, "Unknown ETA value")
		return
	}

	if err := h.manager.SetETA(outage.ID, req.ETA, actor); err != nil {
		h.logger.WithField("error", err).Error("Failed to set ETA")
		respondWithError(w, http.StatusInternalServerError, "Failed to set ETA")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"eta": req.ETA})
}

// resolveOutageRequest is the resolve body: the solution fields plus an
// optional free-text description of the change.
type resolveOutageRequest struct {
	types.SolutionFields
	ChangeDesc string `json:"change_desc"`
}

// ResolveOutageJSON records the solution and flips the outage to resolved.
func (h *Handlers) ResolveOutageJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req resolveOutageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.ResolveOutage(outage.ID, req.SolutionFields, actor, req.ChangeDesc); err != nil {
		h.logger.WithField("error", err).Error("Failed to resolve outage")
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve outage")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// ReopenOutageJSON clears the resolved flag of a resolved outage.
func (h *Handlers) ReopenOutageJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.ReopenOutage(outage.ID, actor, req.Reason); err != nil {
		h.logger.WithField("error", err).Error("Failed to reopen outage")
		respondWithError(w, http.StatusInternalServerError, "Failed to reopen outage")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "reopened"})
}

// AttachReportJSON binds a postmortem report to the outage's solution.
func (h *Handlers) AttachReportJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req struct {
		ReportURL   string `json:"report_url"`
		ReportTitle string `json:"report_title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReportURL == "" {
		respondWithError(w, http.StatusBadRequest, "report_url is required")
		return
	}

	if err := h.manager.AttachReport(outage.ID, req.ReportURL, req.ReportTitle, actor); err != nil {
		h.logger.WithField("error", err).Error("Failed to attach report")
		respondWithError(w, http.StatusInternalServerError, "Failed to attach report")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"report_url": req.ReportURL})
}

// CreateDedicatedChannelJSON opens a dedicated chat channel for the outage.
func (h *Handlers) CreateDedicatedChannelJSON(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFromRequest(w, r)
	if !ok {
		return
	}
	outage := h.loadEditableOutage(w, r, actor)
	if outage == nil {
		return
	}

	var req struct {
		InviteUserIDs []string `json:"invite_user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	channelID, err := h.reconciler.CreateDedicatedChannel(outage.ID, req.InviteUserIDs)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to create dedicated channel")
		respondWithError(w, http.StatusInternalServerError, "Failed to create dedicated channel")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"channel_id": channelID})
}

// AlertWebhookJSON ingests a monitoring provider webhook. Recovery events
// are acknowledged without recording an occurrence; duplicate deliveries are
// idempotent.
func (h *Handlers) AlertWebhookJSON(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	event, err := monitoring.ParseEvent(provider, body)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"provider": provider,
			"error":    err,
		}).Warn("Rejected alert webhook")
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event.Recovery {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "recovery ignored"})
		return
	}

	alert := types.Alert{Ts: event.Ts, AlertType: event.AlertType}
	monitor, recorded, err := h.manager.IngestAlert(event.System, event.ExternalID, event.Fields, alert)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"provider":    provider,
			"external_id": event.ExternalID,
			"error":       err,
		}).Error("Failed to ingest alert")
		respondWithError(w, http.StatusInternalServerError, "Failed to ingest alert")
		return
	}
	status := "recorded"
	if recorded {
		h.metrics.AlertsIngestedTotal.WithLabelValues(string(event.System)).Inc()
	} else {
		h.metrics.AlertsDuplicateTotal.WithLabelValues(string(event.System)).Inc()
		status = "duplicate"
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"monitor_id": monitor.ID,
	})
}
