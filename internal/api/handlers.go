// Package api exposes the JSON surface of the appview: the optimistic
// activity write and the recent-activity feed.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dblock/sparta-social/internal/auth"
	"github.com/dblock/sparta-social/internal/domain"
	"github.com/dblock/sparta-social/internal/identity"
	"github.com/dblock/sparta-social/internal/lexicon"
	"github.com/dblock/sparta-social/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service  *domain.Service
	resolver identity.Resolver
	logger   *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, resolver identity.Resolver, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handler{service: service, resolver: resolver, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activity", h.activityByURI)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "session required")
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	collection := req.Collection
	if collection == "" {
		collection = lexicon.CollectionActivity
	}

	rec, err := h.service.CreateActivity(r.Context(), domain.CreateActivityInput{
		AuthorDID:  claims.DID,
		Collection: collection,
		Record:     req.record(collection),
	})
	if err != nil {
		switch {
		case errors.Is(err, lexicon.ErrRejected):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		default:
			h.logger.Printf("remote record write failed (did=%s): %v", claims.DID, err)
			writeError(w, http.StatusBadGateway, "repository_write_failed", "failed to write record to your repository")
		}
		return
	}

	writeJSON(w, http.StatusCreated, h.toActivityView(r, *rec))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListRecentActivities(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	handles := h.resolveHandles(r, records)

	items := make([]ActivityView, 0, len(records))
	for _, rec := range records {
		view := toActivityView(rec)
		view.AuthorHandle = handles[rec.AuthorDID]
		items = append(items, view)
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) activityByURI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	uri := strings.TrimSpace(r.URL.Query().Get("uri"))
	if uri == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing uri parameter")
		return
	}

	rec, err := h.service.GetActivity(r.Context(), uri)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return
	}

	writeJSON(w, http.StatusOK, h.toActivityView(r, *rec))
}

// resolveHandles maps the author DIDs of the page to handles. Resolution is
// best effort; a directory outage must not take the feed down with it.
func (h *Handler) resolveHandles(r *http.Request, records []domain.ActivityRecord) map[string]string {
	if h.resolver == nil || len(records) == 0 {
		return nil
	}
	dids := make([]string, 0, len(records))
	for _, rec := range records {
		dids = append(dids, rec.AuthorDID)
	}
	handles, err := h.resolver.ResolveDIDsToHandles(r.Context(), dids)
	if err != nil {
		h.logger.Printf("handle resolution failed: %v", err)
		return nil
	}
	return handles
}

func (h *Handler) toActivityView(r *http.Request, rec domain.ActivityRecord) ActivityView {
	view := toActivityView(rec)
	if handles := h.resolveHandles(r, []domain.ActivityRecord{rec}); handles != nil {
		view.AuthorHandle = handles[rec.AuthorDID]
	}
	return view
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Collection             string  `json:"collection,omitempty"`
	Title                  string  `json:"title"`
	Description            *string `json:"description,omitempty"`
	ActivityType           string  `json:"activity_type"`
	DistanceInCm           *int64  `json:"distance_in_cm,omitempty"`
	MovingTimeInMs         *int64  `json:"moving_time_in_ms,omitempty"`
	ElapsedTimeInMs        *int64  `json:"elapsed_time_in_ms,omitempty"`
	TotalElevationGainInCm *int64  `json:"total_elevation_gain_in_cm,omitempty"`
	MapSummaryPolyline     *string `json:"map_summary_polyline,omitempty"`
	StartAtInUTC           *string `json:"start_at_in_utc,omitempty"`
	StartAtTimeZone        *string `json:"start_at_time_zone,omitempty"`
}

// Validate ensures request correctness before the record is assembled. The
// lexicon performs the full schema check; this catches the obvious cases
// early with friendlier messages.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(r.ActivityType) == "" {
		return errors.New("activity_type is required")
	}
	if r.Collection != "" && !lexicon.Recognized(r.Collection) {
		return errors.New("unrecognized collection")
	}
	return nil
}

// record assembles the repository record payload for the target collection
// variant. The polyline lands under the field name the variant expects.
func (r CreateActivityRequest) record(collection string) map[string]any {
	record := map[string]any{
		"$type":        collection,
		"title":        r.Title,
		"activityType": r.ActivityType,
		"createdAt":    time.Now().UTC().Format(time.RFC3339),
	}
	if r.Description != nil {
		record["description"] = *r.Description
	}
	if r.DistanceInCm != nil {
		record["distanceInCm"] = *r.DistanceInCm
	}
	if r.MovingTimeInMs != nil {
		record["movingTimeInMs"] = *r.MovingTimeInMs
	}
	if r.ElapsedTimeInMs != nil {
		record["elapsedTimeInMs"] = *r.ElapsedTimeInMs
	}
	if r.TotalElevationGainInCm != nil {
		record["totalElevationGainInCm"] = *r.TotalElevationGainInCm
	}
	if r.MapSummaryPolyline != nil {
		if collection == lexicon.CollectionActivityLegacy {
			record["mapPolyline"] = *r.MapSummaryPolyline
		} else {
			record["mapSummaryPolyline"] = *r.MapSummaryPolyline
		}
	}
	if r.StartAtInUTC != nil {
		record["startAtInUTC"] = *r.StartAtInUTC
	}
	if r.StartAtTimeZone != nil {
		record["startAtTimeZone"] = *r.StartAtTimeZone
	}
	return record
}

// ActivityView exposes one materialized activity.
type ActivityView struct {
	URI                    string    `json:"uri"`
	AuthorDID              string    `json:"author_did"`
	AuthorHandle           string    `json:"author_handle,omitempty"`
	Title                  string    `json:"title"`
	Description            *string   `json:"description,omitempty"`
	ActivityType           string    `json:"activity_type"`
	DistanceInCm           *int64    `json:"distance_in_cm,omitempty"`
	MovingTimeInMs         *int64    `json:"moving_time_in_ms,omitempty"`
	ElapsedTimeInMs        *int64    `json:"elapsed_time_in_ms,omitempty"`
	TotalElevationGainInCm *int64    `json:"total_elevation_gain_in_cm,omitempty"`
	MapSummaryPolyline     *string   `json:"map_summary_polyline,omitempty"`
	MapPolyline            *string   `json:"map_polyline,omitempty"`
	StartAtInUTC           *string   `json:"start_at_in_utc,omitempty"`
	StartAtTimeZone        *string   `json:"start_at_time_zone,omitempty"`
	CreatedAt              string    `json:"created_at"`
	IndexedAt              time.Time `json:"indexed_at"`
}

// ListActivitiesResponse packages feed results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toActivityView(rec domain.ActivityRecord) ActivityView {
	return ActivityView{
		URI:                    rec.URI,
		AuthorDID:              rec.AuthorDID,
		Title:                  rec.Title,
		Description:            rec.Description,
		ActivityType:           rec.ActivityType,
		DistanceInCm:           rec.DistanceInCm,
		MovingTimeInMs:         rec.MovingTimeInMs,
		ElapsedTimeInMs:        rec.ElapsedTimeInMs,
		TotalElevationGainInCm: rec.TotalElevationGainInCm,
		MapSummaryPolyline:     rec.MapSummaryPolyline,
		MapPolyline:            rec.MapPolyline,
		StartAtInUTC:           rec.StartAtInUTC,
		StartAtTimeZone:        rec.StartAtTimeZone,
		CreatedAt:              rec.CreatedAt,
		IndexedAt:              rec.IndexedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
