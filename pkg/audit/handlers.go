package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultPageSize = 20

type auditEventResponse struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	Actor         string         `json:"actor"`
	Resource      string         `json:"resource,omitempty"`
	ResourceIDs   []string       `json:"resourceIds,omitempty"`
	Action        string         `json:"action"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type eventPage struct {
	Events        []auditEventResponse `json:"events"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
	TotalSize     int                  `json:"totalSize"`
}

func recordToResponse(rec AuditEventRecord) auditEventResponse {
	return auditEventResponse{
		ID:            rec.ID,
		CorrelationID: rec.CorrelationID,
		RequestID:     rec.RequestID,
		Actor:         rec.Actor,
		Resource:      rec.Resource,
		ResourceIDs:   rec.ResourceIDs,
		Action:        rec.Action,
		Outcome:       rec.Outcome,
		StatusCode:    rec.StatusCode,
		Reason:        rec.Reason,
		Metadata:      rec.EventMetadata,
		CreatedAt:     rec.CreatedAt.UTC(),
	}
}

// parseListFilter reads the list query. since and until are RFC3339 times.
func parseListFilter(q url.Values) (ListFilter, error) {
	filter := ListFilter{
		Actor:      q.Get("actor"),
		Resource:   q.Get("resource"),
		Action:     q.Get("action"),
		Outcome:    q.Get("outcome"),
		ResourceID: q.Get("resourceId"),
	}
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC3339 time", bound.name)
		}
		*bound.dst = t
	}
	return filter, nil
}

// ListEventsHandler serves GET /events, newest first. Query parameters:
// actor, resource, action, outcome, resourceId, since, until, pageSize and
// pageToken.
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter, err := parseListFilter(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pageSize, err := strconv.Atoi(q.Get("pageSize"))
		if err != nil || pageSize <= 0 {
			pageSize = defaultPageSize
		}

		records, next, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		switch {
		case errors.Is(err, ErrInvalidPageToken):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		page := eventPage{Events: make([]auditEventResponse, 0, len(records)), NextPageToken: next, TotalSize: total}
		for _, rec := range records {
			page.Events = append(page.Events, recordToResponse(rec))
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// GetEventHandler serves GET /events/{eventId}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "eventId")
		rec, err := store.GetByID(r.Context(), id)
		switch {
		case err != nil:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
		case rec == nil:
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", id))
		default:
			writeJSON(w, http.StatusOK, recordToResponse(*rec))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
