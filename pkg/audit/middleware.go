package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/reqtrack/reqtrack/pkg/authz"
)

const maxCapturedBody = 2048

// responseCapture wraps http.ResponseWriter to capture the status code and
// the head of error bodies.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	if rc.statusCode >= 400 && rc.body.Len() < maxCapturedBody {
		n := min(len(b), maxCapturedBody-rc.body.Len())
		rc.body.Write(b[:n])
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware records an AuditEventRecord for every mutating API call
// after the handler completes. Reads, dry-run validation and health probes
// are not audited.
// It must run inside authz.IdentityMiddleware to see the caller.
func AuditMiddleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isAudited(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := authz.AnonymousUser
			var roles []string
			if id, ok := authz.IdentityFromContext(ctx); ok && !id.IsAnonymous() {
				actor = id.User
				roles = id.Roles
			}

			requestID := middleware.GetReqID(ctx)
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}

			mapping := authz.MapRequest(r.Method, r.URL.Path)
			action := mapping.Verb
			if action == "" {
				action = fallbackVerb(r.Method)
			}

			event := &AuditEventRecord{
				ID:            uuid.New().String(),
				CorrelationID: correlationID,
				RequestID:     requestID,
				Actor:         actor,
				Resource:      mapping.Resource,
				ResourceIDs:   JSONStringSlice(mapping.IDs),
				Action:        action,
				Outcome:       outcome,
				StatusCode:    statusCode,
				Reason:        reasonFromBody(capture.body.Bytes()),
				CreatedAt:     startTime.UTC(),
				EventMetadata: JSONAny{
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(startTime).String(),
					"roles":    roles,
				},
			}

			// Best-effort write: the call already completed.
			if err := store.Append(ctx, event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// reasonFromBody extracts the machine code, or the message, of a JSON
// error body.
func reasonFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Error
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}

func isAudited(method, path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		// Dry-run validation changes nothing.
		return authz.MapRequest(method, path).Verb != authz.VerbValidate
	}
	return false
}

func fallbackVerb(method string) string {
	switch method {
	case http.MethodPost:
		return authz.VerbCreate
	case http.MethodPut, http.MethodPatch:
		return authz.VerbUpdate
	case http.MethodDelete:
		return authz.VerbDelete
	}
	return method
}
