package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// useServer points the CLI globals at srv and captures output.
func useServer(t *testing.T, h http.HandlerFunc) *bytes.Buffer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	oldURL, oldUser, oldToken, oldFmt, oldOut := serverURL, userName, token, outputFmt, stdout
	var buf bytes.Buffer
	serverURL, userName, token, outputFmt, stdout = srv.URL, "alice@example.com", "", "table", &buf
	t.Cleanup(func() {
		serverURL, userName, token, outputFmt, stdout = oldURL, oldUser, oldToken, oldFmt, oldOut
	})
	return &buf
}

func TestRunTransitionSendsConcurrencyToken(t *testing.T) {
	var got map[string]any
	var gotUser string
	out := useServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/requests/v1/requests/RR-00042":
			json.NewEncoder(w).Encode(map[string]any{
				"formattedId":      "RR-00042",
				"status":           "SUBMITTED",
				"concurrencyToken": "tok-1",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/api/requests/v1/requests/RR-00042/transitions":
			gotUser = r.Header.Get("X-Remote-User")
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(map[string]any{
				"request":  map[string]any{"formattedId": "RR-00042", "status": "APPROVED"},
				"notified": true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if err := runTransition("RR-00042", "APPROVED", "looks good"); err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if got["targetStatus"] != "APPROVED" || got["concurrencyToken"] != "tok-1" || got["comment"] != "looks good" {
		t.Errorf("unexpected transition body: %v", got)
	}
	if gotUser != "alice@example.com" {
		t.Errorf("X-Remote-User = %q", gotUser)
	}
	if !strings.Contains(out.String(), "RR-00042: SUBMITTED -> APPROVED") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestRunTransitionReportsNotificationFailure(t *testing.T) {
	out := useServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{"formattedId": "RR-00007", "status": "SAVED", "concurrencyToken": "t"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"request":           map[string]any{"formattedId": "RR-00007", "status": "SUBMITTED"},
			"notificationError": "smtp down",
		})
	})

	if err := runTransition("RR-00007", "SUBMITTED", ""); err != nil {
		t.Fatalf("runTransition: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: notification failed: smtp down") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestClientDecodesErrorBody(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"validation failed","code":"VALIDATION_FAILED","fields":{"title":"required"}}`))
	})

	err := newClient().postJSON(requestsAPIBase+"/requests", map[string]any{}, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "VALIDATION_FAILED" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "title: required") {
		t.Errorf("field errors missing from %q", err.Error())
	}
}

func TestClientPlainTextError(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	err := newClient().getJSON("/healthz", nil)
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var auth string
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	token = "abc"

	if err := newClient().delete(requestsAPIBase + "/requests/RR-00001"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if auth != "Bearer abc" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestRequestsListCommand(t *testing.T) {
	var query string
	out := useServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"formattedId": "RR-00001",
				"title":       "Badge reader upgrade",
				"status":      "SUBMITTED",
				"requester":   map[string]any{"name": "Alice", "email": "alice@example.com"},
				"approver":    map[string]any{"email": "bob@example.com"},
				"nextStatus":  "APPROVED",
			}},
			"size": 1,
		})
	})

	rootCmd.SetArgs([]string{"requests", "list", "--status", "submitted", "--server", serverURL, "-o", "table"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if query != "status=SUBMITTED" {
		t.Errorf("query = %q", query)
	}
	text := out.String()
	for _, want := range []string{"RR-00001", "Badge reader upgrade", "Alice <alice@example.com>", "bob@example.com", "Total: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestTransitionVerbsAreRegistered(t *testing.T) {
	for _, v := range transitionVerbs {
		cmd, _, err := rootCmd.Find([]string{"requests", v.verb})
		if err != nil {
			t.Errorf("verb %s: %v", v.verb, err)
			continue
		}
		if cmd.Name() != v.verb {
			t.Errorf("verb %s resolved to %s", v.verb, cmd.Name())
		}
	}
}

func TestLoadRequestBody(t *testing.T) {
	body, err := loadRequestBody("")
	if err != nil || len(body) != 0 {
		t.Fatalf("empty path: %v %v", body, err)
	}

	path := filepath.Join(t.TempDir(), "request.yaml")
	content := "title: Badge reader upgrade\nfunded: true\nprojectedUsers: 40\napprover:\n  email: bob@example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	body, err = loadRequestBody(path)
	if err != nil {
		t.Fatalf("loadRequestBody: %v", err)
	}
	if body["title"] != "Badge reader upgrade" || body["funded"] != true || body["projectedUsers"] != 40 {
		t.Errorf("unexpected body %v", body)
	}
	if _, err := json.Marshal(body); err != nil {
		t.Errorf("body is not JSON encodable: %v", err)
	}

	if _, err := loadRequestBody(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestHealthNotReady(t *testing.T) {
	out := useServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/healthz":
			json.NewEncoder(w).Encode(map[string]string{"status": "alive", "uptime": "5m"})
		case "/readyz":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": "db down"})
		}
	})

	err := runHealth(nil, nil)
	if err == nil {
		t.Fatal("expected an error when the server is not ready")
	}
	if !strings.Contains(out.String(), "alive") || !strings.Contains(out.String(), "not ready") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestPersonString(t *testing.T) {
	tests := []struct {
		p    person
		want string
	}{
		{person{Name: "Alice", Email: "alice@example.com"}, "Alice <alice@example.com>"},
		{person{Email: "alice@example.com"}, "alice@example.com"},
		{person{Name: "Alice"}, "Alice"},
		{person{ID: "u-1"}, "u-1"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
