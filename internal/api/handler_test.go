package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aquamitra/aquamitra/internal/auth"
	"github.com/aquamitra/aquamitra/internal/chatlog"
	"github.com/aquamitra/aquamitra/internal/config"
	"github.com/aquamitra/aquamitra/internal/gateway"
	"github.com/aquamitra/aquamitra/internal/provision"
	"github.com/aquamitra/aquamitra/internal/schema"
	"github.com/aquamitra/aquamitra/internal/warehouse"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decode(t, rr); body["status"] != "ok" {
		t.Fatalf("body = %#v", body)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("missing trace id header")
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/languages", nil))

	languages, ok := decode(t, rr)["languages"].(map[string]any)
	if !ok || len(languages) != 7 || languages["hi"] != "Hindi" || languages["gu"] != "Gujarati" {
		t.Fatalf("languages = %#v", languages)
	}
}

func TestChatEndpoint(t *testing.T) {
	sql := "SELECT COUNT(*) FROM assessments"
	chat := &fakeChat{response: gateway.Response{Response: "There is 1 safe area in Bihar.", SQLQuery: &sql, LatencyMS: 12}}
	store := &fakeWarehouse{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chat: chat, Warehouse: store})

	rr := postJSON(h, "/api/chat", `{"messages":[{"role":"user","content":"How many safe areas are there in Bihar?"}],"session_id":"s1","stream":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["response"] != "There is 1 safe area in Bihar." || body["sql_query"] != sql || body["latency_ms"] != float64(12) {
		t.Fatalf("body = %#v", body)
	}
	if _, ok := body["original_query"]; !ok {
		t.Fatal("original_query must be present as null")
	}
	if chat.request.SessionID != "s1" || chat.request.Messages[0].Content != "How many safe areas are there in Bihar?" {
		t.Fatalf("request = %#v", chat.request)
	}
	if store.ensureCalls != 1 {
		t.Fatalf("EnsureReady calls = %d", store.ensureCalls)
	}
}

func TestChatEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		chatErr    error
		ensureErr  error
		wantStatus int
		wantDetail string
	}{
		{"empty messages", `{"messages":[]}`, nil, nil, http.StatusBadRequest, "messages cannot be empty"},
		{"malformed", `{"messages":`, nil, nil, http.StatusBadRequest, "invalid chat request body"},
		{"pipeline", `{"messages":[{"role":"user","content":"q"}]}`, &gateway.PipelineError{Err: errors.New("binder")}, nil, http.StatusInternalServerError, "RAG Pipeline Error"},
		{"language", `{"messages":[{"role":"user","content":"q"}],"language":"fr"}`, fmt.Errorf("%w: %q", gateway.ErrUnsupportedLanguage, "fr"), nil, http.StatusBadRequest, `unsupported language: "fr"`},
		{"not ready", `{"messages":[{"role":"user","content":"q"}]}`, nil, &provision.IngestionError{Dir: "data", Pattern: "*.csv", Reason: "no files"}, http.StatusServiceUnavailable, "assessment data is not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, nil), Dependencies{
				Chat:      &fakeChat{err: tt.chatErr},
				Warehouse: &fakeWarehouse{ensureErr: tt.ensureErr},
			})
			rr := postJSON(h, "/api/chat", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			body := decode(t, rr)
			if body["detail"] != tt.wantDetail {
				t.Fatalf("detail = %v, want %q", body["detail"], tt.wantDetail)
			}
			if body["trace_id"] == "" || body["code"] == "" {
				t.Fatalf("error body = %#v", body)
			}
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	sql := "SELECT 1"
	chat := &fakeChat{history: []chatlog.Entry{
		{ID: 1, SessionID: "s1", Role: chatlog.RoleUser, Content: "q"},
		{ID: 2, SessionID: "s1", Role: chatlog.RoleAssistant, Content: "a", SQLQuery: &sql},
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chat: chat})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?session_id=s1&limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	messages, ok := decode(t, rr)["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %#v", messages)
	}
	if chat.historySession != "s1" || chat.historyLimit != 10 {
		t.Fatalf("History(%q, %d)", chat.historySession, chat.historyLimit)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK || chat.historySession != chatlog.DefaultSessionID || chat.historyLimit != chatlog.DefaultHistoryLimit {
		t.Fatalf("defaults: status=%d session=%q limit=%d", rr.Code, chat.historySession, chat.historyLimit)
	}
}

func TestHistoryEndpointRejectsBadLimit(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Chat: &fakeChat{}})
	for _, limit := range []string{"abc", "501", "-1"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?limit="+limit, nil))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("limit=%s status = %d, want 422", limit, rr.Code)
		}
	}
}

func TestSchemaEndpoint(t *testing.T) {
	store := &fakeWarehouse{
		schema: schema.Schema{
			Table: "assessments",
			Columns: []schema.Column{
				{Name: "state", NativeType: "VARCHAR", Kind: schema.KindText},
				{Name: "rainfall_mm", NativeType: "DOUBLE", Kind: schema.KindFloat},
			},
		},
		stats: warehouse.Stats{Table: "assessments", Ready: true, Rows: 42, SourceRows: 42, Files: []string{"groundwater_2024.csv"}},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Warehouse: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body schemaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Table != "assessments" || body.Rows != 42 || body.SourceRows != body.Rows || len(body.Columns) != 2 || body.Columns[1].Kind != schema.KindFloat {
		t.Fatalf("body = %#v", body)
	}
	if body.Warnings == nil {
		t.Fatal("warnings must be an empty list")
	}
}

func TestReprovisionRequiresAdminWhenAuthEnabled(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"AQUAMITRA_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:ops:admin,k2:web:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	store := &fakeWarehouse{reprovisioned: warehouse.Stats{Table: "assessments", Ready: true, Rows: 7}}
	h := NewHandler(cfg, Dependencies{
		Warehouse:      store,
		AuthMiddleware: auth.Middleware(nil, validator, auth.RoleAdmin),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/reprovision", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}

	viewer := httptest.NewRequest(http.MethodPost, "/api/admin/reprovision", nil)
	viewer.Header.Set("X-API-Key", "k2")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, viewer)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer status = %d", rr.Code)
	}

	admin := httptest.NewRequest(http.MethodPost, "/api/admin/reprovision", nil)
	admin.Header.Set("Authorization", "Bearer k1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin status = %d body=%s", rr.Code, rr.Body.String())
	}
	if body := decode(t, rr); body["rows"] != float64(7) {
		t.Fatalf("body = %#v", body)
	}
	if store.reprovisionCalls != 1 {
		t.Fatalf("Reprovision calls = %d", store.reprovisionCalls)
	}
}

func TestReprovisionReportsIngestionFailure(t *testing.T) {
	store := &fakeWarehouse{reprovisionErr: &provision.IngestionError{Dir: "data", Pattern: "groundwater_*.csv", Reason: "no matching files"}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Warehouse: store})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/reprovision", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	if detail, _ := decode(t, rr)["detail"].(string); !strings.Contains(detail, "no matching files") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestReprovisionFailsClosedWithoutMiddleware(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"AQUAMITRA_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Warehouse: &fakeWarehouse{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/reprovision", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMetricsAndPreflight(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	preflight.Header.Set("Origin", "http://localhost:5173")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, preflight)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight status = %d headers=%v", rr.Code, rr.Header())
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("aquamitra-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func postJSON(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

type fakeChat struct {
	response       gateway.Response
	err            error
	request        gateway.Request
	history        []chatlog.Entry
	historySession string
	historyLimit   int
}

func (f *fakeChat) Chat(_ context.Context, req gateway.Request) (gateway.Response, error) {
	f.request = req
	return f.response, f.err
}

func (f *fakeChat) History(_ context.Context, sessionID string, limit int) ([]chatlog.Entry, error) {
	f.historySession = sessionID
	f.historyLimit = limit
	if _, err := chatlog.NormalizeLimit(limit); err != nil {
		return nil, err
	}
	return f.history, nil
}

type fakeWarehouse struct {
	ensureErr        error
	ensureCalls      int
	schema           schema.Schema
	stats            warehouse.Stats
	reprovisioned    warehouse.Stats
	reprovisionErr   error
	reprovisionCalls int
}

func (f *fakeWarehouse) EnsureReady(context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeWarehouse) Reprovision(context.Context) (warehouse.Stats, error) {
	f.reprovisionCalls++
	return f.reprovisioned, f.reprovisionErr
}

func (f *fakeWarehouse) Schema(context.Context) (schema.Schema, error) {
	return f.schema, f.ensureErr
}

func (f *fakeWarehouse) Stats() warehouse.Stats { return f.stats }
