package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

const quoteSchema = `{
	id:     string
	amount: number & >0
	...
}`

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("telemetry setup failed: %v", err)
	}
	return tel
}

func testServerConfig(backendURL string, policy config.Policy, allowPartial bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:         ":0",
			AdminListen:    ":0",
			OverallTimeout: config.Duration(5 * time.Second),
			MaxBodyBytes:   1 << 20,
			ShutdownGrace:  config.Duration(time.Second),
		},
		Backends: map[string]config.BackendConfig{
			"tax": {
				BaseURL:          backendURL,
				Path:             "/tax",
				Timeout:          config.Duration(time.Second),
				MaxRetries:       0,
				BackoffBase:      config.Duration(time.Millisecond),
				BreakerThreshold: 100,
				BreakerCooldown:  config.Duration(time.Minute),
			},
			"ledger": {
				BaseURL:          backendURL,
				Path:             "/ledger",
				Timeout:          config.Duration(time.Second),
				MaxRetries:       0,
				BackoffBase:      config.Duration(time.Millisecond),
				BreakerThreshold: 100,
				BreakerCooldown:  config.Duration(time.Minute),
			},
		},
		Routes: []config.RouteConfig{
			{
				Name:         "quote",
				Method:       http.MethodPost,
				Path:         "/api/quote",
				Policy:       policy,
				AllowPartial: allowPartial,
				Schema:       quoteSchema,
				Calls: []config.CallConfig{
					{Name: "tax", Backend: "tax", Namespace: "tax"},
					{Name: "ledger", Backend: "ledger", Namespace: "ledger"},
				},
			},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, testTelemetry(t))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBodyMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return body
}

func TestGatewayEndToEndSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tax":
			json.NewEncoder(w).Encode(map[string]interface{}{"rate": 0.2})
		case "/ledger":
			json.NewEncoder(w).Encode(map[string]interface{}{"balance": 50})
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	srv := newTestServer(t, testServerConfig(backend.URL, config.PolicyRequireAll, false))
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": "X", "amount": 100}`)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBodyMap(t, rec)
	if body["tax"] == nil || body["ledger"] == nil {
		t.Errorf("merged payloads missing: %v", body)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id on response")
	}
}

func TestGatewayValidationFailure(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": "X", "amount": -5}`)

	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeValidation {
		t.Errorf("expected %s, got %v", errors.CodeValidation, body["error"])
	}
	if body["message"] == nil || body["timestamp"] == nil {
		t.Errorf("envelope incomplete: %v", body)
	}
}

func TestGatewayBackendUnreachable(t *testing.T) {
	// Nothing listens on this port.
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": "X", "amount": 100}`)

	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeBackendUnavailable {
		t.Errorf("expected %s, got %v", errors.CodeBackendUnavailable, body["error"])
	}
}

func TestGatewayBestEffortPartial(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tax":
			json.NewEncoder(w).Encode(map[string]interface{}{"rate": 0.2})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer backend.Close()

	srv := newTestServer(t, testServerConfig(backend.URL, config.PolicyBestEffort, true))
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": "X", "amount": 100}`)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBodyMap(t, rec)
	if body["partial"] != true {
		t.Errorf("expected partial marker: %v", body)
	}
	if body["tax"] == nil {
		t.Errorf("successful payload missing: %v", body)
	}
}

func TestGatewayUnknownPath(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))
	rec := postJSON(t, srv.publicHandler(), "/api/nope", `{}`)

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeNotFound {
		t.Errorf("expected %s, got %v", errors.CodeNotFound, body["error"])
	}
}

func TestGatewayMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))

	req := httptest.NewRequest(http.MethodDelete, "/api/quote", nil)
	rec := httptest.NewRecorder()
	srv.publicHandler().ServeHTTP(rec, req)

	if rec.Code != 405 {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", rec.Header().Get("Allow"))
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeMethodNotAllowed {
		t.Errorf("expected %s, got %v", errors.CodeMethodNotAllowed, body["error"])
	}
}

func TestGatewayMalformedJSON(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": `)

	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeValidation {
		t.Errorf("expected %s, got %v", errors.CodeValidation, body["error"])
	}
}

func TestGatewayEchoesClientRequestID(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))

	req := httptest.NewRequest(http.MethodPost, "/api/quote", strings.NewReader(`{"id": `))
	req.Header.Set("X-Request-Id", "client-supplied")
	rec := httptest.NewRecorder()
	srv.publicHandler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}

func TestGatewayPanicRecovery(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))

	panicking := srv.recoverPanics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := postJSON(t, panicking, "/api/quote", `{}`)

	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeInternal {
		t.Errorf("expected %s, got %v", errors.CodeInternal, body["error"])
	}
}

func TestGatewayOverallDeadline(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()

	cfg := testServerConfig(backend.URL, config.PolicyRequireAll, false)
	cfg.Server.OverallTimeout = config.Duration(50 * time.Millisecond)

	srv := newTestServer(t, cfg)
	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{"id": "X", "amount": 100}`)

	if rec.Code != 504 {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBodyMap(t, rec)
	if body["error"] != errors.CodeTimeout {
		t.Errorf("expected %s, got %v", errors.CodeTimeout, body["error"])
	}
}

func TestGatewayAdminRoutes(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))

	req := httptest.NewRequest(http.MethodGet, "/routes", nil)
	rec := httptest.NewRecorder()
	srv.adminHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBodyMap(t, rec)
	routes, ok := body["routes"].([]interface{})
	if !ok || len(routes) != 1 {
		t.Fatalf("expected one route, got %v", body["routes"])
	}
	if body["breakers"] == nil {
		t.Error("missing breaker states")
	}
}

func TestGatewayReloadSwapsRoutes(t *testing.T) {
	srv := newTestServer(t, testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false))

	next := testServerConfig("http://127.0.0.1:1", config.PolicyRequireAll, false)
	next.Routes[0].Path = "/api/v2/quote"
	if err := srv.Reload(next); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	rec := postJSON(t, srv.publicHandler(), "/api/quote", `{}`)
	if rec.Code != 404 {
		t.Errorf("old path should be gone after reload, got %d", rec.Code)
	}
	rec = postJSON(t, srv.publicHandler(), "/api/v2/quote", `{"id": "X", "amount": 100}`)
	if rec.Code == 404 {
		t.Error("new path not served after reload")
	}
}
