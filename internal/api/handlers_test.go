package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/auth"
	"futures-hedge-bot/internal/engine"
	"futures-hedge-bot/internal/exchange"
	"futures-hedge-bot/internal/position"
)

func newAPITestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Pairs = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Sizing = config.SizingConfig{
		Anchor:        config.RoleSizing{SizePct: 0.20, Leverage: 10},
		Opportunity:   config.RoleSizing{SizePct: 0.15, Leverage: 10},
		Scalp:         config.RoleSizing{SizePct: 0.10, Leverage: 15},
		HighFreq:      config.RoleSizing{SizePct: 0.05, Leverage: 20},
		TakeProfitPct: 0.02,
	}
	cfg.Hedge = config.HedgeConfig{
		SizePct:              0.30,
		Leverage:             10,
		LeverageMultiplier:   2,
		EmergencyMaxLeverage: 15,
		MaxLeverage:          50,
		MaxSizePct:           0.60,
		MaxPriceDeviation:    0.02,
		LiquidationBuffer:    0.02,
		MonitorIntervalSecs:  30,
		MaxRetryAttempts:     5,
		RetryBaseMs:          1000,
		RetryMaxMs:           30000,
		ContinuousRetrySecs:  30,
		RoundTripFeeRate:     0.0009,
		RecoveryExitPct:      0.01,
		EntryProximityPct:    0.002,
	}
	cfg.Allocator.MaxPrimaryPositions = 2
	return cfg
}

type serverFixture struct {
	cfg     *config.Config
	primary *exchange.MockGateway
	e       *engine.Engine
	srv     *Server
}

func newServerFixture(t *testing.T, authManager *auth.Manager) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := newAPITestConfig()

	primary := exchange.NewMockGateway("primary", 10000)
	primary.SetPrice("BTCUSDT", 50000)
	primary.SetPrice("ETHUSDT", 3000)
	hedgeGW := exchange.NewMockGateway("hedge", 10000)
	hedgeGW.SetPrice("BTCUSDT", 50000)
	hedgeGW.SetPrice("ETHUSDT", 3000)

	rec := engine.NewReconciler(primary, hedgeGW, nil, nil)
	alloc := allocator.New(cfg.Allocator, cfg.Sizing, cfg.Hedge.SizePct)

	e := engine.NewEngine(cfg, engine.EngineDeps{
		Reconciler: rec,
		Allocator:  alloc,
	})

	srv := NewServer(config.ServerConfig{Port: 8080}, ServerDeps{
		Engine:    e,
		Allocator: alloc,
		Auth:      authManager,
	})

	return &serverFixture{cfg: cfg, primary: primary, e: e, srv: srv}
}

func (f *serverFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.srv.Router().ServeHTTP(w, req)
	return w
}

func (f *serverFixture) postJSON(t *testing.T, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return body
}

func (f *serverFixture) openPosition(t *testing.T) *position.Position {
	t.Helper()
	pos := f.e.ExecuteNow(context.Background(), position.Signal{
		Type:   position.SignalEntry,
		Pair:   "BTCUSDT",
		Side:   position.SideLong,
		Price:  50000,
		Reason: "anchor trend",
		Time:   time.Now(),
	})
	if pos == nil {
		t.Fatal("fixture entry signal did not open a position")
	}
	return pos
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", body["status"])
	}
	if body["engine_running"] != false {
		t.Errorf("Expected engine_running false, got %v", body["engine_running"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)
	f.openPosition(t)

	w := f.get(t, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	pairs, ok := body["pairs"].([]interface{})
	if !ok || len(pairs) != 2 {
		t.Errorf("Expected 2 pairs, got %v", body["pairs"])
	}
	if _, ok := body["allocator"]; !ok {
		t.Error("Expected allocator block in status")
	}
}

func TestPositionsEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)
	f.openPosition(t)

	w := f.get(t, "/api/positions")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["count"] != float64(1) {
		t.Errorf("Expected count 1, got %v", body["count"])
	}

	w = f.get(t, "/api/positions?pair=ETHUSDT")
	if body := decodeBody(t, w); body["count"] != float64(0) {
		t.Errorf("Expected count 0 for ETHUSDT, got %v", body["count"])
	}
}

func TestHedgeStatusEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/api/hedge/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	pairs, ok := body["pairs"].([]interface{})
	if !ok || len(pairs) != 2 {
		t.Errorf("Expected 2 pair blocks, got %v", body["pairs"])
	}
}

func TestAttemptsEndpointEmpty(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/api/attempts")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["count"] != float64(0) {
		t.Errorf("Expected 0 attempts, got %v", body["count"])
	}
}

func TestTradesDisabled(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/api/trades")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without history, got %d", w.Code)
	}
}

func TestHedgeEventsDisabled(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/api/hedge/events?primary_id=abc")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without history, got %d", w.Code)
	}
}

func TestSubmitSignal(t *testing.T) {
	f := newServerFixture(t, nil)

	sig := map[string]interface{}{
		"type":   "ENTRY",
		"pair":   "btcusdt",
		"side":   "LONG",
		"price":  50000.0,
		"reason": "anchor breakout",
	}

	w := f.postJSON(t, "/api/signal", sig, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["queued"] != true {
		t.Errorf("Expected queued true, got %v", body["queued"])
	}

	t.Run("unknown pair rejected", func(t *testing.T) {
		bad := map[string]interface{}{"type": "ENTRY", "pair": "XRPUSDT", "side": "LONG", "price": 1.0}
		w := f.postJSON(t, "/api/signal", bad, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("bad type rejected", func(t *testing.T) {
		bad := map[string]interface{}{"type": "YOLO", "pair": "BTCUSDT", "side": "LONG", "price": 1.0}
		w := f.postJSON(t, "/api/signal", bad, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})
}

func TestClosePositionEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)
	pos := f.openPosition(t)

	path := fmt.Sprintf("/api/positions/%s/close", pos.ID)
	w := f.postJSON(t, path, map[string]string{"pair": "BTCUSDT", "reason": "operator exit"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// Second close of the same position finds nothing open.
	w = f.postJSON(t, path, map[string]string{"pair": "BTCUSDT"}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on re-close, got %d", w.Code)
	}
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	hash, err := auth.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	manager, err := auth.NewManager(config.AuthConfig{
		Enabled:              true,
		JWTSecret:            "api-test-secret",
		OperatorUser:         "ops",
		OperatorPasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	f := newServerFixture(t, manager)

	sig := map[string]interface{}{"type": "ENTRY", "pair": "BTCUSDT", "side": "LONG", "price": 50000.0}

	w := f.postJSON(t, "/api/signal", sig, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 without token, got %d", w.Code)
	}

	// Reads stay open.
	if w := f.get(t, "/api/status"); w.Code != http.StatusOK {
		t.Errorf("Expected open read route, got %d", w.Code)
	}

	w = f.postJSON(t, "/api/auth/login", map[string]string{"username": "ops", "password": "operator-pass"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on login, got %d: %s", w.Code, w.Body.String())
	}
	var tok auth.Token
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatalf("Failed to parse token: %v", err)
	}

	w = f.postJSON(t, "/api/signal", sig, tok.AccessToken)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202 with token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginDisabled(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.postJSON(t, "/api/auth/login", map[string]string{"username": "ops", "password": "x"}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 when auth disabled, got %d", w.Code)
	}

	w = f.get(t, "/api/auth/status")
	if body := decodeBody(t, w); body["auth_enabled"] != false {
		t.Errorf("Expected auth_enabled false, got %v", body["auth_enabled"])
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	hash, err := auth.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	manager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:            "api-test-secret",
		OperatorUser:         "ops",
		OperatorPasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	f := newServerFixture(t, manager)

	w := f.postJSON(t, "/api/auth/login", map[string]string{"username": "ops", "password": "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}
