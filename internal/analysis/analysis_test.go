package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/cache"
	"futures-hedge-bot/internal/position"
)

func TestClientAdvise(t *testing.T) {
	var gotAuth string
	var gotBody levelsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/levels" {
			t.Errorf("request = %s %s, want POST /v1/levels", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"levels": {"entry": 49950, "take_profit": 51200, "stop_loss": 48800},
			"confidence": 0.82,
			"source": "levels-v2"
		}`))
	}))
	defer srv.Close()

	c := NewClient(config.AnalysisConfig{
		Enabled: true, BaseURL: srv.URL, APIKey: "test-key", Model: "levels-v2", TimeoutSecs: 5,
	})
	adv, err := c.Advise(context.Background(), Request{
		Pair: "BTCUSDT", Side: position.SideLong, EntryPrice: 50000,
	})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}
	if gotBody.Pair != "BTCUSDT" || gotBody.Side != "LONG" || gotBody.EntryPrice != 50000 {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotBody.Model != "levels-v2" {
		t.Errorf("model = %q, want levels-v2", gotBody.Model)
	}
	if adv.Levels.TakeProfit != 51200 || adv.Levels.StopLoss != 48800 {
		t.Errorf("levels = %+v, want 51200/48800", adv.Levels)
	}
	if adv.Confidence != 0.82 || adv.Source != "levels-v2" {
		t.Errorf("confidence/source = %.2f/%q", adv.Confidence, adv.Source)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"service error payload", http.StatusOK, `{"error":{"code":"no_data","message":"insufficient history"}}`},
		{"http error status", http.StatusServiceUnavailable, `upstream down`},
		{"missing take profit", http.StatusOK, `{"levels":{"take_profit":0},"confidence":0.4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			c := NewClient(config.AnalysisConfig{Enabled: true, BaseURL: srv.URL, TimeoutSecs: 5})
			if _, err := c.Advise(context.Background(), Request{Pair: "BTCUSDT", Side: position.SideLong, EntryPrice: 50000}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestClientUnconfigured(t *testing.T) {
	c := NewClient(config.AnalysisConfig{})
	if c.IsConfigured() {
		t.Error("empty config reports configured")
	}
	if _, err := c.Advise(context.Background(), Request{Pair: "BTCUSDT"}); err == nil {
		t.Error("unconfigured client must refuse")
	}
}

type stubProvider struct {
	calls int
	err   error
}

func (s *stubProvider) Advise(ctx context.Context, req Request) (*Advice, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Advice{
		Pair: req.Pair, Side: req.Side,
		Levels:     position.PriceLevels{TakeProfit: req.EntryPrice * 1.02},
		Confidence: 0.7,
	}, nil
}

func TestCachedServesFromCache(t *testing.T) {
	stub := &stubProvider{}
	c := NewCached(stub, nil, config.AnalysisConfig{CacheTTLSecs: 300})
	ctx := context.Background()
	req := Request{Pair: "BTCUSDT", Side: position.SideLong, EntryPrice: 50000}

	first, err := c.Advise(ctx, req)
	if err != nil {
		t.Fatalf("first advise: %v", err)
	}
	second, err := c.Advise(ctx, req)
	if err != nil {
		t.Fatalf("second advise: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("provider calls = %d, want 1", stub.calls)
	}
	if first.Levels.TakeProfit != second.Levels.TakeProfit {
		t.Error("cached answer differs from the original")
	}

	// The opposite side is a different question.
	req.Side = position.SideShort
	if _, err := c.Advise(ctx, req); err != nil {
		t.Fatalf("short advise: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after a new side", stub.calls)
	}
}

func TestCachedExpiryRefetches(t *testing.T) {
	stub := &stubProvider{}
	c := NewCached(stub, nil, config.AnalysisConfig{CacheTTLSecs: 300})
	c.ttl = time.Millisecond
	ctx := context.Background()
	req := Request{Pair: "BTCUSDT", Side: position.SideLong, EntryPrice: 50000}

	c.Advise(ctx, req)
	time.Sleep(10 * time.Millisecond)
	c.Advise(ctx, req)
	if stub.calls != 2 {
		t.Errorf("provider calls = %d, want refetch after expiry", stub.calls)
	}
}

func TestCachedErrorsNotCached(t *testing.T) {
	stub := &stubProvider{err: errors.New("upstream down")}
	c := NewCached(stub, nil, config.AnalysisConfig{CacheTTLSecs: 300})
	ctx := context.Background()
	req := Request{Pair: "BTCUSDT", Side: position.SideLong, EntryPrice: 50000}

	if _, err := c.Advise(ctx, req); err == nil {
		t.Fatal("expected the provider error through")
	}
	stub.err = nil
	if _, err := c.Advise(ctx, req); err != nil {
		t.Fatalf("recovered advise: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("provider calls = %d, want 2, failures must not be cached", stub.calls)
	}
}

func TestCachedVolatilityShortensTTL(t *testing.T) {
	prices := cache.NewPriceCache(time.Minute, time.Minute)
	prices.Put("BTCUSDT", 50000)
	prices.Put("BTCUSDT", 53000) // ~5.7% swing inside the window
	prices.Put("ETHUSDT", 3000)
	prices.Put("ETHUSDT", 3003) // 0.1%, calm

	c := NewCached(&stubProvider{}, prices, config.AnalysisConfig{
		CacheTTLSecs:        300,
		VolatileTTLSecs:     30,
		VolatilityThreshold: 0.02,
	})

	if got := c.ttlFor("BTCUSDT"); got != 30*time.Second {
		t.Errorf("volatile ttl = %s, want 30s", got)
	}
	if got := c.ttlFor("ETHUSDT"); got != 300*time.Second {
		t.Errorf("calm ttl = %s, want 300s", got)
	}
	if got := c.ttlFor("XRPUSDT"); got != 300*time.Second {
		t.Errorf("unknown pair ttl = %s, want the full ttl", got)
	}
}
