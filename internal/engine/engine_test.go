package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/exchange"
	"futures-hedge-bot/internal/position"
	"futures-hedge-bot/internal/snapshot"
)

type engineFixture struct {
	cfg     *config.Config
	primary *exchange.MockGateway
	hedgeGW *exchange.MockGateway
	rec     *Reconciler
	alloc   *allocator.Allocator
	e       *Engine
}

func newEngineFixture(t *testing.T, source SignalSource, mutate func(cfg *config.Config)) *engineFixture {
	t.Helper()
	cfg := newTestConfig()
	cfg.Trading.Pairs = []string{"BTCUSDT", "ETHUSDT"}
	if mutate != nil {
		mutate(cfg)
	}

	primary := exchange.NewMockGateway("primary", 10000)
	primary.SetPrice("BTCUSDT", 50000)
	primary.SetPrice("ETHUSDT", 3000)
	hedgeGW := exchange.NewMockGateway("hedge", 10000)
	hedgeGW.SetPrice("BTCUSDT", 50000)
	hedgeGW.SetPrice("ETHUSDT", 3000)

	rec := NewReconciler(primary, hedgeGW, nil, nil)
	alloc := allocator.New(cfg.Allocator, cfg.Sizing, cfg.Hedge.SizePct)

	e := NewEngine(cfg, EngineDeps{
		Reconciler: rec,
		Allocator:  alloc,
		Source:     source,
	})
	return &engineFixture{cfg: cfg, primary: primary, hedgeGW: hedgeGW, rec: rec, alloc: alloc, e: e}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type stubSource struct {
	signals map[string][]position.Signal
}

func (s *stubSource) Poll(ctx context.Context, pair string) ([]position.Signal, error) {
	return s.signals[pair], nil
}

func TestEngineRoutesSignalsByPair(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	sig := entrySignal(position.SideLong, 50000, "anchor trend")
	if pos := f.e.ExecuteNow(ctx, sig); pos == nil {
		t.Fatal("managed pair signal did not execute")
	}

	btc, _ := f.e.Lifecycle("BTCUSDT")
	eth, _ := f.e.Lifecycle("ETHUSDT")
	if len(btc.OpenPositions()) != 1 {
		t.Errorf("BTCUSDT open = %d, want 1", len(btc.OpenPositions()))
	}
	if len(eth.OpenPositions()) != 0 {
		t.Errorf("ETHUSDT open = %d, want 0", len(eth.OpenPositions()))
	}

	sig.Pair = "XRPUSDT"
	calls := len(f.primary.OpenCalls)
	if pos := f.e.ExecuteNow(ctx, sig); pos != nil {
		t.Error("unmanaged pair signal executed")
	}
	if len(f.primary.OpenCalls) != calls {
		t.Error("unmanaged pair signal reached the venue")
	}
}

func TestEnginePairsNormalizedAndStable(t *testing.T) {
	f := newEngineFixture(t, nil, func(cfg *config.Config) {
		cfg.Trading.Pairs = []string{"ethusdt", " BTCUSDT ", "BTCUSDT"}
	})

	pairs := f.e.Pairs()
	if len(pairs) != 2 || pairs[0] != "BTCUSDT" || pairs[1] != "ETHUSDT" {
		t.Fatalf("pairs = %v, want [BTCUSDT ETHUSDT]", pairs)
	}

	aggs := f.e.Aggregates()
	if len(aggs) != 2 || aggs[0].Pair != "BTCUSDT" || aggs[1].Pair != "ETHUSDT" {
		t.Errorf("aggregates order = %v, want pair order", aggs)
	}
}

func TestEngineSubmitNeverBlocks(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	// Nothing drains the queue while the engine is stopped.
	sig := entrySignal(position.SideLong, 50000, "anchor trend")
	for i := 0; i < signalQueueSize; i++ {
		if !f.e.Submit(sig) {
			t.Fatalf("submit %d refused below capacity", i)
		}
	}
	if f.e.Submit(sig) {
		t.Error("submit accepted beyond queue capacity")
	}
}

func TestEngineQuickCycleExecutesSubmitted(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.e.Start()
	defer f.e.Stop()

	if !f.e.Running() {
		t.Fatal("engine not running after start")
	}
	if !f.e.Submit(entrySignal(position.SideLong, 50000, "anchor trend")) {
		t.Fatal("submit refused")
	}

	btc, _ := f.e.Lifecycle("BTCUSDT")
	waitFor(t, 3*time.Second, "submitted entry to open", func() bool {
		return len(btc.OpenPositions()) == 1
	})
}

func TestEngineHeavyCyclePollsSource(t *testing.T) {
	source := &stubSource{signals: map[string][]position.Signal{
		"ETHUSDT": {{
			Type:   position.SignalEntry,
			Side:   position.SideLong,
			Price:  3000,
			Reason: "opportunity reversal",
		}},
	}}
	f := newEngineFixture(t, source, func(cfg *config.Config) {
		cfg.Trading.HeavyCycleSecs = 1
		cfg.Trading.QuickCycleSecs = 1
	})
	f.e.Start()
	defer f.e.Stop()

	eth, _ := f.e.Lifecycle("ETHUSDT")
	waitFor(t, 5*time.Second, "polled entry to open", func() bool {
		return len(eth.OpenPositions()) == 1
	})

	open := eth.OpenPositions()
	// The source omitted the pair; the poll loop fills it in.
	if open[0].Pair != "ETHUSDT" || open[0].Role != position.RoleOpportunity {
		t.Errorf("opened %s/%s, want ETHUSDT/OPPORTUNITY", open[0].Pair, open[0].Role)
	}
}

func TestEngineRestoresSnapshotOnStart(t *testing.T) {
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "positions.json"))

	primary := exchange.NewMockGateway("primary", 10000)
	primary.SetPrice("BTCUSDT", 50000)
	hedgeGW := exchange.NewMockGateway("hedge", 10000)
	hedgeGW.SetPrice("BTCUSDT", 50000)

	// A prior run opens a primary and reconciles once; the reconcile
	// writes through to the snapshot. The venue keeps holding the
	// position across the restart.
	seedRec := NewReconciler(primary, hedgeGW, store, nil)
	opened, err := seedRec.OpenPrimary(context.Background(), exchange.OpenRequest{
		Pair: "BTCUSDT", Side: position.SideLong, Size: 0.2, Leverage: 10,
		Role: position.RoleAnchor, ClientOrderID: "ANC-25AUG-00001-E",
	})
	if err != nil {
		t.Fatalf("seed open: %v", err)
	}
	if _, err := seedRec.AllPositions(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	cfg := newTestConfig()
	alloc := allocator.New(cfg.Allocator, cfg.Sizing, cfg.Hedge.SizePct)
	e := NewEngine(cfg, EngineDeps{
		Reconciler: NewReconciler(primary, hedgeGW, store, nil),
		Allocator:  alloc,
	})

	e.Start()
	defer e.Stop()

	btc, _ := e.Lifecycle("BTCUSDT")
	open := btc.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open after restore = %d, want 1", len(open))
	}
	if open[0].ID != opened.ID || open[0].Role != position.RoleAnchor {
		t.Errorf("restored %s/%s, want %s/ANCHOR", open[0].ID, open[0].Role, opened.ID)
	}
	if st := alloc.Status(); st.Count != 1 {
		t.Errorf("allocator count = %d, want the restored primary registered", st.Count)
	}
	if ok, _ := btc.CanOpenPosition(position.RoleAnchor); ok {
		t.Error("sequential cycle must see the restored primary")
	}
}

func TestEngineRestoreSettlesPositionGoneFromVenue(t *testing.T) {
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "positions.json"))

	// Snapshot from a prior run holding an open anchor.
	seed := exchange.NewMockGateway("primary", 10000)
	seed.SetPrice("BTCUSDT", 50000)
	seedRec := NewReconciler(seed, nil, store, nil)
	opened, err := seedRec.OpenPrimary(context.Background(), exchange.OpenRequest{
		Pair: "BTCUSDT", Side: position.SideLong, Size: 0.2, Leverage: 10,
		Role: position.RoleAnchor, ClientOrderID: "ANC-25AUG-00002-E",
	})
	if err != nil {
		t.Fatalf("seed open: %v", err)
	}
	if _, err := seedRec.AllPositions(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	// The venue the new engine sees no longer holds the position.
	primary := exchange.NewMockGateway("primary", 10000)
	primary.SetPrice("BTCUSDT", 50000)

	cfg := newTestConfig()
	alloc := allocator.New(cfg.Allocator, cfg.Sizing, cfg.Hedge.SizePct)
	e := NewEngine(cfg, EngineDeps{
		Reconciler: NewReconciler(primary, nil, store, nil),
		Allocator:  alloc,
	})
	e.Start()
	defer e.Stop()

	btc, _ := e.Lifecycle("BTCUSDT")
	// Only the snapshot knew this ID, so the book holding it proves the
	// restore ran before the first reconcile took venue truth.
	got, ok := btc.Position(opened.ID)
	if !ok {
		t.Fatal("restored position missing from the book")
	}
	if got.Status != position.StatusClosed {
		t.Errorf("status = %s, want CLOSED once the venue stopped reporting it", got.Status)
	}
	if len(btc.OpenPositions()) != 0 {
		t.Errorf("open positions = %d, want 0", len(btc.OpenPositions()))
	}
	if st := alloc.Status(); st.Count != 0 {
		t.Errorf("allocator count = %d, want the registration released", st.Count)
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	f.e.Start()
	f.e.Start()
	if !f.e.Running() {
		t.Fatal("engine not running")
	}
	f.e.Stop()
	f.e.Stop()
	if f.e.Running() {
		t.Fatal("engine still running after stop")
	}

	for _, pair := range f.e.Pairs() {
		m, _ := f.e.Monitor(pair)
		if m.Stats().Running {
			t.Errorf("monitor %s still running after engine stop", pair)
		}
	}
}
