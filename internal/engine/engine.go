package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/analysis"
	"futures-hedge-bot/internal/circuit"
	"futures-hedge-bot/internal/database"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/orders"
	"futures-hedge-bot/internal/position"
)

const (
	heavyCycleTimeout = 45 * time.Second
	quickCycleTimeout = 15 * time.Second
	executeTimeout    = 30 * time.Second
	shutdownTimeout   = 10 * time.Second

	signalQueueSize = 64
)

// SignalSource supplies strategy signals for a pair. The engine polls
// it once per heavy cycle. A nil source means signals arrive only
// through Submit.
type SignalSource interface {
	Poll(ctx context.Context, pair string) ([]position.Signal, error)
}

// EngineDeps carries the shared collaborators the engine fans out to
// its per-pair lifecycles.
type EngineDeps struct {
	Reconciler *Reconciler
	Allocator  *allocator.Allocator
	Breaker    *circuit.Breaker
	PrimaryIDs *orders.Generator
	HedgeIDs   *orders.Generator
	Journal    *orders.Journal
	Bus        *events.Bus
	Analysis   analysis.Provider
	History    *database.DB
	Source     SignalSource
}

// Engine runs the trading loop across all configured pairs: a heavy
// cycle that reconciles venue state and polls for signals, a quick
// cycle that executes submitted signals and re-checks pairs holding
// positions, and one hedge monitor per pair.
type Engine struct {
	cfg    *config.Config
	rec    *Reconciler
	alloc  *allocator.Allocator
	bus    *events.Bus
	source SignalSource
	log    *logging.Logger

	pairList   []string
	lifecycles map[string]*Lifecycle
	monitors   map[string]*Monitor

	queue chan position.Signal

	// execMu serializes signal execution engine-wide so the allocator
	// sees one open attempt at a time.
	execMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEngine builds the engine and one lifecycle plus monitor per
// configured pair. Position sizes are scaled by the allocator's sizing
// plan unless the operator pinned a per-pair factor.
func NewEngine(cfg *config.Config, deps EngineDeps) *Engine {
	e := &Engine{
		cfg:        cfg,
		rec:        deps.Reconciler,
		alloc:      deps.Allocator,
		bus:        deps.Bus,
		source:     deps.Source,
		log:        logging.Default().WithComponent("engine"),
		lifecycles: make(map[string]*Lifecycle),
		monitors:   make(map[string]*Monitor),
		queue:      make(chan position.Signal, signalQueueSize),
	}

	plan := deps.Allocator.CalculateOptimalSizing(cfg.Trading.Pairs)
	calc := NewGuaranteeCalculator(cfg.Hedge)
	policy := NewRetryPolicy(cfg.Hedge)

	for _, raw := range cfg.Trading.Pairs {
		pair := strings.ToUpper(strings.TrimSpace(raw))
		if pair == "" {
			continue
		}
		if _, dup := e.lifecycles[pair]; dup {
			continue
		}
		factor := plan.ScalingFactor
		if f, ok := cfg.Allocator.PairSizeFactors[pair]; ok && f > 0 {
			factor = f
		}
		attempts := NewAttemptTracker(policy)
		lc := NewLifecycle(pair, cfg, LifecycleDeps{
			Reconciler: deps.Reconciler,
			Allocator:  deps.Allocator,
			Calculator: calc,
			Attempts:   attempts,
			Breaker:    deps.Breaker,
			PrimaryIDs: deps.PrimaryIDs,
			HedgeIDs:   deps.HedgeIDs,
			Journal:    deps.Journal,
			Bus:        deps.Bus,
			Analysis:   deps.Analysis,
			History:    deps.History,
			SizeFactor: factor,
		})
		e.lifecycles[pair] = lc
		e.monitors[pair] = NewMonitor(pair, cfg.Hedge, lc, deps.Reconciler, attempts, deps.Bus)
		e.pairList = append(e.pairList, pair)
	}
	sort.Strings(e.pairList)
	return e
}

// Start restores the last snapshot, launches the cycle loops and the
// per-pair monitors. Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.mu.Unlock()

	e.restore()

	for _, pair := range e.pairList {
		e.monitors[pair].Start()
	}

	e.wg.Add(2)
	go e.heavyLoop(stop)
	go e.quickLoop(stop)

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventEngineStarted,
			Data: map[string]interface{}{"pairs": e.pairList},
		})
	}
	e.log.Info("engine started",
		"pairs", strings.Join(e.pairList, ","),
		"heavy_cycle_secs", e.cfg.Trading.HeavyCycleSecs,
		"quick_cycle_secs", e.cfg.Trading.QuickCycleSecs)
}

// Stop halts the loops and monitors, waits for in-flight work, then
// takes a final venue reconcile so the snapshot on disk reflects the
// last known state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	for _, pair := range e.pairList {
		e.monitors[pair].Stop()
	}
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, pair := range e.pairList {
		if err := e.lifecycles[pair].UpdatePositions(ctx); err != nil {
			e.log.Warn("final reconcile failed", "pair", pair, "error", err)
		}
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventEngineStopped})
	}
	e.log.Info("engine stopped")
}

// Running reports whether the loops are live.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Submit queues a signal for the quick cycle. It never blocks; with the
// queue full the signal is dropped and reported.
func (e *Engine) Submit(sig position.Signal) bool {
	select {
	case e.queue <- sig:
		return true
	default:
		e.log.Error("signal queue full, dropping",
			"pair", sig.Pair, "type", string(sig.Type))
		e.publishError("signal queue full", fmt.Errorf("dropped %s for %s", sig.Type, sig.Pair))
		return false
	}
}

// ExecuteNow runs a signal synchronously, bypassing the queue, so an
// operator call can see the outcome.
func (e *Engine) ExecuteNow(ctx context.Context, sig position.Signal) *position.Position {
	return e.execute(ctx, sig)
}

// RefreshNow forces a venue reconcile for every pair.
func (e *Engine) RefreshNow(ctx context.Context) {
	for _, pair := range e.pairList {
		if err := e.lifecycles[pair].UpdatePositions(ctx); err != nil {
			e.log.Warn("forced refresh failed", "pair", pair, "error", err)
		}
	}
}

// Pairs returns the managed pairs in stable order.
func (e *Engine) Pairs() []string {
	out := make([]string, len(e.pairList))
	copy(out, e.pairList)
	return out
}

// Lifecycle returns the lifecycle for a pair.
func (e *Engine) Lifecycle(pair string) (*Lifecycle, bool) {
	lc, ok := e.lifecycles[strings.ToUpper(pair)]
	return lc, ok
}

// Monitor returns the hedge monitor for a pair.
func (e *Engine) Monitor(pair string) (*Monitor, bool) {
	m, ok := e.monitors[strings.ToUpper(pair)]
	return m, ok
}

// Aggregates returns every pair's reporting snapshot in stable order.
func (e *Engine) Aggregates() []Aggregates {
	out := make([]Aggregates, 0, len(e.pairList))
	for _, pair := range e.pairList {
		out = append(out, e.lifecycles[pair].Aggregates())
	}
	return out
}

// restore seeds the pair books from the last snapshot so allocator
// registrations survive a restart. The first reconcile right after
// overwrites the seed with venue truth.
func (e *Engine) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), heavyCycleTimeout)
	defer cancel()

	restored, err := e.rec.Restore(ctx)
	if err != nil {
		e.log.Warn("snapshot restore failed, starting with an empty book", "error", err)
		return
	}
	if len(restored) > 0 {
		byPair := make(map[string][]*position.Position)
		for _, p := range restored {
			key := strings.ToUpper(p.Pair)
			byPair[key] = append(byPair[key], p)
		}
		count := 0
		for _, pair := range e.pairList {
			if ps := byPair[pair]; len(ps) > 0 {
				e.lifecycles[pair].SeedPositions(ps)
				count += len(ps)
			}
		}
		e.log.Info("positions restored from snapshot", "count", count)
	}

	e.RefreshNow(ctx)
}

func (e *Engine) heavyLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.Trading.HeavyCycleSecs) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.runHeavyCycle()
		}
	}
}

// runHeavyCycle reconciles every pair against the venue, then polls the
// signal source and executes whatever it returns. A panic is contained
// to the cycle; the next tick runs normally.
func (e *Engine) runHeavyCycle() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("heavy cycle panic recovered", "panic", fmt.Sprintf("%v", r))
			e.publishError("heavy cycle panic", fmt.Errorf("%v", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), heavyCycleTimeout)
	defer cancel()

	for _, pair := range e.pairList {
		if err := e.lifecycles[pair].UpdatePositions(ctx); err != nil {
			e.log.Warn("reconcile failed", "pair", pair, "error", err)
		}
	}

	if e.source == nil {
		return
	}
	for _, pair := range e.pairList {
		signals, err := e.source.Poll(ctx, pair)
		if err != nil {
			e.log.Warn("signal poll failed", "pair", pair, "error", err)
			continue
		}
		for _, sig := range signals {
			if sig.Pair == "" {
				sig.Pair = pair
			}
			e.execute(ctx, sig)
		}
	}
}

func (e *Engine) quickLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.Trading.QuickCycleSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case sig := <-e.queue:
			e.runSubmitted(sig)
		case <-ticker.C:
			e.runQuickCycle()
		}
	}
}

func (e *Engine) runSubmitted(sig position.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("signal execution panic recovered", "panic", fmt.Sprintf("%v", r))
			e.publishError("signal execution panic", fmt.Errorf("%v", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()
	e.execute(ctx, sig)
}

// runQuickCycle re-reconciles only the pairs currently holding open
// positions, a cheap pass between heavy cycles so external closes are
// noticed quickly.
func (e *Engine) runQuickCycle() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("quick cycle panic recovered", "panic", fmt.Sprintf("%v", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), quickCycleTimeout)
	defer cancel()

	for _, pair := range e.pairList {
		lc := e.lifecycles[pair]
		if len(lc.OpenPositions()) == 0 {
			continue
		}
		if err := lc.UpdatePositions(ctx); err != nil {
			e.log.Debug("quick reconcile failed", "pair", pair, "error", err)
		}
	}
}

// execute routes one signal to its pair's lifecycle under the
// engine-wide execution lock.
func (e *Engine) execute(ctx context.Context, sig position.Signal) *position.Position {
	lc, ok := e.lifecycles[strings.ToUpper(sig.Pair)]
	if !ok {
		e.log.Warn("signal for unmanaged pair dropped",
			"pair", sig.Pair, "type", string(sig.Type))
		return nil
	}
	logging.SignalContext(sig.Pair, string(sig.Type), string(sig.Side)).Debug("executing signal")
	e.execMu.Lock()
	defer e.execMu.Unlock()
	return lc.ExecuteSignal(ctx, sig)
}

func (e *Engine) publishError(message string, err error) {
	if e.bus != nil {
		e.bus.PublishError("engine", message, err)
	}
}
