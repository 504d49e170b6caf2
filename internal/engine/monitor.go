package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/position"
)

// HedgeVerification is one open primary's hedge coverage as seen by the
// monitor on a tick.
type HedgeVerification struct {
	PrimaryID  string  `json:"primary_id"`
	HedgeID    string  `json:"hedge_id,omitempty"`
	IsOpen     bool    `json:"is_open"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ExitFlags are the independent conditions under which the monitor
// recommends closing a hedged pair early. Any single flag is enough.
type ExitFlags struct {
	BothProfitable         bool `json:"both_profitable"`
	HedgeCoversLoss        bool `json:"hedge_covers_loss"`
	PrimaryRecovered       bool `json:"primary_recovered"`
	PriceNearEntry         bool `json:"price_near_entry"`
	HedgeCounterproductive bool `json:"hedge_counterproductive"`
}

func (f ExitFlags) reasons() []string {
	var r []string
	if f.BothProfitable {
		r = append(r, "both legs profitable")
	}
	if f.HedgeCoversLoss {
		r = append(r, "hedge profit covers primary loss and fees")
	}
	if f.PrimaryRecovered {
		r = append(r, "primary recovered past threshold")
	}
	if f.PriceNearEntry {
		r = append(r, "price back at primary entry")
	}
	if f.HedgeCounterproductive {
		r = append(r, "hedge losing more than primary gains")
	}
	return r
}

// ExitAssessment is the outcome of one heuristic pass over a hedged
// pair. PnL figures are leveraged returns on each leg's margin; the
// hedge leg is additionally scaled by the leverage ratio so the two
// legs net against the same base.
type ExitAssessment struct {
	Pair             string    `json:"pair"`
	PrimaryID        string    `json:"primary_id"`
	HedgeID          string    `json:"hedge_id"`
	CurrentPrice     float64   `json:"current_price"`
	PrimaryPnL       float64   `json:"primary_pnl"`
	HedgePnL         float64   `json:"hedge_pnl"`
	AdjustedHedgePnL float64   `json:"adjusted_hedge_pnl"`
	FeeEstimate      float64   `json:"fee_estimate"`
	NetEstimate      float64   `json:"net_estimate"`
	Flags            ExitFlags `json:"flags"`
	ShouldExit       bool      `json:"should_exit"`
	Reasons          []string  `json:"reasons,omitempty"`
	AssessedAt       time.Time `json:"assessed_at"`
}

// AssessExit evaluates whether a hedged pair should be closed early.
// Pure arithmetic over the two legs at the current price; the caller
// decides whether anything happens with the recommendation.
func AssessExit(primary, hedge *position.Position, current float64, cfg config.HedgeConfig) ExitAssessment {
	ratio := 1.0
	if primary.Leverage > 0 && hedge.Leverage > 0 {
		ratio = hedge.Leverage / primary.Leverage
	}
	primaryPnL := primary.PnL(current)
	hedgePnL := hedge.PnL(current)
	adjusted := hedgePnL * ratio
	fee := cfg.RoundTripFeeRate * ratio

	primaryLoss := 0.0
	if primaryPnL < 0 {
		primaryLoss = -primaryPnL
	}

	flags := ExitFlags{
		BothProfitable:         primaryPnL > 0 && hedgePnL > 0,
		HedgeCoversLoss:        adjusted > primaryLoss+fee,
		PrimaryRecovered:       primary.PriceMove(current) > cfg.RecoveryExitPct,
		PriceNearEntry:         priceNearEntry(primary.EntryPrice, current, cfg.EntryProximityPct),
		HedgeCounterproductive: hedgePnL < 0 && primaryPnL > 0 && -adjusted > primaryPnL,
	}

	as := ExitAssessment{
		Pair:             primary.Pair,
		PrimaryID:        primary.ID,
		HedgeID:          hedge.ID,
		CurrentPrice:     current,
		PrimaryPnL:       primaryPnL,
		HedgePnL:         hedgePnL,
		AdjustedHedgePnL: adjusted,
		FeeEstimate:      fee,
		NetEstimate:      primaryPnL + adjusted - fee,
		Flags:            flags,
		AssessedAt:       time.Now().UTC(),
	}
	as.Reasons = flags.reasons()
	as.ShouldExit = len(as.Reasons) > 0
	return as
}

func priceNearEntry(entry, current, pct float64) bool {
	if entry <= 0 || pct <= 0 {
		return false
	}
	dist := current - entry
	if dist < 0 {
		dist = -dist
	}
	return dist/entry <= pct
}

// MonitorStats is the monitor's reporting snapshot.
type MonitorStats struct {
	Running        bool             `json:"running"`
	Ticks          int64            `json:"ticks"`
	LastTick       time.Time        `json:"last_tick,omitempty"`
	PendingRetries int              `json:"pending_retries"`
	Assessments    []ExitAssessment `json:"assessments,omitempty"`
}

// Monitor is the periodic hedge supervisor for one pair: it sweeps
// stale retry tracking, verifies hedge coverage, fires due retries and
// runs the early-exit heuristic. It never originates hedge signals; an
// uncovered primary with no tracked attempt is only logged.
type Monitor struct {
	pair     string
	cfg      config.HedgeConfig
	interval time.Duration
	lc       *Lifecycle
	rec      *Reconciler
	attempts *AttemptTracker
	bus      *events.Bus
	log      *logging.Logger

	// tickMu serializes passes; a tick that finds it held is skipped.
	tickMu sync.Mutex

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	ticks       int64
	lastTick    time.Time
	assessments []ExitAssessment

	wg sync.WaitGroup
}

// NewMonitor builds the monitor for one pair's lifecycle.
func NewMonitor(pair string, cfg config.HedgeConfig, lc *Lifecycle, rec *Reconciler, attempts *AttemptTracker, bus *events.Bus) *Monitor {
	interval := time.Duration(cfg.MonitorIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		pair:     pair,
		cfg:      cfg,
		interval: interval,
		lc:       lc,
		rec:      rec,
		attempts: attempts,
		bus:      bus,
		log:      logging.Default().WithComponent("hedge_monitor").WithPair(pair),
	}
}

// Start launches the tick loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(stop)
	m.log.Info("hedge monitor started", "interval", m.interval.String())
}

// Stop halts the tick loop and waits for an in-flight pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("hedge monitor stopped")
}

func (m *Monitor) loop(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Tick(context.Background())
		}
	}
}

// Tick runs one monitor pass and reports whether it ran. Passes never
// overlap: a tick that lands while the previous pass is still running
// is skipped, not queued.
func (m *Monitor) Tick(ctx context.Context) bool {
	if !m.tickMu.TryLock() {
		m.log.Debug("tick skipped, previous pass still running")
		return false
	}
	defer m.tickMu.Unlock()

	m.sweepAttempts()
	verifications := m.VerifyHedges()
	m.logUncovered(verifications)
	m.runDueRetries(ctx)
	m.assessExits(ctx)

	m.mu.Lock()
	m.ticks++
	m.lastTick = time.Now().UTC()
	m.mu.Unlock()
	return true
}

// sweepAttempts drops retry tracking for primaries that are no longer
// open. Sweeping removes attempts without touching their counters.
func (m *Monitor) sweepAttempts() {
	removed := m.attempts.Sweep(func(primaryID string) bool {
		p, ok := m.lc.Position(primaryID)
		return ok && p.IsOpen()
	})
	for _, a := range removed {
		m.log.Info("retry tracking dropped, primary no longer open",
			"primary_id", a.PrimaryID, "attempts", a.State.Attempt)
	}
}

// VerifyHedges reports hedge coverage for every open primary. A
// covered primary carries its hedge's ID and entry; an uncovered one
// with a pending retry carries that attempt's last error.
func (m *Monitor) VerifyHedges() []HedgeVerification {
	pairs := m.lc.HedgePairs()
	out := make([]HedgeVerification, 0, len(pairs))
	for _, hp := range pairs {
		v := HedgeVerification{PrimaryID: hp.Primary.ID}
		if hp.Hedge != nil {
			v.HedgeID = hp.Hedge.ID
			v.IsOpen = true
			v.EntryPrice = hp.Hedge.EntryPrice
		} else if a, ok := m.attempts.Get(hp.Primary.ID); ok {
			v.Error = a.LastError
		}
		out = append(out, v)
	}
	return out
}

func (m *Monitor) logUncovered(verifications []HedgeVerification) {
	for _, v := range verifications {
		if v.IsOpen {
			continue
		}
		if _, tracked := m.attempts.Get(v.PrimaryID); tracked {
			continue
		}
		logging.HedgeContext(m.pair, v.PrimaryID).Warn("open primary has no hedge and no pending retry")
	}
}

func (m *Monitor) runDueRetries(ctx context.Context) {
	for _, a := range m.attempts.Due(time.Now()) {
		m.log.Info("hedge retry due",
			"primary_id", a.PrimaryID, "phase", string(a.State.Phase),
			"attempt", a.State.Attempt, "last_error", a.LastError)
		if hedge := m.lc.RetryHedge(ctx, a.PrimaryID, a.SignalPrice); hedge != nil {
			m.log.Info("hedge retry succeeded",
				"primary_id", a.PrimaryID, "hedge_id", hedge.ID)
		}
	}
}

// assessExits runs the heuristic over every covered pair. It computes
// and logs; positions move only when auto close is enabled in config.
func (m *Monitor) assessExits(ctx context.Context) {
	pairs := m.lc.HedgePairs()
	fresh := make([]ExitAssessment, 0, len(pairs))
	defer func() {
		m.mu.Lock()
		m.assessments = fresh
		m.mu.Unlock()
	}()

	current := 0.0
	for _, hp := range pairs {
		if hp.Hedge == nil {
			continue
		}
		if current == 0 {
			price, err := m.rec.CurrentPrice(ctx, m.pair)
			if err != nil {
				m.log.Warn("exit assessment skipped, no current price", "error", err)
				return
			}
			current = price
		}

		as := AssessExit(hp.Primary, hp.Hedge, current, m.cfg)
		fresh = append(fresh, as)
		if !as.ShouldExit {
			continue
		}

		m.log.Info("hedged pair flagged for exit",
			"primary_id", as.PrimaryID, "hedge_id", as.HedgeID,
			"primary_pnl", as.PrimaryPnL, "adjusted_hedge_pnl", as.AdjustedHedgePnL,
			"net_estimate", as.NetEstimate, "reasons", strings.Join(as.Reasons, "; "))
		if m.bus != nil {
			m.bus.PublishHedgeExitFlag(m.pair, as.PrimaryID, as.HedgeID, as.NetEstimate, as.Reasons)
		}
		if !m.cfg.AutoClose {
			continue
		}
		if err := m.lc.CloseHedgedPair(ctx, as.PrimaryID, "monitor exit: "+as.Reasons[0]); err != nil {
			m.log.Error("auto close failed", "primary_id", as.PrimaryID, "error", err)
		}
	}
}

// Stats returns the monitor's current counters and the assessments
// from the last completed pass.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MonitorStats{
		Running:        m.running,
		Ticks:          m.ticks,
		LastTick:       m.lastTick,
		PendingRetries: m.attempts.Len(),
	}
	out.Assessments = append(out.Assessments, m.assessments...)
	return out
}
