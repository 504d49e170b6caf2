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
	"futures-hedge-bot/internal/exchange"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/orders"
	"futures-hedge-bot/internal/position"
)

// closedRetention bounds how long closed positions stay in the local
// book. The weekly PnL window needs seven days; the extra day absorbs
// clock drift at the window edge.
const closedRetention = 8 * 24 * time.Hour

// LifecycleDeps carries the collaborators one pair lifecycle needs.
// Journal, Bus, Breaker, Analysis and the ID generators may be nil; the
// lifecycle then skips those duties instead of failing.
type LifecycleDeps struct {
	Reconciler *Reconciler
	Allocator  *allocator.Allocator
	Calculator *GuaranteeCalculator
	Attempts   *AttemptTracker
	Breaker    *circuit.Breaker
	PrimaryIDs *orders.Generator
	HedgeIDs   *orders.Generator
	Journal    *orders.Journal
	Bus        *events.Bus
	Analysis   analysis.Provider
	History    *database.DB

	// SizeFactor is the cross-pair scaling applied to primary and hedge
	// base sizes. Zero or negative means unscaled.
	SizeFactor float64
}

// Lifecycle executes strategy signals for one pair and owns that pair's
// position book. It never originates signals. Every venue mutation for
// the pair goes through here, which is what keeps the sequential-cycle
// rule and the allocator registrations consistent with the venue.
type Lifecycle struct {
	pair string
	cfg  *config.Config
	deps LifecycleDeps
	log  *logging.Logger

	mu        sync.Mutex
	phase     position.CyclePhase
	book      map[string]*position.Position
	primBal   exchange.Balance
	hedgeBal  exchange.Balance
	dailyPnL  float64
	weeklyPnL float64
}

// NewLifecycle builds the lifecycle for one pair.
func NewLifecycle(pair string, cfg *config.Config, deps LifecycleDeps) *Lifecycle {
	if deps.SizeFactor <= 0 {
		deps.SizeFactor = 1.0
	}
	return &Lifecycle{
		pair:  pair,
		cfg:   cfg,
		deps:  deps,
		log:   logging.Default().WithComponent("lifecycle").WithPair(pair),
		phase: position.PhaseIdle,
		book:  make(map[string]*position.Position),
	}
}

// Pair returns the pair this lifecycle trades.
func (l *Lifecycle) Pair() string { return l.pair }

// Phase returns the current cycle phase.
func (l *Lifecycle) Phase() position.CyclePhase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// ExecuteSignal runs one strategy instruction to completion and returns
// the position it opened or closed, nil when the signal produced no
// action. Venue errors are logged and swallowed here so a scheduler can
// drive this in a loop without its own recovery.
func (l *Lifecycle) ExecuteSignal(ctx context.Context, sig position.Signal) *position.Position {
	if sig.Pair != "" && !strings.EqualFold(sig.Pair, l.pair) {
		l.log.Warn("signal for another pair ignored", "signal_pair", sig.Pair)
		return nil
	}

	var (
		pos *position.Position
		err error
	)
	switch sig.Type {
	case position.SignalEntry, position.SignalReEntry:
		pos, err = l.openPrimary(ctx, sig)
	case position.SignalHedge:
		pos, err = l.openHedgeSignal(ctx, sig)
	case position.SignalExit:
		pos, err = l.closeBySignal(ctx, sig)
	default:
		l.log.Warn("unknown signal type", "type", string(sig.Type))
		return nil
	}
	if err != nil {
		l.log.Error("signal execution failed",
			"type", string(sig.Type), "side", string(sig.Side), "error", err)
		l.publishError(fmt.Sprintf("%s signal failed", sig.Type), err)
		return nil
	}
	return pos
}

// openPrimary handles ENTRY and RE_ENTRY. The same-pair sequential
// cycle check runs before the allocator and denies on its own.
func (l *Lifecycle) openPrimary(ctx context.Context, sig position.Signal) (*position.Position, error) {
	if !sig.Side.Valid() {
		return nil, fmt.Errorf("entry signal without a side")
	}
	role := position.RoleFromReason(sig.Type, sig.Reason)

	if ok, reason := l.CanOpenPosition(role); !ok {
		l.log.Info("entry refused by cycle rule", "role", string(role), "reason", reason)
		return nil, nil
	}
	if ok, reason := l.deps.Allocator.CanOpenPrimary(l.pair, role); !ok {
		l.log.Info("entry refused by allocator", "role", string(role), "reason", reason)
		l.publishAllocatorDenied(role, reason)
		return nil, nil
	}
	if ok, reason := l.allowVenueCall(); !ok {
		l.log.Warn("entry refused by circuit breaker", "role", string(role), "reason", reason)
		return nil, nil
	}

	sizing := l.cfg.Sizing.ForRole(string(role))
	req := exchange.OpenRequest{
		Pair:          l.pair,
		Side:          sig.Side,
		Size:          sizing.SizePct * l.deps.SizeFactor,
		Leverage:      sizing.Leverage,
		Role:          role,
		ClientOrderID: l.generateID(ctx, l.deps.PrimaryIDs, role),
		SignalPrice:   sig.Price,
	}

	l.setPhase(position.PhaseOpening)
	pos, err := l.deps.Reconciler.OpenPrimary(ctx, req)
	if err != nil {
		l.recordVenueFailure(err)
		l.setPhase(position.PhaseIdle)
		return nil, fmt.Errorf("open %s primary: %w", role, err)
	}
	l.recordVenueSuccess()
	pos.SignalPrice = sig.Price

	if err := l.deps.Allocator.RegisterPrimary(l.pair, role, pos.ID); err != nil {
		// The slot filled between the advisory check and the venue
		// fill. Close immediately so registrations stay 1:1 with open
		// primaries.
		l.log.Error("registration refused after venue open, closing",
			"position_id", pos.ID, "error", err)
		if cerr := l.deps.Reconciler.Close(ctx, pos); cerr != nil {
			l.recordVenueFailure(cerr)
			l.log.Error("rollback close failed, position is live and unregistered",
				"position_id", pos.ID, "error", cerr)
		} else {
			l.journalClosed(pos, "allocator refused registration")
		}
		l.publishAllocatorDenied(role, err.Error())
		l.setPhase(position.PhaseIdle)
		return nil, err
	}

	if sig.Levels == nil && l.deps.Analysis != nil {
		if adv, aerr := l.deps.Analysis.Advise(ctx, analysis.Request{
			Pair: l.pair, Side: pos.Side, EntryPrice: pos.EntryPrice,
		}); aerr != nil {
			l.log.Debug("analysis consult failed, using configured distance", "error", aerr)
		} else if adv.Levels.TakeProfit > 0 {
			l.log.Info("take-profit from analysis levels",
				"take_profit", adv.Levels.TakeProfit, "confidence", adv.Confidence)
			levels := adv.Levels
			sig.Levels = &levels
		}
	}
	l.applyTakeProfit(ctx, pos, l.staticTakeProfit(pos, sig))

	l.mu.Lock()
	l.book[pos.ID] = pos
	l.mu.Unlock()
	l.setPhase(position.PhaseOpen)

	if l.deps.Journal != nil {
		l.deps.Journal.Opened(pos)
	}
	if l.deps.Bus != nil {
		l.deps.Bus.PublishPositionOpened(l.pair, string(pos.Role), string(pos.Side),
			pos.EntryPrice, pos.Size, pos.Leverage)
	}
	l.log.Info("primary opened",
		"position_id", pos.ID, "role", string(pos.Role), "side", string(pos.Side),
		"entry_price", pos.EntryPrice, "size", pos.Size, "leverage", pos.Leverage,
		"take_profit", pos.TakeProfit)
	return pos, nil
}

// staticTakeProfit picks the TP for a new primary: externally supplied
// comprehensive levels win, otherwise the configured distance off the
// venue entry price.
func (l *Lifecycle) staticTakeProfit(pos *position.Position, sig position.Signal) float64 {
	if sig.Levels != nil && sig.Levels.TakeProfit > 0 {
		return sig.Levels.TakeProfit
	}
	pct := l.cfg.Sizing.TakeProfitPct
	if pct <= 0 {
		return 0
	}
	if pos.Side == position.SideLong {
		return pos.EntryPrice * (1 + pct)
	}
	return pos.EntryPrice * (1 - pct)
}

// applyTakeProfit places the reduce-only TP and records it. A failure
// leaves the position live without protection, which is logged loudly
// but does not unwind the open.
func (l *Lifecycle) applyTakeProfit(ctx context.Context, pos *position.Position, price float64) {
	if price <= 0 {
		return
	}
	if err := l.deps.Reconciler.SetTakeProfit(ctx, pos, price); err != nil {
		l.recordVenueFailure(err)
		l.log.Error("take-profit placement failed",
			"position_id", pos.ID, "price", price, "error", err)
		l.publishError("take-profit placement failed", err)
		return
	}
	l.recordVenueSuccess()
	pos.TakeProfit = price
	if l.deps.Journal != nil {
		l.deps.Journal.TakeProfitSet(pos, price)
	}
}

// openHedgeSignal handles HEDGE: protect the first unhedged open
// primary in priority order. With nothing to protect the signal is a
// no-op.
func (l *Lifecycle) openHedgeSignal(ctx context.Context, sig position.Signal) (*position.Position, error) {
	primary := l.FirstUnhedgedPrimary()
	if primary == nil {
		l.log.Info("hedge signal with no unhedged primary, ignored")
		return nil, nil
	}
	return l.hedgeFor(ctx, primary.ID, sig.Price)
}

// RetryHedge re-attempts the hedge for a primary, used by the monitor
// when a scheduled retry comes due.
func (l *Lifecycle) RetryHedge(ctx context.Context, primaryID string, signalPrice float64) *position.Position {
	pos, err := l.hedgeFor(ctx, primaryID, signalPrice)
	if err != nil {
		l.log.Error("hedge retry failed", "primary_id", primaryID, "error", err)
		return nil
	}
	return pos
}

// hedgeFor sizes, evaluates and opens the hedge for one primary. Base
// size and leverage come from config, the leverage doubled by the
// configured multiplier and capped at the emergency ceiling for every
// primary role except scalp. The TP sits just inside the primary's
// liquidation price so the hedge banks its maximum right before the
// primary would be forced out.
func (l *Lifecycle) hedgeFor(ctx context.Context, primaryID string, signalPrice float64) (*position.Position, error) {
	l.mu.Lock()
	primary, ok := l.book[primaryID]
	if !ok || !primary.IsOpen() || !primary.Role.IsPrimary() {
		l.mu.Unlock()
		l.deps.Attempts.Resolve(primaryID)
		return nil, nil
	}
	if l.hedgeOfLocked(primary) != nil {
		l.mu.Unlock()
		l.deps.Attempts.Resolve(primaryID)
		return nil, nil
	}
	prim := *primary
	l.mu.Unlock()

	if ok, reason := l.allowVenueCall(); !ok {
		l.log.Warn("hedge open refused by circuit breaker",
			"primary_id", prim.ID, "reason", reason)
		l.advanceAttemptIfTracked(prim.ID, signalPrice, "circuit open: "+reason)
		return nil, nil
	}

	baseSize := l.cfg.Hedge.SizePct * l.deps.SizeFactor
	baseLev := l.cfg.Hedge.Leverage * l.cfg.Hedge.LeverageMultiplier
	if prim.Role != position.RoleScalp && l.cfg.Hedge.EmergencyMaxLeverage > 0 &&
		baseLev > l.cfg.Hedge.EmergencyMaxLeverage {
		baseLev = l.cfg.Hedge.EmergencyMaxLeverage
	}

	liq := prim.LiquidationPrice()
	tp := liq * (1 + l.cfg.Hedge.LiquidationBuffer)
	if prim.Side == position.SideShort {
		tp = liq * (1 - l.cfg.Hedge.LiquidationBuffer)
	}

	current, err := l.deps.Reconciler.CurrentPrice(ctx, l.pair)
	if err != nil {
		return nil, l.hedgeOpenFailed(prim.ID, signalPrice, fmt.Errorf("price fetch: %w", err))
	}

	res := l.deps.Calculator.Evaluate(GuaranteeRequest{
		Primary:      &prim,
		SignalPrice:  signalPrice,
		CurrentPrice: current,
		BaseSize:     baseSize,
		BaseLeverage: baseLev,
		TakeProfit:   tp,
	})
	if !res.ShouldOpen {
		l.log.Warn("hedge rejected by guarantee calculator",
			"primary_id", prim.ID, "reason", res.Reason,
			"price_deviation", res.PriceDeviation)
		if l.deps.Journal != nil {
			l.deps.Journal.HedgeRejected(l.pair, prim.ID, res.ProfitGuarantee)
		}
		if l.deps.Bus != nil {
			l.deps.Bus.PublishHedgeRejected(l.pair, prim.ID, res.Reason, res.ProfitGuarantee)
		}
		l.deps.History.RecordHedgeEventAsync(database.HedgeEvent{
			Pair:      l.pair,
			PrimaryID: prim.ID,
			Event:     database.HedgeEventRejected,
			Verdict:   string(res.Classification),
			Guarantee: res.ProfitGuarantee,
			Detail:    res.Reason,
		})
		l.advanceAttemptIfTracked(prim.ID, signalPrice, "guarantee rejected: "+res.Reason)
		return nil, nil
	}

	hedgeRole, _ := prim.Role.HedgeRole()
	req := exchange.OpenRequest{
		Pair:          l.pair,
		Side:          prim.Side.Opposite(),
		Size:          res.Size,
		Leverage:      res.Leverage,
		Role:          hedgeRole,
		ClientOrderID: l.generateID(ctx, l.deps.HedgeIDs, hedgeRole),
		SignalPrice:   signalPrice,
	}
	hedge, err := l.deps.Reconciler.OpenHedge(ctx, req)
	if err != nil {
		return nil, l.hedgeOpenFailed(prim.ID, signalPrice, err)
	}
	l.recordVenueSuccess()
	hedge.SignalPrice = signalPrice
	l.deps.Attempts.Resolve(prim.ID)

	l.applyTakeProfit(ctx, hedge, res.TakeProfit)

	l.mu.Lock()
	l.book[hedge.ID] = hedge
	l.mu.Unlock()
	l.setPhase(position.PhaseHedging)

	if l.deps.Journal != nil {
		l.deps.Journal.HedgeOpened(&prim, hedge, res.ProfitGuarantee, string(res.Method))
	}
	if l.deps.Bus != nil {
		l.deps.Bus.PublishHedgeOpened(l.pair, prim.ID, hedge.ID, string(res.Method), res.ProfitGuarantee)
	}
	l.deps.History.RecordHedgeEventAsync(database.HedgeEvent{
		Pair:      l.pair,
		PrimaryID: prim.ID,
		HedgeID:   hedge.ID,
		Event:     database.HedgeEventOpened,
		Verdict:   string(res.Classification),
		Method:    string(res.Method),
		Guarantee: res.ProfitGuarantee,
	})
	l.log.Info("hedge opened",
		"primary_id", prim.ID, "hedge_id", hedge.ID,
		"classification", string(res.Classification), "method", string(res.Method),
		"size", hedge.Size, "leverage", hedge.Leverage,
		"take_profit", res.TakeProfit, "profit_guarantee", res.ProfitGuarantee)
	return hedge, nil
}

// hedgeOpenFailed records a venue failure in the hedge path and
// schedules the retry. Any venue call made on the way to the open
// counts, the price fetch included.
func (l *Lifecycle) hedgeOpenFailed(primaryID string, signalPrice float64, cause error) error {
	l.recordVenueFailure(cause)
	l.scheduleRetry(primaryID, signalPrice, cause.Error())
	return fmt.Errorf("hedge open for %s: %w", primaryID, cause)
}

// advanceAttemptIfTracked consumes an attempt on a guarantee rejection.
// A rejection never starts retry tracking, but when a retry chain is
// already running it still advances the counter.
func (l *Lifecycle) advanceAttemptIfTracked(primaryID string, signalPrice float64, cause string) {
	if _, ok := l.deps.Attempts.Get(primaryID); !ok {
		return
	}
	l.scheduleRetry(primaryID, signalPrice, cause)
}

func (l *Lifecycle) scheduleRetry(primaryID string, signalPrice float64, cause string) {
	a := l.deps.Attempts.Fail(l.pair, primaryID, signalPrice, cause)
	if l.deps.Journal != nil {
		l.deps.Journal.RetryScheduled(l.pair, a.State.Attempt, a.NextRetryAt, cause)
	}
	event := database.HedgeEventRetry
	if a.State.Phase == PhaseContinuous && a.State.Attempt == l.deps.Attempts.Policy().MaxAttempts+1 {
		event = database.HedgeEventExhausted
	}
	l.deps.History.RecordHedgeEventAsync(database.HedgeEvent{
		Pair:      l.pair,
		PrimaryID: primaryID,
		Event:     event,
		Attempt:   a.State.Attempt,
		Detail:    cause,
	})
	if l.deps.Bus == nil {
		return
	}
	if a.State.Phase == PhaseContinuous {
		l.deps.Bus.PublishRetryContinuous(l.pair, primaryID, a.State.Attempt)
	} else {
		l.deps.Bus.PublishRetryScheduled(l.pair, primaryID, a.State.Attempt,
			l.deps.Attempts.Policy().Delay(a.State))
	}
}

// closeBySignal handles EXIT: close every open position on the signal's
// side, oldest first. Hedges on the opposite side stay open and the
// monitor's verification picks them up as dangling.
func (l *Lifecycle) closeBySignal(ctx context.Context, sig position.Signal) (*position.Position, error) {
	l.mu.Lock()
	var targets []*position.Position
	for _, p := range l.book {
		if p.IsOpen() && p.Side == sig.Side {
			targets = append(targets, p)
		}
	}
	l.mu.Unlock()
	if len(targets) == 0 {
		l.log.Info("exit signal with no matching open position", "side", string(sig.Side))
		return nil, nil
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].OpenedAt.Before(targets[j].OpenedAt) })

	reason := sig.Reason
	if reason == "" {
		reason = "exit signal"
	}

	l.setPhase(position.PhaseClosing)
	var closed *position.Position
	for _, p := range targets {
		if err := l.closePosition(ctx, p, reason); err != nil {
			l.refreshPhase()
			return closed, err
		}
		closed = p
	}
	l.refreshPhase()
	return closed, nil
}

// CloseHedgedPair closes both legs of a hedged primary, hedge first so
// the brief unhedged exposure sits on the leg about to close anyway.
func (l *Lifecycle) CloseHedgedPair(ctx context.Context, primaryID, reason string) error {
	l.mu.Lock()
	primary, ok := l.book[primaryID]
	if !ok || !primary.IsOpen() {
		l.mu.Unlock()
		return fmt.Errorf("no open primary %s", primaryID)
	}
	hedge := l.hedgeOfLocked(primary)
	l.mu.Unlock()

	l.setPhase(position.PhaseClosing)
	defer l.refreshPhase()

	if hedge != nil {
		if err := l.closePosition(ctx, hedge, reason); err != nil {
			return err
		}
	}
	return l.closePosition(ctx, primary, reason)
}

// ClosePosition market-closes one tracked position by ID.
func (l *Lifecycle) ClosePosition(ctx context.Context, id, reason string) error {
	l.mu.Lock()
	pos, ok := l.book[id]
	if !ok || !pos.IsOpen() {
		l.mu.Unlock()
		return fmt.Errorf("no open position %s", id)
	}
	l.mu.Unlock()

	if err := l.closePosition(ctx, pos, reason); err != nil {
		return err
	}
	l.refreshPhase()
	return nil
}

// closePosition market-closes one leg and settles the local book. The
// exit price is the current mark, fetched best-effort for realized PnL.
func (l *Lifecycle) closePosition(ctx context.Context, pos *position.Position, reason string) error {
	if ok, why := l.allowVenueCall(); !ok {
		return fmt.Errorf("close %s: circuit open: %s", pos.ID, why)
	}
	if err := l.deps.Reconciler.Close(ctx, pos); err != nil {
		l.recordVenueFailure(err)
		return fmt.Errorf("close %s: %w", pos.ID, err)
	}
	l.recordVenueSuccess()

	exit := pos.EntryPrice
	if price, err := l.deps.Reconciler.CurrentPrice(ctx, l.pair); err == nil && price > 0 {
		exit = price
	}
	l.settleClosed(pos, exit, reason)
	return nil
}

// settleClosed marks a position closed locally, releases its
// registration and rolls realized PnL into the aggregates.
func (l *Lifecycle) settleClosed(pos *position.Position, exitPrice float64, reason string) {
	l.mu.Lock()
	pos.Status = position.StatusClosed
	pos.ClosedAt = time.Now().UTC()
	if exitPrice > 0 {
		pos.ExitPrice = exitPrice
		pos.RealizedPnL = pos.BalanceImpact(exitPrice)
	}
	l.recomputePnLLocked()
	l.mu.Unlock()

	if pos.Role.IsPrimary() {
		l.deps.Allocator.UnregisterPrimary(pos.ID)
		l.deps.Attempts.Resolve(pos.ID)
	}
	l.journalClosed(pos, reason)
	l.deps.History.RecordTradeAsync(database.TradeFromPosition(pos, reason))
	if l.deps.Bus != nil {
		l.deps.Bus.PublishPositionClosed(l.pair, string(pos.Role), reason,
			pos.EntryPrice, pos.ExitPrice, pos.RealizedPnL)
	}
	l.log.Info("position closed",
		"position_id", pos.ID, "role", string(pos.Role), "reason", reason,
		"exit_price", pos.ExitPrice, "realized_pnl", pos.RealizedPnL)
}

// UpdatePositions reconciles the local book against the venue: merge
// reported rows by ID in place, adopt unknown ones, settle the ones the
// venue no longer reports, then refresh balances and the PnL
// aggregates. On fetch failure the stale book is kept as is.
func (l *Lifecycle) UpdatePositions(ctx context.Context) error {
	reported, err := l.deps.Reconciler.AllPositions(ctx, l.pair)
	if err != nil {
		l.recordVenueFailure(err)
		l.log.Warn("position refresh failed, keeping last known book", "error", err)
		return err
	}
	l.recordVenueSuccess()

	exitEstimate := 0.0
	if price, perr := l.deps.Reconciler.CurrentPrice(ctx, l.pair); perr == nil {
		exitEstimate = price
	}

	var dropped, adopted []*position.Position
	l.mu.Lock()
	seen := make(map[string]bool, len(reported))
	for _, rp := range reported {
		if rp.ID == "" {
			continue
		}
		seen[rp.ID] = true
		if local, ok := l.book[rp.ID]; ok {
			mergeVenueState(local, rp)
			continue
		}
		if tag, perr := orders.Parse(rp.ClientOrderID); perr == nil {
			rp.Role = tag.Role
		}
		l.book[rp.ID] = rp
		adopted = append(adopted, rp)
		l.log.Info("adopted venue position",
			"position_id", rp.ID, "role", string(rp.Role), "side", string(rp.Side))
		if rp.Role.IsPrimary() && rp.IsOpen() {
			if rerr := l.deps.Allocator.RegisterPrimary(l.pair, rp.Role, rp.ID); rerr != nil {
				l.log.Error("adopted primary exceeds allocation",
					"position_id", rp.ID, "error", rerr)
			}
		}
	}
	now := time.Now().UTC()
	for id, local := range l.book {
		if local.IsOpen() && !seen[id] {
			dropped = append(dropped, local)
			continue
		}
		if !local.IsOpen() && !local.ClosedAt.IsZero() && now.Sub(local.ClosedAt) > closedRetention {
			delete(l.book, id)
		}
	}
	l.mu.Unlock()

	for _, p := range dropped {
		l.settleClosed(p, exitEstimate, "closed on venue")
	}
	if l.deps.Bus != nil {
		// Adopted rows must feed the same open accounting the
		// lifecycle's own opens do, or their eventual close would
		// unbalance every counting consumer.
		for _, p := range adopted {
			l.deps.Bus.PublishPositionOpened(l.pair, string(p.Role), string(p.Side),
				p.EntryPrice, p.Size, p.Leverage)
		}
	}

	l.refreshBalances(ctx)

	l.mu.Lock()
	l.recomputePnLLocked()
	l.refreshPhaseLocked()
	l.mu.Unlock()
	return nil
}

// SeedPositions loads restored positions into the book before the first
// reconcile, registering open primaries so the allocation cap survives
// a restart. The next UpdatePositions overwrites with venue truth.
func (l *Lifecycle) SeedPositions(positions []*position.Position) {
	var seeded []*position.Position
	l.mu.Lock()
	for _, p := range positions {
		if p == nil || p.ID == "" || !strings.EqualFold(p.Pair, l.pair) {
			continue
		}
		if _, exists := l.book[p.ID]; exists {
			continue
		}
		cp := *p
		l.book[cp.ID] = &cp
		if cp.IsOpen() {
			seeded = append(seeded, &cp)
		}
		if cp.Role.IsPrimary() && cp.IsOpen() {
			if err := l.deps.Allocator.RegisterPrimary(l.pair, cp.Role, cp.ID); err != nil {
				l.log.Error("restored primary exceeds allocation",
					"position_id", cp.ID, "error", err)
			}
		}
	}
	l.refreshPhaseLocked()
	l.mu.Unlock()

	if l.deps.Bus != nil {
		for _, p := range seeded {
			l.deps.Bus.PublishPositionOpened(l.pair, string(p.Role), string(p.Side),
				p.EntryPrice, p.Size, p.Leverage)
		}
	}
}

// mergeVenueState folds a venue row into the local record. Venue fields
// win for price, quantity and leverage; locally assigned metadata, the
// role and take-profit and originating signal, survives the merge.
func mergeVenueState(local, reported *position.Position) {
	if reported.EntryPrice > 0 {
		local.EntryPrice = reported.EntryPrice
	}
	if reported.Quantity > 0 {
		local.Quantity = reported.Quantity
	}
	if reported.Leverage > 0 {
		local.Leverage = reported.Leverage
	}
	if reported.Size > 0 {
		local.Size = reported.Size
	}
	if reported.Credential != "" {
		local.Credential = reported.Credential
	}
	if reported.ClientOrderID != "" && local.ClientOrderID == "" {
		local.ClientOrderID = reported.ClientOrderID
	}
	local.Status = reported.Status
}

// CanOpenPosition enforces the sequential cycle: a new primary may only
// open while no primary-role position on the pair is OPEN. This denies
// on its own, regardless of free allocator slots.
func (l *Lifecycle) CanOpenPosition(role position.Role) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.book {
		if p.IsOpen() && p.Role.IsPrimary() {
			return false, fmt.Sprintf("%s blocked, %s %s still open", role, p.Role, p.ID)
		}
	}
	return true, ""
}

// PendingAttempts lists the hedge attempts currently tracked for retry
// on this pair. The tracker is internally synchronized.
func (l *Lifecycle) PendingAttempts() []HedgeAttempt {
	return l.deps.Attempts.All()
}

// FirstUnhedgedPrimary returns a copy of the highest-priority open
// primary without a live hedge, nil when every primary is covered. The
// search order is fixed: anchor, then opportunity, then scalp.
func (l *Lifecycle) FirstUnhedgedPrimary() *position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.firstUnhedgedPrimaryLocked()
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (l *Lifecycle) firstUnhedgedPrimaryLocked() *position.Position {
	for _, role := range position.HedgePriority {
		for _, p := range l.book {
			if p.Role != role || !p.IsOpen() {
				continue
			}
			if l.hedgeOfLocked(p) == nil {
				return p
			}
		}
	}
	return nil
}

func (l *Lifecycle) hedgeOfLocked(primary *position.Position) *position.Position {
	for _, p := range l.book {
		if p.IsHedgeFor(primary) {
			return p
		}
	}
	return nil
}

// HedgePair is an open primary with its live hedge, if any.
type HedgePair struct {
	Primary *position.Position
	Hedge   *position.Position // nil when unhedged
}

// HedgePairs returns copies of every open primary with its hedge,
// ordered by the primary's open time.
func (l *Lifecycle) HedgePairs() []HedgePair {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []HedgePair
	for _, p := range l.book {
		if !p.IsOpen() || !p.Role.IsPrimary() {
			continue
		}
		pc := *p
		hp := HedgePair{Primary: &pc}
		if h := l.hedgeOfLocked(p); h != nil {
			hc := *h
			hp.Hedge = &hc
		}
		out = append(out, hp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Primary.OpenedAt.Before(out[j].Primary.OpenedAt)
	})
	return out
}

// Positions returns copies of every tracked position, open and recently
// closed, ordered by open time.
func (l *Lifecycle) Positions() []*position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*position.Position, 0, len(l.book))
	for _, p := range l.book {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenPositions returns copies of the open positions only.
func (l *Lifecycle) OpenPositions() []*position.Position {
	all := l.Positions()
	out := all[:0]
	for _, p := range all {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// Position returns a copy of one tracked position by ID.
func (l *Lifecycle) Position(id string) (*position.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.book[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Aggregates is the pair's reporting snapshot.
type Aggregates struct {
	Pair           string              `json:"pair"`
	Phase          position.CyclePhase `json:"phase"`
	OpenPositions  int                 `json:"open_positions"`
	PrimaryBalance exchange.Balance    `json:"primary_balance"`
	HedgeBalance   exchange.Balance    `json:"hedge_balance"`
	DailyPnL       float64             `json:"daily_pnl"`
	WeeklyPnL      float64             `json:"weekly_pnl"`
}

// Aggregates returns the pair's current balances, phase and realized
// PnL windows.
func (l *Lifecycle) Aggregates() Aggregates {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := 0
	for _, p := range l.book {
		if p.IsOpen() {
			open++
		}
	}
	return Aggregates{
		Pair:           l.pair,
		Phase:          l.phase,
		OpenPositions:  open,
		PrimaryBalance: l.primBal,
		HedgeBalance:   l.hedgeBal,
		DailyPnL:       l.dailyPnL,
		WeeklyPnL:      l.weeklyPnL,
	}
}

func (l *Lifecycle) refreshBalances(ctx context.Context) {
	prim, hedge, err := l.deps.Reconciler.Balances(ctx)
	if err != nil {
		l.log.Warn("balance refresh failed", "error", err)
		return
	}
	l.mu.Lock()
	l.primBal = prim
	l.hedgeBal = hedge
	l.mu.Unlock()
	if l.deps.Bus != nil {
		l.deps.Bus.PublishBalanceUpdate("primary", prim.Total, prim.Available)
		if l.deps.Reconciler.SplitCredentials() {
			l.deps.Bus.PublishBalanceUpdate("hedge", hedge.Total, hedge.Available)
		}
	}
}

// recomputePnLLocked rebuilds the realized PnL aggregates from closed
// positions: the UTC calendar day and the trailing seven days.
func (l *Lifecycle) recomputePnLLocked() {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := now.Add(-7 * 24 * time.Hour)
	var daily, weekly float64
	for _, p := range l.book {
		if p.IsOpen() || p.ClosedAt.IsZero() {
			continue
		}
		if !p.ClosedAt.Before(weekStart) {
			weekly += p.RealizedPnL
		}
		if !p.ClosedAt.Before(dayStart) {
			daily += p.RealizedPnL
		}
	}
	l.dailyPnL = daily
	l.weeklyPnL = weekly
}

func (l *Lifecycle) setPhase(next position.CyclePhase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setPhaseLocked(next)
}

func (l *Lifecycle) setPhaseLocked(next position.CyclePhase) {
	if l.phase == next {
		return
	}
	if !l.phase.CanTransition(next) {
		l.log.Warn("illegal cycle transition refused",
			"from", string(l.phase), "to", string(next))
		return
	}
	l.log.Debug("cycle phase", "from", string(l.phase), "to", string(next))
	l.phase = next
}

func (l *Lifecycle) refreshPhase() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshPhaseLocked()
}

// refreshPhaseLocked re-derives the cycle phase from the book. Venue
// driven changes, an external close or a filled TP, move the book
// without a local transition, so the derived value may skip steps the
// explicit transitions would refuse.
func (l *Lifecycle) refreshPhaseLocked() {
	target := position.PhaseIdle
	for _, p := range l.book {
		if p.IsOpen() && p.Role.IsPrimary() {
			target = position.PhaseOpen
			if l.hedgeOfLocked(p) != nil {
				target = position.PhaseHedging
			}
			break
		}
	}
	if target == l.phase {
		return
	}
	l.log.Debug("cycle phase", "from", string(l.phase), "to", string(target))
	l.phase = target
}

func (l *Lifecycle) generateID(ctx context.Context, gen *orders.Generator, role position.Role) string {
	if gen == nil {
		return ""
	}
	id, err := gen.Generate(ctx, role, orders.TypeEntry)
	if err != nil {
		l.log.Warn("client order id generation failed", "role", string(role), "error", err)
		return ""
	}
	return id
}

func (l *Lifecycle) allowVenueCall() (bool, string) {
	if l.deps.Breaker == nil {
		return true, ""
	}
	return l.deps.Breaker.Allow()
}

func (l *Lifecycle) recordVenueFailure(err error) {
	if l.deps.Breaker != nil {
		l.deps.Breaker.RecordFailure(err)
	}
}

func (l *Lifecycle) recordVenueSuccess() {
	if l.deps.Breaker != nil {
		l.deps.Breaker.RecordSuccess()
	}
}

func (l *Lifecycle) journalClosed(pos *position.Position, reason string) {
	if l.deps.Journal != nil {
		l.deps.Journal.Closed(pos, reason)
	}
}

func (l *Lifecycle) publishAllocatorDenied(role position.Role, reason string) {
	if l.deps.Bus != nil {
		l.deps.Bus.PublishAllocatorDenied(l.pair, string(role), reason)
	}
}

func (l *Lifecycle) publishError(message string, err error) {
	if l.deps.Bus != nil {
		l.deps.Bus.PublishError("lifecycle", message, err)
	}
}
