package orders

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-hedge-bot/internal/position"
)

// Journal is an append-only structured record of every order the bot
// places. It writes one JSON line per event so fills, hedges and exits
// can be replayed or audited independently of the main log.
type Journal struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewJournal creates a Journal writing to w. A nil writer journals to
// stdout.
func NewJournal(w io.Writer) *Journal {
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(w).With().
		Timestamp().
		Str("journal", "trades").
		Logger()
	return &Journal{logger: logger}
}

// OpenJournalFile opens (or creates) an append-only journal file.
func OpenJournalFile(path string) (*Journal, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewJournal(f), f, nil
}

// Opened records a filled entry order.
func (j *Journal) Opened(pos *position.Position) {
	if j == nil || pos == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger.Info().
		Str("event", "position_opened").
		Str("pair", pos.Pair).
		Str("side", string(pos.Side)).
		Str("role", string(pos.Role)).
		Str("credential", pos.Credential).
		Str("client_order_id", pos.ClientOrderID).
		Float64("entry_price", pos.EntryPrice).
		Float64("size", pos.Size).
		Float64("leverage", pos.Leverage).
		Float64("quantity", pos.Quantity).
		Msg("entry filled")
}

// HedgeOpened records a hedge fill together with the guarantee that
// justified it.
func (j *Journal) HedgeOpened(primary, hedge *position.Position, guarantee float64, adjustment string) {
	if j == nil || hedge == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	ev := j.logger.Info().
		Str("event", "hedge_opened").
		Str("pair", hedge.Pair).
		Str("side", string(hedge.Side)).
		Str("role", string(hedge.Role)).
		Str("client_order_id", hedge.ClientOrderID).
		Float64("entry_price", hedge.EntryPrice).
		Float64("size", hedge.Size).
		Float64("leverage", hedge.Leverage).
		Float64("profit_guarantee", guarantee).
		Str("adjustment", adjustment)
	if primary != nil {
		ev = ev.Str("primary_id", primary.ID).
			Str("primary_role", string(primary.Role))
	}
	ev.Msg("hedge filled")
}

// TakeProfitSet records a placed or replaced take-profit order.
func (j *Journal) TakeProfitSet(pos *position.Position, price float64) {
	if j == nil || pos == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger.Info().
		Str("event", "take_profit_set").
		Str("pair", pos.Pair).
		Str("side", string(pos.Side)).
		Str("role", string(pos.Role)).
		Str("client_order_id", Related(pos.ClientOrderID, TypeTakeProfit)).
		Float64("stop_price", price).
		Msg("take-profit placed")
}

// Closed records a position exit with its realized outcome.
func (j *Journal) Closed(pos *position.Position, reason string) {
	if j == nil || pos == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	holding := time.Duration(0)
	if !pos.OpenedAt.IsZero() && !pos.ClosedAt.IsZero() {
		holding = pos.ClosedAt.Sub(pos.OpenedAt)
	}
	j.logger.Info().
		Str("event", "position_closed").
		Str("pair", pos.Pair).
		Str("side", string(pos.Side)).
		Str("role", string(pos.Role)).
		Str("client_order_id", pos.ClientOrderID).
		Float64("entry_price", pos.EntryPrice).
		Float64("exit_price", pos.ExitPrice).
		Float64("realized_pnl", pos.RealizedPnL).
		Dur("holding_time", holding).
		Str("reason", reason).
		Msg("position closed")
}

// HedgeRejected records a hedge calculation that could not guarantee a
// profitable outcome.
func (j *Journal) HedgeRejected(pair string, primaryID string, guarantee float64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger.Warn().
		Str("event", "hedge_rejected").
		Str("pair", pair).
		Str("primary_id", primaryID).
		Float64("profit_guarantee", guarantee).
		Msg("hedge rejected")
}

// RetryScheduled records a failed hedge attempt and when the next one
// runs.
func (j *Journal) RetryScheduled(pair string, attempt int, next time.Time, cause string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger.Warn().
		Str("event", "hedge_retry_scheduled").
		Str("pair", pair).
		Int("attempt", attempt).
		Time("next_attempt", next).
		Str("cause", cause).
		Msg("hedge retry scheduled")
}
