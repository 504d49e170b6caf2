package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-hedge-bot/internal/position"
)

// PriceFunc supplies quotes to the mock when its fixed price table has
// no entry for a pair. Dry-run mode plugs the real client's
// GetCurrentPrice in here so simulated fills track the live market.
type PriceFunc func(ctx context.Context, pair string) (float64, error)

// TakeProfitCall records one SetTakeProfitOrder invocation.
type TakeProfitCall struct {
	PositionID string
	Price      float64
}

// MockGateway implements Gateway against in-memory state. It backs both
// dry-run trading and the engine tests.
type MockGateway struct {
	mu         sync.RWMutex
	credential string
	balance    Balance
	prices     map[string]float64
	quotes     PriceFunc
	positions  map[string]*position.Position // keyed by pair|side
	tpOrders   map[string]float64            // keyed by position ID

	// Failure injection for tests.
	OpenErr            error
	CloseErr           error
	TakeProfitErr      error
	PriceErr           error
	BalanceErr         error
	FailOpensRemaining int // fail this many opens, then succeed

	// Call tracking.
	OpenCalls       []OpenRequest
	CloseCalls      []string
	TakeProfitCalls []TakeProfitCall
}

// NewMockGateway creates a mock with the given wallet balance.
func NewMockGateway(credential string, balance float64) *MockGateway {
	return &MockGateway{
		credential: credential,
		balance:    Balance{Total: balance, Available: balance},
		prices:     make(map[string]float64),
		positions:  make(map[string]*position.Position),
		tpOrders:   make(map[string]float64),
	}
}

// WithQuotes sets a fallback quote source and returns the mock.
func (m *MockGateway) WithQuotes(fn PriceFunc) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes = fn
	return m
}

// SetPrice fixes the quote for a pair.
func (m *MockGateway) SetPrice(pair string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[pair] = price
}

// SetBalance replaces the wallet balance.
func (m *MockGateway) SetBalance(total float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = Balance{Total: total, Available: total}
}

func (m *MockGateway) CredentialTag() string { return m.credential }

func (m *MockGateway) GetCurrentPrice(ctx context.Context, pair string) (float64, error) {
	m.mu.RLock()
	price, ok := m.prices[pair]
	err := m.PriceErr
	quotes := m.quotes
	m.mu.RUnlock()

	if err != nil {
		return 0, err
	}
	if ok {
		return price, nil
	}
	if quotes != nil {
		return quotes(ctx, pair)
	}
	return 0, fmt.Errorf("no price for %s", pair)
}

func (m *MockGateway) GetAccountBalance(ctx context.Context) (Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.BalanceErr != nil {
		return Balance{}, m.BalanceErr
	}
	return m.balance, nil
}

// OpenPosition simulates an immediate market fill at the current quote.
func (m *MockGateway) OpenPosition(ctx context.Context, req OpenRequest) (*position.Position, error) {
	price, err := m.GetCurrentPrice(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("mock fill price for %s: %w", req.Pair, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCalls = append(m.OpenCalls, req)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.FailOpensRemaining > 0 {
		m.FailOpensRemaining--
		return nil, &APIError{Status: 503, Code: -1001, Message: "mock: internal error"}
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = "fb-" + uuid.NewString()[:18]
	}

	qty := m.balance.Total * req.Size * req.Leverage / price
	key := posKey(req.Pair, req.Side)
	if existing, ok := m.positions[key]; ok && existing.IsOpen() {
		// Same-direction add: venue averages the entry.
		total := existing.EntryPrice*existing.Quantity + price*qty
		existing.Quantity += qty
		existing.EntryPrice = total / existing.Quantity
		existing.Size += req.Size
		return clonePosition(existing), nil
	}

	pos := &position.Position{
		ID:            strings.ToLower(clientOrderID),
		Pair:          req.Pair,
		Side:          req.Side,
		Role:          req.Role,
		Status:        position.StatusOpen,
		Size:          req.Size,
		Quantity:      qty,
		Leverage:      req.Leverage,
		EntryPrice:    price,
		SignalPrice:   req.SignalPrice,
		ClientOrderID: clientOrderID,
		Credential:    m.credential,
		OpenedAt:      time.Now().UTC(),
	}
	m.positions[key] = pos
	return clonePosition(pos), nil
}

func (m *MockGateway) ClosePosition(ctx context.Context, pos *position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls = append(m.CloseCalls, pos.ID)
	if m.CloseErr != nil {
		return m.CloseErr
	}
	key := posKey(pos.Pair, pos.Side)
	if _, ok := m.positions[key]; !ok {
		return &APIError{Status: 400, Code: -2011, Message: "mock: unknown position"}
	}
	delete(m.positions, key)
	delete(m.tpOrders, pos.ID)
	return nil
}

func (m *MockGateway) SetTakeProfitOrder(ctx context.Context, pos *position.Position, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TakeProfitCalls = append(m.TakeProfitCalls, TakeProfitCall{PositionID: pos.ID, Price: price})
	if m.TakeProfitErr != nil {
		return m.TakeProfitErr
	}
	m.tpOrders[pos.ID] = price
	return nil
}

func (m *MockGateway) GetOpenPositions(ctx context.Context, pair string) ([]*position.Position, error) {
	return m.GetPositions(ctx, pair)
}

func (m *MockGateway) GetPositions(ctx context.Context, pair string) ([]*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*position.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		if pair != "" && pos.Pair != pair {
			continue
		}
		out = append(out, clonePosition(pos))
	}
	return out, nil
}

// Position returns the stored position for a pair and side, for test
// assertions.
func (m *MockGateway) Position(pair string, side position.Side) (*position.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[posKey(pair, side)]
	if !ok {
		return nil, false
	}
	return clonePosition(pos), true
}

// TakeProfit returns the last take-profit price set for a position ID.
func (m *MockGateway) TakeProfit(positionID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.tpOrders[positionID]
	return price, ok
}

func posKey(pair string, side position.Side) string {
	return pair + "|" + string(side)
}

func clonePosition(pos *position.Position) *position.Position {
	cp := *pos
	return &cp
}

var _ Gateway = (*MockGateway)(nil)
