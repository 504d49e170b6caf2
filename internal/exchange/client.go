package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/orders"
	"futures-hedge-bot/internal/position"
)

const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
	recvWindow     = "10000"
)

// Client is the signed REST gateway for one credential set.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	credential string
	httpClient *http.Client
	limiter    *Limiter
	log        *logging.Logger

	precOnce  sync.Once
	precMu    sync.RWMutex
	precision map[string]symbolPrecision
}

type symbolPrecision struct {
	quantity int
	price    int
}

// NewClient builds a Gateway bound to one API credential set. The
// credential tag ("primary" or "hedge") marks every position it returns.
func NewClient(apiKey, secretKey, baseURL, credential string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewLimiter(),
		log:        logging.WithComponent("gateway").WithField("credential", credential),
		precision:  map[string]symbolPrecision{},
	}
}

// CredentialTag implements Gateway.
func (c *Client) CredentialTag() string { return c.credential }

// Bootstrap switches the account into dual-side (hedge) position mode.
// The venue rejects the call when the mode is already set; that rejection
// is not an error.
func (c *Client) Bootstrap(ctx context.Context) error {
	params := map[string]string{"dualSidePosition": "true"}
	if _, err := c.signedPost(ctx, "/fapi/v1/positionSide/dual", params, PriorityHigh); err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.Code == -4059 { // no need to change position side
			return nil
		}
		if IsTransient(err) {
			return fmt.Errorf("setting position mode: %w", err)
		}
		c.log.Warn("position mode call rejected, assuming hedge mode already set", "error", err)
	}
	return nil
}

// ==================== GATEWAY READS ====================

// GetCurrentPrice implements Gateway using the public ticker.
func (c *Client) GetCurrentPrice(ctx context.Context, pair string) (float64, error) {
	body, err := c.publicGet(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": pair})
	if err != nil {
		return 0, fmt.Errorf("fetching price for %s: %w", pair, err)
	}
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("parsing price for %s: %w", pair, err)
	}
	price := parseF(ticker.Price)
	if price <= 0 {
		return 0, fmt.Errorf("venue returned non-positive price %q for %s", ticker.Price, pair)
	}
	return price, nil
}

// GetAccountBalance implements Gateway.
func (c *Client) GetAccountBalance(ctx context.Context) (Balance, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/account", map[string]string{}, PriorityHigh)
	if err != nil {
		return Balance{}, fmt.Errorf("fetching account: %w", err)
	}
	var acct struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return Balance{}, fmt.Errorf("parsing account: %w", err)
	}
	return Balance{
		Total:     parseF(acct.TotalWalletBalance),
		Available: parseF(acct.AvailableBalance),
	}, nil
}

type positionRiskRow struct {
	Symbol       string `json:"symbol"`
	PositionAmt  string `json:"positionAmt"`
	EntryPrice   string `json:"entryPrice"`
	MarkPrice    string `json:"markPrice"`
	Leverage     string `json:"leverage"`
	PositionSide string `json:"positionSide"` // LONG, SHORT, BOTH
}

// GetPositions implements Gateway: every position row the venue reports
// for the pair, flat rows included.
func (c *Client) GetPositions(ctx context.Context, pair string) ([]*position.Position, error) {
	return c.fetchPositions(ctx, pair, false)
}

// GetOpenPositions implements Gateway: only rows with live quantity.
func (c *Client) GetOpenPositions(ctx context.Context, pair string) ([]*position.Position, error) {
	return c.fetchPositions(ctx, pair, true)
}

func (c *Client) fetchPositions(ctx context.Context, pair string, openOnly bool) ([]*position.Position, error) {
	params := map[string]string{}
	if pair != "" {
		params["symbol"] = pair
	}
	body, err := c.signedGet(ctx, "/fapi/v2/positionRisk", params, PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	var rows []positionRiskRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing positions: %w", err)
	}

	balance, err := c.GetAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	roleByKey := c.openOrderRoles(ctx, pair)

	out := make([]*position.Position, 0, len(rows))
	for _, row := range rows {
		amt := parseF(row.PositionAmt)
		if openOnly && amt == 0 {
			continue
		}
		p := c.toPosition(row, amt, balance.Total)
		if role, ok := roleByKey[p.Pair+"|"+string(p.Side)]; ok {
			p.Role = role
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) toPosition(row positionRiskRow, amt, totalBalance float64) *position.Position {
	side := position.SideLong
	if row.PositionSide == "SHORT" || (row.PositionSide == "BOTH" && amt < 0) {
		side = position.SideShort
	}
	entry := parseF(row.EntryPrice)
	leverage := parseF(row.Leverage)
	qty := math.Abs(amt)

	size := 0.0
	if totalBalance > 0 && leverage > 0 {
		size = qty * entry / leverage / totalBalance
	}
	status := position.StatusOpen
	if qty == 0 {
		status = position.StatusClosed
	}
	return &position.Position{
		ID:         strings.ToLower(fmt.Sprintf("%s-%s-%s", row.Symbol, side, c.credential)),
		Pair:       row.Symbol,
		Side:       side,
		Status:     status,
		Size:       size,
		Quantity:   qty,
		Leverage:   leverage,
		EntryPrice: entry,
		Credential: c.credential,
	}
}

// openOrderRoles recovers roles from the client order IDs of open
// take-profit orders. Positions whose TP carries a role code keep their
// identity across restarts even without a snapshot.
func (c *Client) openOrderRoles(ctx context.Context, pair string) map[string]position.Role {
	params := map[string]string{}
	if pair != "" {
		params["symbol"] = pair
	}
	body, err := c.signedGet(ctx, "/fapi/v1/openOrders", params, PriorityLow)
	if err != nil {
		c.log.Warn("open order sweep failed, roles left for snapshot recovery", "error", err)
		return nil
	}
	var rows []struct {
		Symbol        string `json:"symbol"`
		ClientOrderID string `json:"clientOrderId"`
		PositionSide  string `json:"positionSide"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil
	}
	roles := make(map[string]position.Role, len(rows))
	for _, row := range rows {
		tag, err := orders.Parse(row.ClientOrderID)
		if err != nil {
			continue
		}
		side := position.SideLong
		if row.PositionSide == "SHORT" {
			side = position.SideShort
		}
		roles[row.Symbol+"|"+string(side)] = tag.Role
	}
	return roles
}

// ==================== GATEWAY WRITES ====================

// OpenPosition implements Gateway. Leverage is set first, then a market
// order sized from the current balance and price.
func (c *Client) OpenPosition(ctx context.Context, req OpenRequest) (*position.Position, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	lev := int(math.Round(req.Leverage))
	if lev < 1 {
		lev = 1
	}
	if _, err := c.signedPost(ctx, "/fapi/v1/leverage", map[string]string{
		"symbol":   req.Pair,
		"leverage": strconv.Itoa(lev),
	}, PriorityCritical); err != nil {
		return nil, fmt.Errorf("setting leverage for %s: %w", req.Pair, err)
	}

	balance, err := c.GetAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	price := req.SignalPrice
	if current, err := c.GetCurrentPrice(ctx, req.Pair); err == nil {
		price = current
	}
	if price <= 0 {
		return nil, fmt.Errorf("no usable price for %s", req.Pair)
	}

	qty := c.roundQuantity(ctx, req.Pair, balance.Total*req.Size*float64(lev)/price)
	if qty <= 0 {
		return nil, fmt.Errorf("computed quantity rounds to zero for %s (size %.4f)", req.Pair, req.Size)
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = "fb-" + uuid.NewString()[:18]
	}

	params := map[string]string{
		"symbol":           req.Pair,
		"side":             orderSide(req.Side, false),
		"positionSide":     string(req.Side),
		"type":             "MARKET",
		"quantity":         strconv.FormatFloat(qty, 'f', -1, 64),
		"newClientOrderId": clientOrderID,
		"newOrderRespType": "RESULT",
	}
	body, err := c.signedPost(ctx, "/fapi/v1/order", params, PriorityCritical)
	if err != nil {
		return nil, fmt.Errorf("placing %s %s order: %w", req.Pair, req.Side, err)
	}

	var resp struct {
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}
	entry := parseF(resp.AvgPrice)
	if entry <= 0 {
		entry = price
	}
	filled := parseF(resp.ExecutedQty)
	if filled <= 0 {
		filled = qty
	}

	return &position.Position{
		ID:            clientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Role:          req.Role,
		Status:        position.StatusOpen,
		Size:          req.Size,
		Quantity:      filled,
		Leverage:      float64(lev),
		EntryPrice:    entry,
		SignalPrice:   req.SignalPrice,
		ClientOrderID: clientOrderID,
		Credential:    c.credential,
		OpenedAt:      time.Now().UTC(),
	}, nil
}

// ClosePosition implements Gateway with a reducing market order for the
// full remaining quantity.
func (c *Client) ClosePosition(ctx context.Context, pos *position.Position) error {
	if pos.Quantity <= 0 {
		return fmt.Errorf("position %s has no venue quantity to close", pos.ID)
	}
	params := map[string]string{
		"symbol":       pos.Pair,
		"side":         orderSide(pos.Side, true),
		"positionSide": string(pos.Side),
		"type":         "MARKET",
		"quantity":     strconv.FormatFloat(pos.Quantity, 'f', -1, 64),
	}
	if pos.ClientOrderID != "" {
		params["newClientOrderId"] = orders.Related(pos.ClientOrderID, orders.TypeExit)
	}
	if _, err := c.signedPost(ctx, "/fapi/v1/order", params, PriorityCritical); err != nil {
		return fmt.Errorf("closing %s %s: %w", pos.Pair, pos.Side, err)
	}
	return nil
}

// SetTakeProfitOrder implements Gateway. An earlier TP for the same
// position is cancelled first; the venue's "unknown order" rejection on
// that cancel is expected on first placement.
func (c *Client) SetTakeProfitOrder(ctx context.Context, pos *position.Position, price float64) error {
	if price <= 0 {
		return fmt.Errorf("take-profit price must be positive, got %v", price)
	}
	tpID := orders.Related(pos.ClientOrderID, orders.TypeTakeProfit)
	if pos.ClientOrderID != "" {
		if _, err := c.signedDelete(ctx, "/fapi/v1/order", map[string]string{
			"symbol":            pos.Pair,
			"origClientOrderId": tpID,
		}); err != nil {
			var apiErr *APIError
			if !asAPIError(err, &apiErr) || apiErr.Code != -2011 { // unknown order
				c.log.Warn("cancelling previous take-profit failed", "pair", pos.Pair, "error", err)
			}
		}
	}

	params := map[string]string{
		"symbol":        pos.Pair,
		"side":          orderSide(pos.Side, true),
		"positionSide":  string(pos.Side),
		"type":          "TAKE_PROFIT_MARKET",
		"stopPrice":     strconv.FormatFloat(c.roundPrice(ctx, pos.Pair, price), 'f', -1, 64),
		"closePosition": "true",
		"workingType":   "MARK_PRICE",
	}
	if pos.ClientOrderID != "" {
		params["newClientOrderId"] = tpID
	}
	if _, err := c.signedPost(ctx, "/fapi/v1/order", params, PriorityCritical); err != nil {
		return fmt.Errorf("placing take-profit for %s at %.8g: %w", pos.Pair, price, err)
	}
	return nil
}

func orderSide(s position.Side, closing bool) string {
	long := s == position.SideLong
	if closing {
		long = !long
	}
	if long {
		return "BUY"
	}
	return "SELL"
}

// ==================== PRECISION ====================

func (c *Client) loadPrecision(ctx context.Context) {
	body, err := c.publicGet(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		c.log.Warn("exchange info unavailable, using default precision", "error", err)
		return
	}
	var info struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
			PricePrecision    int    `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return
	}
	c.precMu.Lock()
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = symbolPrecision{quantity: s.QuantityPrecision, price: s.PricePrecision}
	}
	c.precMu.Unlock()
}

func (c *Client) symbolPrecision(ctx context.Context, pair string) symbolPrecision {
	c.precOnce.Do(func() { c.loadPrecision(ctx) })
	c.precMu.RLock()
	defer c.precMu.RUnlock()
	if p, ok := c.precision[pair]; ok {
		return p
	}
	return symbolPrecision{quantity: 3, price: 2}
}

func (c *Client) roundQuantity(ctx context.Context, pair string, qty float64) float64 {
	p := c.symbolPrecision(ctx, pair)
	factor := math.Pow10(p.quantity)
	return math.Floor(qty*factor) / factor
}

func (c *Client) roundPrice(ctx context.Context, pair string, price float64) float64 {
	p := c.symbolPrecision(ctx, pair)
	factor := math.Pow10(p.price)
	return math.Round(price*factor) / factor
}

// ==================== TRANSPORT ====================

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func buildQuery(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

func (c *Client) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, false, PriorityNormal)
}

func (c *Client) signedGet(ctx context.Context, endpoint string, params map[string]string, prio Priority) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, true, prio)
}

func (c *Client) signedPost(ctx context.Context, endpoint string, params map[string]string, prio Priority) ([]byte, error) {
	return c.do(ctx, http.MethodPost, endpoint, params, true, prio)
}

func (c *Client) signedDelete(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, endpoint, params, true, PriorityCritical)
}

func (c *Client) do(ctx context.Context, method, endpoint string, params map[string]string, signed bool, prio Priority) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.limiter.Acquire(endpoint, prio, 30*time.Second) {
			return nil, ErrCircuitOpen
		}

		reqParams := make(map[string]string, len(params)+2)
		for k, v := range params {
			reqParams[k] = v
		}
		if signed {
			// Fresh timestamp per attempt keeps retries inside the recv window.
			reqParams["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
			reqParams["recvWindow"] = recvWindow
		}
		query := buildQuery(reqParams)
		if signed {
			query += "&signature=" + c.sign(query)
		}
		reqURL := c.baseURL + endpoint
		if query != "" {
			reqURL += "?" + query
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				c.sleepBeforeRetry(ctx, endpoint, attempt, err)
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if used := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); used != "" {
			if w, err := strconv.Atoi(used); err == nil {
				c.limiter.ObserveUsedWeight(w)
			}
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := parseAPIError(resp.StatusCode, body)
			lastErr = apiErr
			if apiErr.Status == 429 || apiErr.Status == 418 || apiErr.Code == codeTooManyRequests {
				c.limiter.RecordBan(parseBanUntil(apiErr.Message))
			}
			if IsTransient(apiErr) && attempt < maxRetries {
				c.sleepBeforeRetry(ctx, endpoint, attempt, apiErr)
				continue
			}
			return nil, lastErr
		}
		return body, nil
	}
	return nil, lastErr
}

func (c *Client) sleepBeforeRetry(ctx context.Context, endpoint string, attempt int, cause error) {
	delay := retryDelay(attempt)
	c.log.Warn("request failed, retrying",
		"endpoint", endpoint,
		"attempt", attempt+1,
		"delay", delay.String(),
		"error", cause)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// retryDelay is exponential with a cap and ±25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - delay/4
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != 0 {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Msg
	}
	return apiErr
}

// parseBanUntil extracts the "banned until <ms>" timestamp the venue
// embeds in rate-limit messages. Zero when absent or implausible.
func parseBanUntil(msg string) int64 {
	start := strings.IndexAny(msg, "0123456789")
	if start < 0 {
		return 0
	}
	end := start
	for end < len(msg) && msg[end] >= '0' && msg[end] <= '9' {
		end++
	}
	until, err := strconv.ParseInt(msg[start:end], 10, 64)
	if err != nil {
		return 0
	}
	now := time.Now().UnixMilli()
	if until > now && until < now+24*time.Hour.Milliseconds() {
		return until
	}
	return 0
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
