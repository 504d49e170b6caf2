package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/position"
)

// Client talks to the analysis service over HTTP. Requests are a single
// POST per entry; the service answers with levels and a confidence
// score.
type Client struct {
	cfg        config.AnalysisConfig
	httpClient *http.Client
}

// NewClient builds the HTTP provider from config.
func NewClient(cfg config.AnalysisConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether the client has a service to talk to.
func (c *Client) IsConfigured() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != ""
}

type levelsRequest struct {
	Pair       string  `json:"pair"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Model      string  `json:"model,omitempty"`
}

type levelsResponse struct {
	Levels struct {
		Entry      float64 `json:"entry,omitempty"`
		TakeProfit float64 `json:"take_profit"`
		StopLoss   float64 `json:"stop_loss,omitempty"`
	} `json:"levels"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
	Error      *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Advise requests comprehensive levels for one entry.
func (c *Client) Advise(ctx context.Context, req Request) (*Advice, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("analysis client not configured")
	}

	body, err := json.Marshal(levelsRequest{
		Pair:       req.Pair,
		Side:       string(req.Side),
		EntryPrice: req.EntryPrice,
		Model:      c.cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/levels"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var lr levelsResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if lr.Error != nil {
		return nil, fmt.Errorf("analysis error: %s %s", lr.Error.Code, lr.Error.Message)
	}
	if lr.Levels.TakeProfit <= 0 {
		return nil, fmt.Errorf("analysis response carries no take-profit level")
	}

	return &Advice{
		Pair: req.Pair,
		Side: req.Side,
		Levels: position.PriceLevels{
			Entry:      lr.Levels.Entry,
			TakeProfit: lr.Levels.TakeProfit,
			StopLoss:   lr.Levels.StopLoss,
		},
		Confidence:  lr.Confidence,
		Source:      lr.Source,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
