package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"futures-hedge-bot/internal/auth"
	"futures-hedge-bot/internal/engine"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/position"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	payload := gin.H{
		"status":         "healthy",
		"uptime_secs":    int64(time.Since(s.startedAt).Seconds()),
		"engine_running": s.deps.Engine.Running(),
	}

	if s.deps.History != nil {
		if s.deps.History.Healthy(ctx) {
			payload["database"] = "healthy"
		} else {
			payload["status"] = "degraded"
			payload["database"] = "unhealthy"
		}
	}

	c.JSON(http.StatusOK, payload)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.deps.Auth == nil {
		errorResponse(c, http.StatusServiceUnavailable, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := s.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		authErr, ok := err.(auth.AuthError)
		if !ok {
			authErr = auth.ErrInvalidCredentials
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}

	c.JSON(http.StatusOK, token)
}

func (s *Server) handleStatus(c *gin.Context) {
	payload := gin.H{
		"running":    s.deps.Engine.Running(),
		"pairs":      s.deps.Engine.Pairs(),
		"aggregates": s.deps.Engine.Aggregates(),
		"allocator":  s.deps.Allocator.Status(),
	}
	if s.deps.Breaker != nil {
		payload["circuit_breaker"] = s.deps.Breaker.Stats()
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handlePositions(c *gin.Context) {
	filter := strings.ToUpper(strings.TrimSpace(c.Query("pair")))

	out := make([]*position.Position, 0)
	for _, pair := range s.deps.Engine.Pairs() {
		if filter != "" && pair != filter {
			continue
		}
		lc, ok := s.deps.Engine.Lifecycle(pair)
		if !ok {
			continue
		}
		out = append(out, lc.Positions()...)
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(out),
		"positions": out,
	})
}

// pairHedgeStatus is the per-pair block of the hedge status response.
type pairHedgeStatus struct {
	Pair          string                     `json:"pair"`
	Monitor       engine.MonitorStats        `json:"monitor"`
	Verifications []engine.HedgeVerification `json:"verifications"`
}

func (s *Server) handleHedgeStatus(c *gin.Context) {
	out := make([]pairHedgeStatus, 0, len(s.deps.Engine.Pairs()))
	for _, pair := range s.deps.Engine.Pairs() {
		m, ok := s.deps.Engine.Monitor(pair)
		if !ok {
			continue
		}
		out = append(out, pairHedgeStatus{
			Pair:          pair,
			Monitor:       m.Stats(),
			Verifications: m.VerifyHedges(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pairs": out})
}

func (s *Server) handleAllocator(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     s.deps.Allocator.Status(),
		"validation": s.deps.Allocator.ValidateConfiguration(s.deps.Engine.Pairs()),
	})
}

func (s *Server) handleAttempts(c *gin.Context) {
	out := make([]engine.HedgeAttempt, 0)
	for _, pair := range s.deps.Engine.Pairs() {
		lc, ok := s.deps.Engine.Lifecycle(pair)
		if !ok {
			continue
		}
		out = append(out, lc.PendingAttempts()...)
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(out),
		"attempts": out,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.deps.History == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade history is disabled")
		return
	}

	pair := strings.ToUpper(strings.TrimSpace(c.Query("pair")))
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	trades, err := s.deps.History.RecentTrades(c.Request.Context(), pair, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load trades")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) handleHedgeEvents(c *gin.Context) {
	if s.deps.History == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade history is disabled")
		return
	}

	primaryID := strings.TrimSpace(c.Query("primary_id"))
	if primaryID == "" {
		errorResponse(c, http.StatusBadRequest, "primary_id is required")
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.deps.History.HedgeEvents(c.Request.Context(), primaryID, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load hedge events")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleSubmitSignal(c *gin.Context) {
	var sig position.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid signal body")
		return
	}

	sig.Pair = strings.ToUpper(strings.TrimSpace(sig.Pair))
	if sig.Pair == "" {
		errorResponse(c, http.StatusBadRequest, "pair is required")
		return
	}
	switch sig.Type {
	case position.SignalEntry, position.SignalReEntry, position.SignalHedge, position.SignalExit:
	default:
		errorResponse(c, http.StatusBadRequest, "type must be one of ENTRY, RE_ENTRY, HEDGE, EXIT")
		return
	}
	if _, known := s.deps.Engine.Lifecycle(sig.Pair); !known {
		errorResponse(c, http.StatusBadRequest, "pair is not configured")
		return
	}
	if sig.Time.IsZero() {
		sig.Time = time.Now().UTC()
	}
	if sig.Reason == "" {
		sig.Reason = "operator submitted"
	}

	if !s.deps.Engine.Submit(sig) {
		errorResponse(c, http.StatusServiceUnavailable, "signal queue is full")
		return
	}

	logging.FromContext(c.Request.Context()).Info("signal submitted via API",
		"pair", sig.Pair,
		"type", string(sig.Type),
		"operator", c.GetString(auth.ContextKeyOperator))

	c.JSON(http.StatusAccepted, gin.H{
		"queued": true,
		"signal": sig,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	s.deps.Engine.RefreshNow(ctx)
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

type closeRequest struct {
	Pair   string `json:"pair" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id := c.Param("id")

	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "pair is required")
		return
	}

	pair := strings.ToUpper(strings.TrimSpace(req.Pair))
	lc, ok := s.deps.Engine.Lifecycle(pair)
	if !ok {
		errorResponse(c, http.StatusNotFound, "pair is not configured")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual close"
	}

	if err := lc.ClosePosition(c.Request.Context(), id, reason); err != nil {
		status := http.StatusBadGateway
		if strings.Contains(err.Error(), "no open position") {
			status = http.StatusNotFound
		}
		errorResponse(c, status, err.Error())
		return
	}

	logging.FromContext(c.Request.Context()).Info("position closed via API",
		"pair", pair,
		"position_id", id,
		"operator", c.GetString(auth.ContextKeyOperator))

	c.JSON(http.StatusOK, gin.H{"closed": true, "position_id": id})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusServiceUnavailable, "circuit breaker not configured")
		return
	}

	s.deps.Breaker.ForceReset()
	logging.FromContext(c.Request.Context()).Info("circuit breaker reset via API",
		"operator", c.GetString(auth.ContextKeyOperator))

	c.JSON(http.StatusOK, gin.H{"reset": true})
}
