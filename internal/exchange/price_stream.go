package exchange

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"futures-hedge-bot/internal/logging"
)

const (
	// priceStaleAfter bounds how old a streamed quote may be before
	// readers fall back to REST.
	priceStaleAfter = 10 * time.Second

	reconnectDelay   = 3 * time.Second
	dialRetryDelay   = 5 * time.Second
	readLimitBytes   = 1 << 20
	pongWaitInterval = 90 * time.Second
)

// PriceStream keeps the latest mark price for a set of pairs from the
// combined markPrice WebSocket stream. Quotes go stale rather than
// erroring: readers get (0, false) and are expected to fall back to the
// REST ticker.
type PriceStream struct {
	mu         sync.RWMutex
	baseURL    string
	pairs      []string
	conn       *websocket.Conn
	running    bool
	stopChan   chan struct{}
	prices     map[string]streamPrice
	reconnects int
	lastUpdate time.Time
	log        *logging.Logger
}

type streamPrice struct {
	value float64
	at    time.Time
}

// NewPriceStream creates a stream client for the given pairs. baseURL
// is the venue stream endpoint, for example "wss://fstream.binance.com".
func NewPriceStream(baseURL string, pairs []string) *PriceStream {
	return &PriceStream{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pairs:    pairs,
		stopChan: make(chan struct{}),
		prices:   make(map[string]streamPrice),
		log:      logging.Default().WithComponent("price-stream"),
	}
}

// Start opens the connection and begins caching quotes. Safe to call
// once; a second call while running is a no-op.
func (s *PriceStream) Start() {
	s.mu.Lock()
	if s.running || len(s.pairs) == 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectLoop()
	s.log.Info("price stream started", "pairs", strings.Join(s.pairs, ","))
}

// Stop closes the connection and halts reconnects.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.log.Info("price stream stopped")
}

// Price returns the cached mark price for a pair. ok is false when the
// pair has never streamed or the quote is older than the staleness
// bound.
func (s *PriceStream) Price(pair string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.prices[strings.ToUpper(pair)]
	if !ok || time.Since(quote.at) > priceStaleAfter {
		return 0, false
	}
	return quote.value, true
}

// Stats reports stream health for the ops API.
func (s *PriceStream) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"running":     s.running,
		"reconnects":  s.reconnects,
		"pairs":       len(s.pairs),
		"cached":      len(s.prices),
		"last_update": s.lastUpdate.Format(time.RFC3339),
	}
}

// streamURL builds the combined-stream URL:
// wss://host/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s
func (s *PriceStream) streamURL() string {
	names := make([]string, 0, len(s.pairs))
	for _, pair := range s.pairs {
		names = append(names, strings.ToLower(pair)+"@markPrice@1s")
	}
	return s.baseURL + "/stream?streams=" + strings.Join(names, "/")
}

func (s *PriceStream) connectLoop() {
	url := s.streamURL()
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			s.log.Warn("price stream dial failed", "error", err)
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			select {
			case <-s.stopChan:
				return
			case <-time.After(dialRetryDelay):
			}
			continue
		}

		conn.SetReadLimit(readLimitBytes)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.log.Info("price stream connected")

		s.readLoop(conn)

		s.mu.RLock()
		running := s.running
		s.mu.RUnlock()
		if !running {
			return
		}
		s.log.Warn("price stream disconnected, reconnecting")
		select {
		case <-s.stopChan:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *PriceStream) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWaitInterval))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("price stream read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWaitInterval))
		s.handleMessage(message)
	}
}

func (s *PriceStream) handleMessage(message []byte) {
	var frame struct {
		Stream string `json:"stream"`
		Data   struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			MarkPrice string `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		s.log.Debug("price stream frame rejected", "error", err)
		return
	}
	if frame.Data.EventType != "markPriceUpdate" || frame.Data.Symbol == "" {
		return
	}
	price := parseF(frame.Data.MarkPrice)
	if price <= 0 {
		return
	}

	s.mu.Lock()
	s.prices[frame.Data.Symbol] = streamPrice{value: price, at: time.Now()}
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}
