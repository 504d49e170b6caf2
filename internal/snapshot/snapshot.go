// Package snapshot persists a reduced view of open positions per
// credential. The reconciler writes through the Store interface after
// every authoritative fetch; on startup the engine reads the last
// snapshot back to restore roles and lifecycle state. Writes are
// last-writer-wins per credential.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/position"
)

// Entry is the persisted view of one position.
type Entry struct {
	ID            string  `json:"id"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	Leverage      float64 `json:"leverage"`
	EntryPrice    float64 `json:"entry_price"`
	Role          string  `json:"role"`
	Status        string  `json:"status"`
	Credential    string  `json:"credential"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// Document is everything written for one credential in one pass.
type Document struct {
	Credential string    `json:"credential"`
	Positions  []Entry   `json:"positions"`
	WrittenAt  time.Time `json:"written_at"`
}

// Store persists snapshot documents keyed by credential. Read tolerates
// a store that has never been written and returns an empty map.
type Store interface {
	Write(ctx context.Context, credential string, entries []Entry) error
	Read(ctx context.Context) (map[string]Document, error)
}

// FromPosition converts a live position to its persisted view.
func FromPosition(p *position.Position) Entry {
	return Entry{
		ID:            p.ID,
		Pair:          p.Pair,
		Side:          string(p.Side),
		Size:          p.Size,
		Leverage:      p.Leverage,
		EntryPrice:    p.EntryPrice,
		Role:          string(p.Role),
		Status:        string(p.Status),
		Credential:    p.Credential,
		ClientOrderID: p.ClientOrderID,
	}
}

// FromPositions converts a slice of live positions.
func FromPositions(ps []*position.Position) []Entry {
	entries := make([]Entry, 0, len(ps))
	for _, p := range ps {
		entries = append(entries, FromPosition(p))
	}
	return entries
}

// ToPosition rebuilds a position from its persisted view. Open time and
// signal context are not persisted; callers reconcile those against the
// venue after restore.
func (e Entry) ToPosition() *position.Position {
	return &position.Position{
		ID:            e.ID,
		Pair:          e.Pair,
		Side:          position.Side(e.Side),
		Role:          position.Role(e.Role),
		Status:        position.Status(e.Status),
		Size:          e.Size,
		Leverage:      e.Leverage,
		EntryPrice:    e.EntryPrice,
		Credential:    e.Credential,
		ClientOrderID: e.ClientOrderID,
	}
}

// New builds the configured store backend. The Redis backend requires a
// connected client; anything else falls back to the file store.
func New(cfg config.SnapshotConfig, rdb *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("snapshot backend %q requires a redis client", cfg.Backend)
		}
		return NewRedisStore(rdb), nil
	case "", "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("snapshot file backend requires a file path")
		}
		return NewFileStore(cfg.FilePath), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
