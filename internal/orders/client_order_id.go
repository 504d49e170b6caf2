package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/position"
)

const (
	// MaxClientOrderIDLength is the maximum length Binance accepts.
	MaxClientOrderIDLength = 36

	// FallbackMarker identifies IDs generated without a sequence source.
	FallbackMarker = "FALLBACK"
)

// Errors for client order ID operations.
var (
	ErrIDTooLong    = errors.New("client order ID exceeds maximum length of 36 characters")
	ErrInvalidID    = errors.New("invalid client order ID format")
	ErrUnknownRole  = errors.New("unknown position role")
	ErrUnknownType  = errors.New("unknown order type")
	ErrEmptyCredTag = errors.New("credential tag cannot be empty")
)

// SequenceSource hands out monotonically increasing per-day sequence
// numbers scoped to a credential. The Redis-backed cache implements it;
// the generator falls back to random IDs when the source is down.
type SequenceSource interface {
	NextDailySequence(ctx context.Context, credential, dateKey string) (int64, error)
}

// Generator builds structured client order IDs.
//
// Normal format:   ROLE-DDMMM-NNNNN-TYPE  ("ANC-25AUG-00001-E")
// Fallback format: ROLE-FALLBACK-8HEX-TYPE ("ANC-FALLBACK-a3f7c2e9-E")
//
// Dates use UTC so the daily sequence resets together with the journal.
type Generator struct {
	seq        SequenceSource
	credential string
	log        *logging.Logger
}

// NewGenerator creates a Generator for one credential. seq may be nil,
// in which case every ID is a fallback ID.
func NewGenerator(seq SequenceSource, credential string) (*Generator, error) {
	if credential == "" {
		return nil, ErrEmptyCredTag
	}
	return &Generator{
		seq:        seq,
		credential: credential,
		log:        logging.Default().WithComponent("orders"),
	}, nil
}

// Generate creates a new client order ID for the given role and type.
// A failing or absent sequence source degrades to fallback IDs rather
// than blocking order placement.
func (g *Generator) Generate(ctx context.Context, role position.Role, t OrderType) (string, error) {
	code, ok := roleCode[role]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if _, ok := validOrderTypes[string(t)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	now := time.Now().UTC()
	if g.seq != nil {
		dateKey := now.Format("20060102")
		seq, err := g.seq.NextDailySequence(ctx, g.credential, dateKey)
		if err == nil {
			id := fmt.Sprintf("%s-%s-%05d-%s", code, dateCode(now), seq, t)
			if len(id) > MaxClientOrderIDLength {
				return "", fmt.Errorf("%w: %q is %d characters", ErrIDTooLong, id, len(id))
			}
			return id, nil
		}
		g.log.Warn("sequence source unavailable, using fallback order ID", "error", err)
	}

	return g.generateFallback(code, t), nil
}

// generateFallback builds an ID from 8 random hex characters.
func (g *Generator) generateFallback(code string, t OrderType) string {
	return fmt.Sprintf("%s-%s-%s-%s", code, FallbackMarker, shortUniqueID(), t)
}

// Related derives the ID for an order that belongs to the same position
// as id. The type suffix of a full ID is replaced; a bare base ID gets
// the suffix appended. IDs in a foreign format are reused as the base
// and trimmed to the venue limit, so exits and take-profits stay
// traceable to their entry even for adopted positions.
func Related(id string, t OrderType) string {
	if id == "" {
		return ""
	}
	base := id
	if extracted, err := ExtractBase(id); err == nil {
		base = extracted
	}
	related := base + "-" + string(t)
	if len(related) > MaxClientOrderIDLength {
		keep := MaxClientOrderIDLength - len(t) - 1
		related = base[:keep] + "-" + string(t)
	}
	return related
}

// ExtractBase returns the ID without its type suffix.
// "ANC-25AUG-00001-T" becomes "ANC-25AUG-00001"; an ID that already is
// a base is returned unchanged.
func ExtractBase(id string) (string, error) {
	if tag, err := Parse(id); err == nil {
		return tag.Base, nil
	}
	if isBaseID(id) {
		return id, nil
	}
	return "", fmt.Errorf("%w: cannot extract base from %q", ErrInvalidID, id)
}

// Validate checks that an ID meets the venue requirements and carries a
// known role code.
func Validate(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(id) > MaxClientOrderIDLength {
		return fmt.Errorf("%w: %q is %d characters", ErrIDTooLong, id, len(id))
	}
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return fmt.Errorf("%w: expected at least 3 dash-separated parts", ErrInvalidID)
	}
	if _, ok := codeRole[parts[0]]; !ok {
		return fmt.Errorf("%w: unknown role code %q", ErrInvalidID, parts[0])
	}
	return nil
}

// IsFallbackID reports whether the ID was generated without a sequence
// source.
func IsFallbackID(id string) bool {
	return strings.Contains(id, "-"+FallbackMarker+"-")
}

// dateCode formats a time as the DDMMM segment, for example "25AUG".
func dateCode(t time.Time) string {
	return strings.ToUpper(t.Format("02Jan"))
}

// shortUniqueID generates 8 hex characters from crypto/rand, degrading
// to the wall clock if the random source fails.
func shortUniqueID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}
