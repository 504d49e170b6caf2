package orders

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"futures-hedge-bot/internal/position"
)

// Tag holds the components extracted from a structured client order ID.
type Tag struct {
	Role       position.Role // role the order belongs to, hedge roles included
	Type       OrderType     // E, T or X
	Date       time.Time     // zero for fallback IDs
	DateStr    string        // "25AUG", or "FALLBACK"
	Sequence   int           // 0 for fallback IDs
	Base       string        // ID without the type suffix
	Raw        string        // the original input
	IsFallback bool
}

var (
	// Normal format: ROLE-DDMMM-NNNNN-TYPE, e.g. "ANC-25AUG-00001-E".
	normalIDRegex = regexp.MustCompile(`^([A-Z]{3})-(\d{2}[A-Z]{3})-(\d{5,})-([ETX])$`)

	// Fallback format: ROLE-FALLBACK-8HEX-TYPE, e.g. "ANC-FALLBACK-a3f7c2e9-E".
	// Input is upper-cased before matching, so hex digits become A-F.
	fallbackIDRegex = regexp.MustCompile(`^([A-Z]{3})-FALLBACK-([A-F0-9]{8})-([ETX])$`)

	// Base forms without a type suffix, accepted by ExtractBase.
	normalBaseRegex   = regexp.MustCompile(`^([A-Z]{3})-(\d{2}[A-Z]{3})-(\d{5,})$`)
	fallbackBaseRegex = regexp.MustCompile(`^([A-Z]{3})-FALLBACK-([A-F0-9]{8})$`)

	monthMap = map[string]time.Month{
		"JAN": time.January,
		"FEB": time.February,
		"MAR": time.March,
		"APR": time.April,
		"MAY": time.May,
		"JUN": time.June,
		"JUL": time.July,
		"AUG": time.August,
		"SEP": time.September,
		"OCT": time.October,
		"NOV": time.November,
		"DEC": time.December,
	}
)

// Parse extracts the role, type and chain identity from a structured
// client order ID. IDs in a foreign format, including the venue's own
// auto-generated ones, return an error.
func Parse(id string) (Tag, error) {
	if id == "" {
		return Tag{}, ErrInvalidID
	}

	normalized := strings.ToUpper(id)

	if m := fallbackIDRegex.FindStringSubmatch(normalized); m != nil {
		return parseFallbackID(id, m)
	}
	if m := normalIDRegex.FindStringSubmatch(normalized); m != nil {
		return parseNormalID(id, m)
	}
	return Tag{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
}

func parseFallbackID(raw string, m []string) (Tag, error) {
	role, ok := codeRole[m[1]]
	if !ok {
		return Tag{}, fmt.Errorf("%w: unknown role code %q", ErrInvalidID, m[1])
	}
	t, ok := validOrderTypes[m[3]]
	if !ok {
		return Tag{}, fmt.Errorf("%w: unknown type suffix %q", ErrInvalidID, m[3])
	}
	return Tag{
		Role:       role,
		Type:       t,
		DateStr:    FallbackMarker,
		Base:       m[1] + "-" + FallbackMarker + "-" + strings.ToLower(m[2]),
		Raw:        raw,
		IsFallback: true,
	}, nil
}

func parseNormalID(raw string, m []string) (Tag, error) {
	role, ok := codeRole[m[1]]
	if !ok {
		return Tag{}, fmt.Errorf("%w: unknown role code %q", ErrInvalidID, m[1])
	}
	t, ok := validOrderTypes[m[4]]
	if !ok {
		return Tag{}, fmt.Errorf("%w: unknown type suffix %q", ErrInvalidID, m[4])
	}
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return Tag{}, fmt.Errorf("%w: bad sequence %q", ErrInvalidID, m[3])
	}
	date := parseDateCode(m[2])
	if date.IsZero() {
		return Tag{}, fmt.Errorf("%w: bad date %q", ErrInvalidID, m[2])
	}
	return Tag{
		Role:     role,
		Type:     t,
		Date:     date,
		DateStr:  m[2],
		Sequence: seq,
		Base:     m[1] + "-" + m[2] + "-" + m[3],
		Raw:      raw,
	}, nil
}

// parseDateCode turns a DDMMM segment into a date in the current UTC
// year. Returns the zero time when the segment is not a real date.
func parseDateCode(s string) time.Time {
	if len(s) != 5 {
		return time.Time{}
	}
	day, err := strconv.Atoi(s[:2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}
	}
	month, ok := monthMap[s[2:]]
	if !ok {
		return time.Time{}
	}
	return time.Date(time.Now().UTC().Year(), month, day, 0, 0, 0, 0, time.UTC)
}

// isBaseID reports whether id is a bare base ID without a type suffix.
func isBaseID(id string) bool {
	normalized := strings.ToUpper(id)
	if m := normalBaseRegex.FindStringSubmatch(normalized); m != nil {
		_, ok := codeRole[m[1]]
		return ok
	}
	if m := fallbackBaseRegex.FindStringSubmatch(normalized); m != nil {
		_, ok := codeRole[m[1]]
		return ok
	}
	return false
}

// SameChain reports whether two IDs belong to the same position, that
// is, share a base ID.
func SameChain(a, b string) bool {
	baseA, errA := ExtractBase(a)
	baseB, errB := ExtractBase(b)
	if errA != nil || errB != nil {
		return false
	}
	return baseA == baseB
}
