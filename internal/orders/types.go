// Package orders provides structured client order ID generation and a
// trade journal for the futures gateway. Every order placed by the bot
// carries a role-tagged ID so positions keep their identity across
// restarts even when the local snapshot is gone.
package orders

import "futures-hedge-bot/internal/position"

// roleCode maps each position role to the 3-character code embedded in
// client order IDs. Hedge roles get their own codes so a hedge position
// recovered from its open take-profit order is never mistaken for a
// primary.
var roleCode = map[position.Role]string{
	position.RoleAnchor:           "ANC",
	position.RoleAnchorHedge:      "ANH",
	position.RoleOpportunity:      "OPP",
	position.RoleOpportunityHedge: "OPH",
	position.RoleScalp:            "SCA",
	position.RoleScalpHedge:       "SCH",
	position.RoleHighFreq:         "HFQ",
	position.RoleHighFreqHedge:    "HFH",
}

// codeRole is the reverse of roleCode, built once at init.
var codeRole = func() map[string]position.Role {
	m := make(map[string]position.Role, len(roleCode))
	for role, code := range roleCode {
		m[code] = role
	}
	return m
}()

// RoleCode returns the ID code for a role, or "ANC" when the role is
// unknown so that generation never produces an untaggable order.
func RoleCode(role position.Role) string {
	if code, ok := roleCode[role]; ok {
		return code
	}
	return "ANC"
}

// OrderType marks the purpose of an order within a position's life.
type OrderType string

const (
	// TypeEntry opens a position, primary or hedge alike.
	TypeEntry OrderType = "E"

	// TypeTakeProfit is the reduce-only stop placed after entry.
	TypeTakeProfit OrderType = "T"

	// TypeExit closes a position with a market order.
	TypeExit OrderType = "X"
)

// validOrderTypes maps type suffixes back to OrderType constants.
var validOrderTypes = map[string]OrderType{
	"E": TypeEntry,
	"T": TypeTakeProfit,
	"X": TypeExit,
}

// AllOrderTypes returns every valid order type.
func AllOrderTypes() []OrderType {
	return []OrderType{TypeEntry, TypeTakeProfit, TypeExit}
}
