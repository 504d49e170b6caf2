package orders

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"futures-hedge-bot/internal/position"
)

func journalLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("journal emitted invalid JSON %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestJournalRecordsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)

	primary := &position.Position{
		ID:            "anc-1",
		Pair:          "BTCUSDT",
		Side:          position.SideLong,
		Role:          position.RoleAnchor,
		Status:        position.StatusOpen,
		Size:          0.20,
		Leverage:      10,
		EntryPrice:    50000,
		Quantity:      0.04,
		Credential:    "primary",
		ClientOrderID: "ANC-25AUG-00001-E",
		OpenedAt:      time.Now().UTC(),
	}
	hedge := &position.Position{
		ID:            "anh-1",
		Pair:          "BTCUSDT",
		Side:          position.SideShort,
		Role:          position.RoleAnchorHedge,
		Status:        position.StatusOpen,
		Size:          0.30,
		Leverage:      20,
		EntryPrice:    49000,
		Credential:    "hedge",
		ClientOrderID: "ANH-25AUG-00002-E",
	}

	j.Opened(primary)
	j.HedgeOpened(primary, hedge, 0.0123, "LEVERAGE")
	j.TakeProfitSet(hedge, 45000)
	primary.Status = position.StatusClosed
	primary.ExitPrice = 51000
	primary.RealizedPnL = 0.2
	primary.ClosedAt = primary.OpenedAt.Add(2 * time.Hour)
	j.Closed(primary, "take_profit")

	lines := journalLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("expected 4 journal lines, got %d", len(lines))
	}

	if lines[0]["event"] != "position_opened" || lines[0]["pair"] != "BTCUSDT" {
		t.Errorf("first line = %v", lines[0])
	}
	if lines[1]["event"] != "hedge_opened" {
		t.Errorf("second line event = %v", lines[1]["event"])
	}
	if lines[1]["adjustment"] != "LEVERAGE" {
		t.Errorf("hedge adjustment = %v", lines[1]["adjustment"])
	}
	if lines[1]["primary_id"] != "anc-1" {
		t.Errorf("hedge primary_id = %v", lines[1]["primary_id"])
	}
	if lines[2]["event"] != "take_profit_set" {
		t.Errorf("third line event = %v", lines[2]["event"])
	}
	if got := lines[2]["client_order_id"]; got != "ANH-25AUG-00002-T" {
		t.Errorf("take-profit id = %v, want related T id", got)
	}
	if lines[3]["event"] != "position_closed" || lines[3]["reason"] != "take_profit" {
		t.Errorf("fourth line = %v", lines[3])
	}
}

func TestJournalNilSafety(t *testing.T) {
	var j *Journal
	j.Opened(nil)
	j.Closed(nil, "")
	j.HedgeRejected("BTCUSDT", "anc-1", 0)
	j.RetryScheduled("BTCUSDT", 1, time.Now(), "entry failed")
}
