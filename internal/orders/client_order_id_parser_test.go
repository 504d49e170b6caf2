package orders

import (
	"testing"
	"time"

	"futures-hedge-bot/internal/position"
)

func TestParseNormalIDs(t *testing.T) {
	tests := []struct {
		id       string
		wantRole position.Role
		wantType OrderType
		wantSeq  int
		wantBase string
	}{
		{"ANC-25AUG-00001-E", position.RoleAnchor, TypeEntry, 1, "ANC-25AUG-00001"},
		{"ANH-25AUG-00002-T", position.RoleAnchorHedge, TypeTakeProfit, 2, "ANH-25AUG-00002"},
		{"OPP-01JAN-00042-X", position.RoleOpportunity, TypeExit, 42, "OPP-01JAN-00042"},
		{"OPH-31DEC-99999-E", position.RoleOpportunityHedge, TypeEntry, 99999, "OPH-31DEC-99999"},
		{"SCA-15FEB-00007-T", position.RoleScalp, TypeTakeProfit, 7, "SCA-15FEB-00007"},
		{"SCH-15FEB-00008-E", position.RoleScalpHedge, TypeEntry, 8, "SCH-15FEB-00008"},
		{"HFQ-09SEP-00100-X", position.RoleHighFreq, TypeExit, 100, "HFQ-09SEP-00100"},
		{"HFH-09SEP-00101-E", position.RoleHighFreqHedge, TypeEntry, 101, "HFH-09SEP-00101"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tag, err := Parse(tt.id)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if tag.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", tag.Role, tt.wantRole)
			}
			if tag.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tag.Type, tt.wantType)
			}
			if tag.Sequence != tt.wantSeq {
				t.Errorf("Sequence = %d, want %d", tag.Sequence, tt.wantSeq)
			}
			if tag.Base != tt.wantBase {
				t.Errorf("Base = %q, want %q", tag.Base, tt.wantBase)
			}
			if tag.IsFallback {
				t.Error("normal ID marked as fallback")
			}
			if tag.Date.IsZero() {
				t.Error("normal ID has zero date")
			}
		})
	}
}

func TestParseFallbackID(t *testing.T) {
	tag, err := Parse("SCH-FALLBACK-a3f7c2e9-E")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tag.Role != position.RoleScalpHedge {
		t.Errorf("Role = %q, want SCALP_HEDGE", tag.Role)
	}
	if tag.Type != TypeEntry {
		t.Errorf("Type = %q, want E", tag.Type)
	}
	if !tag.IsFallback {
		t.Error("fallback ID not marked as fallback")
	}
	if tag.Base != "SCH-FALLBACK-a3f7c2e9" {
		t.Errorf("Base = %q", tag.Base)
	}
	if !tag.Date.IsZero() {
		t.Error("fallback ID should have zero date")
	}
	if tag.Sequence != 0 {
		t.Errorf("fallback Sequence = %d, want 0", tag.Sequence)
	}
}

func TestParseDateCode(t *testing.T) {
	tag, err := Parse("ANC-25AUG-00001-E")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tag.Date.Day() != 25 || tag.Date.Month() != time.August {
		t.Errorf("Date = %v, want 25 August", tag.Date)
	}
	if tag.DateStr != "25AUG" {
		t.Errorf("DateStr = %q, want 25AUG", tag.DateStr)
	}
}

func TestParseRejectsForeignFormats(t *testing.T) {
	ids := []string{
		"",
		"autoclose-1234567890",  // venue-generated
		"fb-3f84acde01234567ab", // bot fallback without role tag
		"XYZ-25AUG-00001-E",     // unknown role code
		"ANC-25AUG-00001-Q",     // unknown type suffix
		"ANC-99AUG-00001-E",     // impossible day
		"ANC-25ZZZ-00001-E",     // bad month
		"ANC-25AUG-00001",       // base without type is not a full ID
		"ANC-25AUG-1-E",         // sequence too short
		"web_abc123",            // manual order
	}
	for _, id := range ids {
		if _, err := Parse(id); err == nil {
			t.Errorf("Parse(%q) accepted a foreign format", id)
		}
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	tag, err := Parse("anc-25aug-00001-e")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tag.Role != position.RoleAnchor || tag.Type != TypeEntry {
		t.Errorf("parsed %q / %q from lowercase ID", tag.Role, tag.Type)
	}
}

func TestRoleCodeCoverage(t *testing.T) {
	// Every role must map to a distinct code so restart recovery can
	// tell primaries and hedges apart.
	seen := make(map[string]position.Role)
	roles := []position.Role{
		position.RoleAnchor, position.RoleAnchorHedge,
		position.RoleOpportunity, position.RoleOpportunityHedge,
		position.RoleScalp, position.RoleScalpHedge,
		position.RoleHighFreq, position.RoleHighFreqHedge,
	}
	for _, role := range roles {
		code := RoleCode(role)
		if len(code) != 3 {
			t.Errorf("RoleCode(%q) = %q, want 3 characters", role, code)
		}
		if prev, dup := seen[code]; dup {
			t.Errorf("code %q reused by %q and %q", code, prev, role)
		}
		seen[code] = role
	}
}
