package ledger

import (
	"testing"

	"sarthi/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	entry := domain.ActionEntry{ID: "entry-1", CreatedAt: "2024-01-15T10:00:00Z"}
	token := EncodeCursor(entry)
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.CreatedAt != entry.CreatedAt || cursor.ID != entry.ID {
		t.Fatalf("round trip lost data: %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "", "aGVsbG8", EncodeCursor(domain.ActionEntry{CreatedAt: "x"})} {
		if _, err := DecodeCursor(token); err == nil {
			t.Fatalf("token %q should not decode", token)
		}
	}
}

func TestSummarizeDegradesGracefully(t *testing.T) {
	entry := domain.ActionEntry{ActionType: "something_new", PayloadJSON: "{}"}
	if got := Summarize(entry); got != "something_new" {
		t.Fatalf("unknown type summary = %q", got)
	}
	entry = domain.ActionEntry{ActionType: domain.ActionWeeklyPlanGenerated, PayloadJSON: "not json"}
	if got := Summarize(entry); got != domain.ActionWeeklyPlanGenerated {
		t.Fatalf("bad payload summary = %q", got)
	}
}
