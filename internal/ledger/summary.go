package ledger

import (
	"encoding/json"
	"fmt"

	"sarthi/internal/domain"
)

// Summarize renders a one-line human description of an entry from its
// action type and payload alone. Pure; unknown types degrade to the
// raw type name rather than failing.
func Summarize(e domain.ActionEntry) string {
	switch e.ActionType {
	case domain.ActionWeeklyPlanGenerated:
		var p domain.WeeklyPlanPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		return fmt.Sprintf("Weekly plan for %s: %q with %d suggested tasks (last week %d%% complete)",
			p.Week.Start, p.MicroResolution.Title, len(p.SuggestedTasks), int(p.CompletionRate*100))
	case domain.ActionInterventionGenerated:
		var p domain.InterventionPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		if !p.Flagged {
			return fmt.Sprintf("Check-in for week of %s: on track (%d%% complete)", p.Week.Start, int(p.CompletionRate*100))
		}
		return fmt.Sprintf("Slippage flagged for week of %s: %d%% complete, %d missed; %d options offered",
			p.Week.Start, int(p.CompletionRate*100), p.MissedScheduled, cardOptions(p.Card))
	case domain.ActionInterventionExecuted:
		var p domain.InterventionExecutedPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		return fmt.Sprintf("Applied %s: %d change(s)", p.OptionKey, len(p.Changes))
	case domain.ActionResolutionApproved:
		var p domain.ApprovalPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		return fmt.Sprintf("Approved %q with %d task(s)", p.Title, len(p.Tasks))
	case domain.ActionResolutionRejected:
		var p domain.ApprovalPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		return fmt.Sprintf("Rejected plan for %q", p.Title)
	case domain.ActionPreferencesUpdated:
		var p domain.PreferencesPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			break
		}
		if p.CoachingPaused {
			return "Coaching paused"
		}
		return fmt.Sprintf("Preferences updated (weekly plans %s, interventions %s)",
			onOff(p.WeeklyPlansEnabled), onOff(p.InterventionsEnabled))
	}
	return e.ActionType
}

func cardOptions(c *domain.InterventionCard) int {
	if c == nil {
		return 0
	}
	return len(c.Options)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
