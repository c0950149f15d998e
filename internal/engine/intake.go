package engine

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"sarthi/internal/domain"
)

const (
	minGoalLength = 5
	maxGoalLength = 300
	maxTitleRunes = 80

	minDurationWeeks     = 4
	maxDurationWeeks     = 52
	defaultDurationWeeks = 8
)

var typeToCategory = map[string]string{
	"habit":    "Lifestyle",
	"project":  "Career",
	"learning": "Skills",
	"health":   "Health",
	"finance":  "Finance",
	"other":    "Personal",
}

var typeKeywords = []struct {
	rtype    string
	keywords []string
}{
	{"health", []string{"gym", "run", "running", "workout", "exercise", "fitness", "weight", "sleep", "diet", "yoga", "walk"}},
	{"finance", []string{"save", "saving", "budget", "invest", "money", "debt", "spend"}},
	{"learning", []string{"learn", "study", "course", "read", "book", "language", "practice", "guitar", "piano", "skill"}},
	{"habit", []string{"daily", "every day", "habit", "morning", "routine", "journal", "meditate", "quit"}},
	{"project", []string{"build", "launch", "write", "ship", "finish", "create", "start a", "publish", "side project"}},
}

// Intake turns free-form goal text into a draft resolution shell and
// makes sure the owner row exists first.
func (e Engine) Intake(ctx context.Context, owner, text string, durationWeeks *int) (domain.Resolution, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < minGoalLength {
		return domain.Resolution{}, validationErr("text", "goal must be at least %d characters", minGoalLength)
	}
	if n > maxGoalLength {
		return domain.Resolution{}, validationErr("text", "goal must be at most %d characters", maxGoalLength)
	}
	weeks := defaultDurationWeeks
	if durationWeeks != nil {
		weeks = clampInt(*durationWeeks, minDurationWeeks, maxDurationWeeks)
	}
	rtype := classifyType(text)
	now := e.nowRFC3339()
	res := domain.Resolution{
		ID:            uuid.NewString(),
		Owner:         owner,
		Title:         canonicalTitle(text),
		Type:          rtype,
		Category:      typeToCategory[rtype],
		DurationWeeks: weeks,
		Status:        "draft",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resolution{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, owner, now); err != nil {
		return domain.Resolution{}, err
	}
	if err := e.Repo.InsertResolution(ctx, tx, res); err != nil {
		return domain.Resolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resolution{}, err
	}
	return res, nil
}

func classifyType(text string) string {
	lowered := strings.ToLower(text)
	for _, entry := range typeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.rtype
			}
		}
	}
	return "other"
}

func canonicalTitle(text string) string {
	runes := []rune(text)
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}
	runes[0] = unicode.ToUpper(runes[0])
	return strings.TrimSpace(string(runes))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
