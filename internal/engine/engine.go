package engine

import (
	"database/sql"
	"time"

	"sarthi/internal/config"
	"sarthi/internal/ledger"
	"sarthi/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Ledger: ledger.Writer{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// writer returns the ledger writer pinned to the engine's clock, so an
// injected Now governs audit timestamps too.
func (e Engine) writer() ledger.Writer {
	w := e.Ledger
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

const (
	dayFormat  = "2006-01-02"
	timeFormat = "15:04"
)

func parseDay(day string) (time.Time, error) {
	return time.Parse(dayFormat, day)
}

// currentWeek is the ISO week containing t: Monday on or before t.
func currentWeek(t time.Time) (start, end time.Time) {
	t = t.UTC().Truncate(24 * time.Hour)
	offset := (int(t.Weekday()) + 6) % 7
	start = t.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

// upcomingWeek is the next ISO week: the Monday strictly after t.
func upcomingWeek(t time.Time) (start, end time.Time) {
	cur, _ := currentWeek(t)
	start = cur.AddDate(0, 0, 7)
	return start, start.AddDate(0, 0, 6)
}

func weekWindow(start, end time.Time) (string, string) {
	return start.Format(dayFormat), end.Format(dayFormat)
}
