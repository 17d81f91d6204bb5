package schedule

import (
	"fmt"
	"path"
	"time"
)

// Layout computes the object-store key for every pipeline artifact. All keys
// live under a single prefix so one bucket can host several environments.
type Layout struct {
	Prefix string
}

// RawPage is the aggregate day grid, persisted before parsing.
func (l Layout) RawPage(date time.Time) string {
	return path.Join(l.Prefix, "html", DateKey(date)+".html")
}

// RawLeaguePage is one per-league grid fetched for the date.
func (l Layout) RawLeaguePage(date time.Time, leagueID string) string {
	return path.Join(l.Prefix, "html", DateKey(date), "league-"+leagueID+".html")
}

// DayEnvelope is the parsed-day artifact the verifier probes for.
func (l Layout) DayEnvelope(date time.Time) string {
	return path.Join(l.Prefix, "json", DateKey(date)+".json")
}

// ValidGames is the validator-approved subset for the date.
func (l Layout) ValidGames(date time.Time) string {
	return path.Join(l.Prefix, "valid", DateKey(date)+".json")
}

// LedgerEntry is the per-date ScrapeRecord key used by the blob ledger.
func (l Layout) LedgerEntry(date time.Time) string {
	return path.Join(l.Prefix, "ledger", DateKey(date)+".json")
}

// LedgerPrefix lists all ledger entries.
func (l Layout) LedgerPrefix() string {
	return path.Join(l.Prefix, "ledger") + "/"
}

// ResultsDescriptor holds a run's RangeOutcome for the verifier.
func (l Layout) ResultsDescriptor(runID string) string {
	return path.Join(l.Prefix, "results", runID+".json")
}

// MonthReport is the monthly aggregate validation report.
func (l Layout) MonthReport(year int, month time.Month) string {
	return path.Join(l.Prefix, "reports", fmt.Sprintf("%04d-%02d.json", year, int(month)))
}
