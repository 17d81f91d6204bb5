package orchestrator

import (
	"fmt"
	"time"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Invocation modes.
const (
	ModeDay   = "day"
	ModeRange = "range"
	ModeMonth = "month"
)

// Invocation is the wire shape accepted by the CLI and POST /v1/pipeline.
// Which fields are required depends on the mode; ParseInvocation turns the
// loose shape into a typed Target.
type Invocation struct {
	Mode              string `json:"mode"`
	Year              int    `json:"year,omitempty"`
	Month             int    `json:"month,omitempty"`
	Day               int    `json:"day,omitempty"`
	StartDate         string `json:"start_date,omitempty"`
	EndDate           string `json:"end_date,omitempty"`
	ForceScrape       bool   `json:"force_scrape,omitempty"`
	FromRaw           bool   `json:"from_raw,omitempty"`
	BatchSize         int    `json:"batch_size,omitempty"`
	MaxChunkDays      int    `json:"max_chunk_days,omitempty"`
	Bucket            string `json:"bucket_name,omitempty"`
	IsSubExecution    bool   `json:"is_sub_execution,omitempty"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
}

// Target is the parsed invocation: exactly one of the mode variants.
type Target interface {
	Kind() string
}

// DayTarget scrapes a single date.
type DayTarget struct {
	Date time.Time
}

// Kind identifies the target variant.
func (DayTarget) Kind() string { return ModeDay }

// RangeTarget scrapes an inclusive date range.
type RangeTarget struct {
	Start time.Time
	End   time.Time
}

// Kind identifies the target variant.
func (RangeTarget) Kind() string { return ModeRange }

// MonthTarget scrapes a calendar month and writes its aggregate report.
type MonthTarget struct {
	Year  int
	Month time.Month
}

// Kind identifies the target variant.
func (MonthTarget) Kind() string { return ModeMonth }

// ParseInvocation validates the per-mode fields and returns the typed
// target. Unknown modes and malformed fields are errors; the caller folds
// them into the result envelope.
func ParseInvocation(inv Invocation) (Target, error) {
	switch inv.Mode {
	case ModeDay:
		return parseDayTarget(inv)
	case ModeRange:
		return parseRangeTarget(inv)
	case ModeMonth:
		return parseMonthTarget(inv)
	case "":
		return nil, fmt.Errorf("mode is required")
	default:
		return nil, fmt.Errorf("unknown mode %q", inv.Mode)
	}
}

func parseDayTarget(inv Invocation) (Target, error) {
	if err := validateMonth(inv.Year, inv.Month); err != nil {
		return nil, err
	}
	if inv.Day < 1 || inv.Day > 31 {
		return nil, fmt.Errorf("day %d out of range", inv.Day)
	}
	date := time.Date(inv.Year, time.Month(inv.Month), inv.Day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March; reject anything that moved.
	if date.Day() != inv.Day || int(date.Month()) != inv.Month || date.Year() != inv.Year {
		return nil, fmt.Errorf("invalid date %04d-%02d-%02d", inv.Year, inv.Month, inv.Day)
	}
	return DayTarget{Date: date}, nil
}

func parseRangeTarget(inv Invocation) (Target, error) {
	if inv.StartDate == "" || inv.EndDate == "" {
		return nil, fmt.Errorf("range mode requires start_date and end_date")
	}
	start, err := schedule.ParseDate(inv.StartDate)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	end, err := schedule.ParseDate(inv.EndDate)
	if err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("start_date %s is after end_date %s", inv.StartDate, inv.EndDate)
	}
	return RangeTarget{Start: start, End: end}, nil
}

func parseMonthTarget(inv Invocation) (Target, error) {
	if err := validateMonth(inv.Year, inv.Month); err != nil {
		return nil, err
	}
	return MonthTarget{Year: inv.Year, Month: time.Month(inv.Month)}, nil
}

func validateMonth(year, month int) error {
	if year < 1 {
		return fmt.Errorf("year %d out of range", year)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("month %d out of range", month)
	}
	return nil
}
