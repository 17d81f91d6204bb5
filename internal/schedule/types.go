package schedule

import (
	"encoding/json"
	"net/http"
	"time"
)

// GameRecord is one scheduled or played game as extracted from a grid row.
// Date stays a string so the validator can prove it parses.
type GameRecord struct {
	Date      string     `json:"date"`
	League    string     `json:"league"`
	Session   string     `json:"session,omitempty"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	HomeScore *int       `json:"home_score,omitempty"`
	AwayScore *int       `json:"away_score,omitempty"`
	Venue     string     `json:"venue"`
	Time      *time.Time `json:"time,omitempty"`
	Officials string     `json:"officials,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// ScrapeRecord is the per-date ledger entry. Only the day pipeline writes it.
type ScrapeRecord struct {
	Date        string    `json:"date"`
	Success     bool      `json:"success"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// DayEnvelope is the parsed-day artifact persisted to the object store. Its
// presence is the ground truth the verifier probes for; a zero-game day still
// writes one with GamesFound=false.
type DayEnvelope struct {
	Date         string       `json:"date"`
	SourceDigest string       `json:"source_digest,omitempty"`
	GamesFound   bool         `json:"games_found"`
	GamesCount   int          `json:"games_count"`
	Games        []GameRecord `json:"games"`
}

// DayStatus classifies a day's validation result.
type DayStatus string

// Day validation statuses.
const (
	DayValidated     DayStatus = "validated"
	DayMissing       DayStatus = "missing"
	DayInvalidFormat DayStatus = "invalid_format"
)

// RecordError pairs a record's position in the day envelope with the rule
// violations found on it.
type RecordError struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// DayResult is the validator's per-day verdict.
type DayResult struct {
	Date    string        `json:"date"`
	Status  DayStatus     `json:"status"`
	Total   int           `json:"total"`
	Valid   int           `json:"valid"`
	Invalid []RecordError `json:"invalid,omitempty"`
}

// DayOutcome is the day pipeline's per-date report rolled into RangeOutcome.
type DayOutcome struct {
	Date        string `json:"date"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped"`
	RecordCount int    `json:"record_count"`
	RawDigest   string `json:"raw_digest,omitempty"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// DateChunk is a contiguous inclusive sub-range of dates.
type DateChunk struct {
	Start time.Time
	End   time.Time
}

// Days returns the inclusive day count of the chunk.
func (c DateChunk) Days() int {
	return DaysInclusive(c.Start, c.End)
}

// Dates enumerates every date in the chunk in order.
func (c DateChunk) Dates() []time.Time {
	return DatesBetween(c.Start, c.End)
}

// WorkItem is the splitter's dispatch unit: the JSON input handed to a child
// execution (or run directly when the range fits in one invocation).
type WorkItem struct {
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	ForceScrape         bool   `json:"force_scrape"`
	BatchSize           int    `json:"batch_size"`
	MaxChunkDays        int    `json:"max_chunk_days"`
	Bucket              string `json:"bucket_name,omitempty"`
	ArchitectureVersion string `json:"architecture_version,omitempty"`
	IsSubExecution      bool   `json:"is_sub_execution"`
	ParentExecutionID   string `json:"parent_execution_id,omitempty"`
	FromRaw             bool   `json:"from_raw,omitempty"`
}

// Span returns the work item's parsed date range.
func (w WorkItem) Span() (time.Time, time.Time, error) {
	start, err := ParseDate(w.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDate(w.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ExecutionStatus is the remote orchestration service's status enum.
// ExecutionError means describe itself failed locally, not that the remote
// execution reported failure.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
	ExecutionError     ExecutionStatus = "ERROR"
)

// Terminal reports whether the status will never change again.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning && s != ""
}

// ExecutionHandle identifies one dispatched child execution. Output carries
// the child's RangeOutcome JSON directly; nothing is double-encoded.
type ExecutionHandle struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	StartDate string          `json:"start_date,omitempty"`
	EndDate   string          `json:"end_date,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Cause     string          `json:"cause,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	StoppedAt *time.Time      `json:"stopped_at,omitempty"`
}

// RangeOutcome is the single typed result envelope for a processed range. It
// is returned by direct runs, persisted as the results descriptor, and set as
// a child execution's output.
type RangeOutcome struct {
	RunID         string       `json:"run_id"`
	StartDate     string       `json:"start_date"`
	EndDate       string       `json:"end_date"`
	Success       bool         `json:"success"`
	TotalDays     int          `json:"total_days"`
	ProcessedDays int          `json:"processed_days"`
	MissingDays   []string     `json:"missing_days"`
	ErrorRate     float64      `json:"error_rate"`
	GateFailed    bool         `json:"gate_failed,omitempty"`
	Error         string       `json:"error,omitempty"`
	ResultsURI    string       `json:"results_uri,omitempty"`
	Days          []DayOutcome `json:"days,omitempty"`
}

// VerifyReport is the verifier's output.
type VerifyReport struct {
	Success       bool     `json:"success"`
	TotalDays     int      `json:"total_days"`
	ProcessedDays int      `json:"processed_days"`
	MissingDays   []string `json:"missing_days"`
}

// MonthReport aggregates a month's day results.
type MonthReport struct {
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	TotalDays     int       `json:"total_days"`
	Validated     int       `json:"validated"`
	Missing       int       `json:"missing"`
	InvalidFormat int       `json:"invalid_format"`
	TotalGames    int       `json:"total_games"`
	ValidGames    int       `json:"valid_games"`
	ErrorRate     float64   `json:"error_rate"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// LeagueRef is a per-league grid link discovered on the aggregate page.
type LeagueRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FetchRequest captures everything needed to fetch one schedule page.
type FetchRequest struct {
	Date        time.Time
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// RobotsStatus reports how the robots.txt probe for a fetch concluded.
type RobotsStatus string

// Robots probe statuses. Indeterminate means the probe kept timing out
// and the fetch proceeded under a synthetic allow-all policy.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}
