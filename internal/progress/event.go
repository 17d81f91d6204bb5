// Package progress defines the event structures emitted by pipeline runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages. A RANGE_DONE event with a non-empty Note
// records a failed range; DISPATCH marks a child execution handoff.
const (
	StageRangeStart Stage = "RANGE_START"
	StageDayStart   Stage = "DAY_START"
	StageDayDone    Stage = "DAY_DONE"
	StageDayError   Stage = "DAY_ERROR"
	StageRangeDone  Stage = "RANGE_DONE"
	StageDispatch   Stage = "DISPATCH"
)

// Event captures a single component of pipeline progress.
type Event struct {
	// RunID uniquely identifies a range run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Date scopes day events to the date being processed.
	Date string
	// StartDate and EndDate scope range and dispatch events.
	StartDate string
	EndDate   string
	// Records carries the game count for a completed day.
	Records int64
	// Days carries the processed-day count for a completed range.
	Days int64
	// Dur captures execution latency for day and range completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (error text, child execution IDs).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDayStart, StageDayDone, StageDayError:
		if e.Date == "" {
			return fmt.Errorf("%s requires date", e.Stage)
		}
	case StageRangeStart, StageRangeDone, StageDispatch:
		if e.StartDate == "" || e.EndDate == "" {
			return fmt.Errorf("%s requires start and end dates", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
