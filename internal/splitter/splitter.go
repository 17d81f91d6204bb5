// Package splitter bounds per-invocation work by deciding whether a
// date range runs inline or fans out into child executions.
package splitter

import (
	"fmt"

	"github.com/JakeFAU/schedule-pipeline/internal/planner"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// DefaultMaxChunkDays caps how many days a single invocation processes
// before the range is fanned out.
const DefaultMaxChunkDays = 90

// Decision is the outcome of a split: either the range is small enough
// to run inline, or it becomes a set of child work items.
type Decision interface {
	Kind() string
}

// RunDirect means the invocation should process the item itself.
type RunDirect struct {
	Item schedule.WorkItem
}

// Kind identifies the decision variant.
func (RunDirect) Kind() string { return "direct" }

// FanOut means the range exceeds the chunk cap and each child must be
// dispatched as its own execution.
type FanOut struct {
	Children []schedule.WorkItem
}

// Kind identifies the decision variant.
func (FanOut) Kind() string { return "fan_out" }

// Split decides how to run item. Ranges spanning at most maxChunkDays
// days run inline; longer ranges are partitioned into child items of
// at most maxChunkDays days each, tagged as sub-executions. Children
// that re-enter with the same cap always land on RunDirect, so the
// recursion terminates after one level per cap.
func Split(item schedule.WorkItem, maxChunkDays int) (Decision, error) {
	if maxChunkDays < 1 {
		maxChunkDays = DefaultMaxChunkDays
	}

	start, end, err := item.Span()
	if err != nil {
		return nil, fmt.Errorf("split work item: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("split work item: end date %s is before start date %s", schedule.DateKey(end), schedule.DateKey(start))
	}

	if schedule.DaysInclusive(start, end) <= maxChunkDays {
		return RunDirect{Item: item}, nil
	}

	chunks, err := planner.Plan(start, end, maxChunkDays)
	if err != nil {
		return nil, fmt.Errorf("split work item: %w", err)
	}

	children := make([]schedule.WorkItem, 0, len(chunks))
	for _, c := range chunks {
		child := item
		child.StartDate = schedule.DateKey(c.Start)
		child.EndDate = schedule.DateKey(c.End)
		child.IsSubExecution = true
		children = append(children, child)
	}
	return FanOut{Children: children}, nil
}
