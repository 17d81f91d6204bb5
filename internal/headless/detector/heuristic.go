// Package detector decides when a probe fetch needs a headless re-render.
package detector

import (
	"bytes"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

const defaultMinHTMLBytes = 2048

// spaMarkers flag client-rendered shells that never carry the schedule
// grid in static HTML.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Heuristic promotes a fetch to the headless browser when the static body
// looks script-rendered: an empty or tiny script-heavy page, a SPA shell,
// or a noscript warning with no populated schedule table in sight.
type Heuristic struct {
	minHTMLBytes int
}

// NewHeuristic builds the detector. Thresholds <= 0 use the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultMinHTMLBytes
	}
	return &Heuristic{minHTMLBytes: threshold}
}

// ShouldPromote reports whether the probe response warrants a headless
// re-fetch. Non-200 probes never promote; those fail the day outright.
func (h *Heuristic) ShouldPromote(resp schedule.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	if hasGrid(lower) {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if bytes.Contains(lower, []byte("<noscript")) {
		return true
	}
	return len(lower) < h.minHTMLBytes && scriptHeavy(lower)
}

// hasGrid reports a table with at least one row, meaning the static HTML
// already carries the schedule.
func hasGrid(lower []byte) bool {
	i := bytes.Index(lower, []byte("<table"))
	if i < 0 {
		return false
	}
	return bytes.Contains(lower[i:], []byte("<tr"))
}

// scriptHeavy reports whether script tags cover at least a quarter of the
// document. Unterminated tags count through the end of the body.
func scriptHeavy(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	var covered, pos int
	for {
		i := bytes.Index(lower[pos:], []byte("<script"))
		if i < 0 {
			break
		}
		start := pos + i

		gt := bytes.IndexByte(lower[start:], '>')
		if gt < 0 {
			covered += total - start
			break
		}
		contentFrom := start + gt + 1

		end := bytes.Index(lower[contentFrom:], []byte("</script>"))
		if end < 0 {
			covered += total - start
			break
		}
		next := contentFrom + end + len("</script>")
		covered += next - start
		pos = next
	}
	return covered*4 >= total && covered > 0
}
