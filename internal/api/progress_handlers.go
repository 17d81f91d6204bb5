package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	ledgerTimeout     = 3 * time.Second
)

// getProgress handles GET /v1/progress?limit=. It returns the newest retained
// events as {"count": n, "events": [...]}, 400 for an invalid limit, or 503
// when the ring is not wired.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := s.recent.Snapshot()
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": toEventDTOs(events),
	})
}

// getLedgerEntry handles GET /v1/ledger/{date}. It returns the date's
// ScrapeRecord, 400 for a malformed date, 404 when the date was never
// scraped, or 500 if the ledger backend fails.
func (s *Server) getLedgerEntry(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	date, err := schedule.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
	defer cancel()

	rec, err := s.ledger.Lookup(ctx, date)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no ledger entry")
			return
		}
		s.logger.Error("ledger lookup failed",
			zap.String("date", schedule.DateKey(date)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		out = append(out, eventDTO{
			RunID:      evt.RunUUID().String(),
			Timestamp:  evt.TS,
			Stage:      string(evt.Stage),
			Date:       evt.Date,
			StartDate:  evt.StartDate,
			EndDate:    evt.EndDate,
			Records:    evt.Records,
			Days:       evt.Days,
			DurationMS: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
	}
	return out
}

type eventDTO struct {
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	Stage      string    `json:"stage"`
	Date       string    `json:"date,omitempty"`
	StartDate  string    `json:"start_date,omitempty"`
	EndDate    string    `json:"end_date,omitempty"`
	Records    int64     `json:"records,omitempty"`
	Days       int64     `json:"days,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}
