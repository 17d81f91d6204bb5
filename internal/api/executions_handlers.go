package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// startExecution handles POST /v1/executions. It hands a range work item to
// the execution backend and answers 201 with the created handle. This is the
// server half of the wire the executions/http client speaks, so one instance
// can dispatch chunks to another.
func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution backend unavailable")
		return
	}
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()

	handle, err := s.executions.StartExecution(ctx, req.Name, req.Input.toWorkItem())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

// describeExecution handles GET /v1/executions/{execution_id}.
func (s *Server) describeExecution(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution backend unavailable")
		return
	}
	id := chi.URLParam(r, "execution_id")
	handle, err := s.executions.DescribeExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		s.logger.Error("describe execution failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to describe execution")
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

// startExecutionRequest mirrors the payload the executions/http client sends.
type startExecutionRequest struct {
	Name  string         `json:"name" validate:"omitempty,max=128"`
	Input executionInput `json:"input" validate:"required"`
}

type executionInput struct {
	StartDate           string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate             string `json:"end_date" validate:"required,datetime=2006-01-02"`
	ForceScrape         bool   `json:"force_scrape"`
	BatchSize           int    `json:"batch_size" validate:"omitempty,min=1,max=10"`
	MaxChunkDays        int    `json:"max_chunk_days" validate:"omitempty,min=1"`
	Bucket              string `json:"bucket_name,omitempty"`
	ArchitectureVersion string `json:"architecture_version,omitempty"`
	IsSubExecution      bool   `json:"is_sub_execution"`
	ParentExecutionID   string `json:"parent_execution_id,omitempty"`
	FromRaw             bool   `json:"from_raw,omitempty"`
}

func (in executionInput) toWorkItem() schedule.WorkItem {
	return schedule.WorkItem{
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		ForceScrape:         in.ForceScrape,
		BatchSize:           in.BatchSize,
		MaxChunkDays:        in.MaxChunkDays,
		Bucket:              in.Bucket,
		ArchitectureVersion: in.ArchitectureVersion,
		IsSubExecution:      in.IsSubExecution,
		ParentExecutionID:   in.ParentExecutionID,
		FromRaw:             in.FromRaw,
	}
}
