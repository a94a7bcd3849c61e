package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"provenancePoster/api/dto"
	"provenancePoster/api/middleware"
	"provenancePoster/api/progress"
)

// ProgressReader fetches the current progress record for a task.
type ProgressReader interface {
	Get(ctx context.Context, taskID string) (*progress.Record, error)
}

type ProgressHandler struct {
	reader ProgressReader
	logger *zap.Logger
}

func NewProgressHandler(reader ProgressReader, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{reader: reader, logger: logger}
}

// Status serves GET /progress/{taskId}. A missing or expired record is a 404;
// clients stop polling once Completed is true.
func (h *ProgressHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if taskID == "" || strings.Contains(taskID, "/") {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	record, err := h.reader.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrProgressNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get progress", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.ProgressResponse{
		TaskID:    record.TaskID,
		Status:    record.Status,
		Progress:  record.Progress,
		Message:   record.Message,
		Error:     record.Error,
		Completed: record.Completed(),
	})
}

func (h *ProgressHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("trace_id", traceID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *ProgressHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
