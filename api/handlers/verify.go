package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"provenancePoster/api/dto"
	"provenancePoster/api/middleware"
	"provenancePoster/api/service"
	"provenancePoster/api/validation"
)

// Verifier resolves an uploaded image to its provenance page, if any.
type Verifier interface {
	Verify(ctx context.Context, image []byte) (*service.VerificationResult, error)
}

type VerifyHandler struct {
	service      Verifier
	maxImageSize int64
	logger       *zap.Logger
}

func NewVerifyHandler(service Verifier, maxImageSize int64, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{
		service:      service,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Verify accepts a multipart upload with a single "image" part, decodes its
// watermark, and resolves it to a provenance page. Browsers are redirected to
// the page; clients asking for JSON get the result inline. No identity is
// required: verification is the public side of the system.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.handleError(w, "Image upload is required", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxImageSize {
		h.handleError(w, "Image exceeds size limit", validation.ErrImageTooLarge, traceID, http.StatusBadRequest)
		return
	}

	if _, err := validation.DetectImageFormat(file); err != nil {
		h.handleError(w, "Unsupported image type", err, traceID, http.StatusBadRequest)
		return
	}

	image, err := io.ReadAll(file)
	if err != nil {
		h.handleError(w, "Failed to read image", err, traceID, http.StatusBadRequest)
		return
	}

	result, err := h.service.Verify(r.Context(), image)
	if err != nil {
		h.handleError(w, "Verification failed", err, traceID, http.StatusBadGateway)
		return
	}

	h.logger.Info("Watermark verification",
		zap.String("trace_id", traceID),
		zap.Bool("found", result.Found),
		zap.String("post_id", result.PostID),
		zap.String("reason", result.Reason),
	)

	if result.Found && !wantsJSON(r) {
		http.Redirect(w, r, result.ProvenanceURL, http.StatusFound)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.VerifyResponse{
		Found:         result.Found,
		PostID:        result.PostID,
		Method:        result.Method,
		Confidence:    result.Confidence,
		ProvenanceURL: result.ProvenanceURL,
		Reason:        result.Reason,
		TraceID:       traceID,
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (h *VerifyHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *VerifyHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
