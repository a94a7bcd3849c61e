package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"provenancePoster/api/dto"
	"provenancePoster/api/middleware"
	"provenancePoster/api/models"
	"provenancePoster/api/service"
	"provenancePoster/api/validation"
)

// SubmissionCreator starts the asynchronous publishing flow for one post.
type SubmissionCreator interface {
	CreateSubmission(ctx context.Context, in *service.SubmissionInput) (string, error)
}

type PostHandler struct {
	service      SubmissionCreator
	maxImageSize int64
	logger       *zap.Logger
}

func NewPostHandler(service SubmissionCreator, maxImageSize int64, logger *zap.Logger) *PostHandler {
	return &PostHandler{
		service:      service,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Submit accepts a multipart post submission: a text field, optional labels,
// and up to 4 image parts with per-image alt text. It responds 202 with the
// task id used for progress polling; all heavy work happens in the worker.
func (h *PostHandler) Submit(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	// Identity is established by the gateway in front of this service.
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.handleError(w, "Missing user identity", nil, traceID, http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	text := r.FormValue("text")
	if text == "" {
		h.handleError(w, "Post text is required", nil, traceID, http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(text) > models.MaxPostTextLength {
		h.handleError(w, "Post text exceeds 300 characters", nil, traceID, http.StatusBadRequest)
		return
	}

	labels, err := parseLabels(r.Form["labels"])
	if err != nil {
		h.handleError(w, "Invalid content label", err, traceID, http.StatusBadRequest)
		return
	}

	images, err := h.readImages(r)
	if err != nil {
		status := http.StatusBadRequest
		h.handleError(w, "Invalid image upload", err, traceID, status)
		return
	}

	input := &service.SubmissionInput{
		UserID:        userID,
		Text:          text,
		ContentLabels: labels,
		InteractionSettings: models.InteractionSettings{
			ReplyPolicy: r.FormValue("reply_policy"),
		},
		Images: images,
	}

	postID, err := h.service.CreateSubmission(r.Context(), input)
	if err != nil {
		h.handleError(w, "Failed to create submission", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Post submitted",
		zap.String("trace_id", traceID),
		zap.String("post_id", postID),
		zap.Int("images", len(images)),
	)

	h.respondJSON(w, http.StatusAccepted, dto.SubmitPostResponse{
		PostID:  postID,
		TaskID:  postID,
		TraceID: traceID,
	})
}

func (h *PostHandler) readImages(r *http.Request) ([]service.SubmissionImage, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File["images"]
	if len(files) > models.MaxImagesPerPost {
		return nil, validation.ErrTooManyImages
	}

	images := make([]service.SubmissionImage, 0, len(files))
	for i, header := range files {
		if header.Size > h.maxImageSize {
			return nil, validation.ErrImageTooLarge
		}

		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open image %d: %w", i+1, err)
		}

		format, err := validation.DetectImageFormat(file)
		if err != nil {
			file.Close()
			return nil, err
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("read image %d: %w", i+1, err)
		}

		images = append(images, service.SubmissionImage{
			Meta: models.ImageMetadata{
				Index:     i + 1,
				Format:    string(format),
				Extension: format.Extension(),
				AltText:   r.FormValue(fmt.Sprintf("alt_text_%d", i+1)),
			},
			Data: data,
		})
	}

	return images, nil
}

func parseLabels(values []string) ([]models.ContentLabel, error) {
	if len(values) == 0 {
		return nil, nil
	}
	labels := make([]models.ContentLabel, 0, len(values))
	for _, v := range values {
		label := models.ContentLabel(v)
		if !models.AllowedLabels[label] {
			return nil, errors.New("unknown label: " + v)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

func (h *PostHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
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

func (h *PostHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
