package service

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"provenancePoster/api/kafka"
	"provenancePoster/api/models"
	"provenancePoster/api/validation"
)

// ObjectStore is the slice of the storage client the submission flow needs.
type ObjectStore interface {
	Upload(bucket, path string, data []byte, contentType string) error
	UploadJSON(bucket, path string, v any) error
}

// SubmissionImage pairs one validated upload with its metadata.
type SubmissionImage struct {
	Meta models.ImageMetadata
	Data []byte
}

// SubmissionInput is a validated post submission ready to be persisted.
type SubmissionInput struct {
	UserID              string
	Text                string
	ContentLabels       []models.ContentLabel
	InteractionSettings models.InteractionSettings
	Images              []SubmissionImage
}

type SubmissionService struct {
	store    ObjectStore
	producer kafka.Producer
	bucket   string
	topic    string
}

func NewSubmissionService(store ObjectStore, producer kafka.Producer, bucket, topic string) *SubmissionService {
	return &SubmissionService{
		store:    store,
		producer: producer,
		bucket:   bucket,
		topic:    topic,
	}
}

// CreateSubmission persists the submission and its images, then enqueues the
// post event that starts the processing pipeline. The post id is a stateless
// random identifier; nothing downstream depends on a shared counter.
func (s *SubmissionService) CreateSubmission(ctx context.Context, in *SubmissionInput) (string, error) {
	postID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate post id: %w", err)
	}

	now := time.Now().UTC()
	submission := &models.PostSubmission{
		PostID:              postID,
		UserID:              in.UserID,
		Text:                in.Text,
		ContentLabels:       in.ContentLabels,
		InteractionSettings: in.InteractionSettings,
		ImageMetadata:       make([]models.ImageMetadata, 0, len(in.Images)),
		CreatedAt:           now,
	}

	for _, img := range in.Images {
		key := fmt.Sprintf("%s/image%d.%s", postID, img.Meta.Index, img.Meta.Extension)
		contentType := validation.ImageFormat(img.Meta.Format).ContentType()
		if err := s.store.Upload(s.bucket, key, img.Data, contentType); err != nil {
			return "", err
		}
		submission.ImageMetadata = append(submission.ImageMetadata, img.Meta)
	}

	if err := s.store.UploadJSON(s.bucket, postID+"/post.json", submission); err != nil {
		return "", err
	}

	event := &kafka.PostEvent{
		PostID:    postID,
		UserID:    in.UserID,
		Bucket:    s.bucket,
		Timestamp: now.Unix(),
	}
	if err := s.producer.SendPostEvent(ctx, s.topic, event); err != nil {
		return "", err
	}

	return postID, nil
}
