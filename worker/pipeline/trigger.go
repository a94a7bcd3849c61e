package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"provenancePoster/worker/kafka"
	"provenancePoster/worker/models"
	"provenancePoster/worker/progress"
)

var ErrInvalidEvent = errors.New("invalid post event")

// Trigger is the pipeline ingress: it consumes exactly one post event,
// initializes the progress record, and starts one orchestrator execution.
// Errors propagate to the consumer so the queue's own redelivery applies;
// no bespoke retry happens here.
type Trigger struct {
	store   ObjectStore
	tracker Tracker
	orch    *Orchestrator
	logger  *zap.Logger
}

func NewTrigger(store ObjectStore, tracker Tracker, orch *Orchestrator, logger *zap.Logger) *Trigger {
	return &Trigger{
		store:   store,
		tracker: tracker,
		orch:    orch,
		logger:  logger,
	}
}

func (t *Trigger) Handle(ctx context.Context, event *kafka.PostEvent) error {
	if event.PostID == "" || event.Bucket == "" {
		return ErrInvalidEvent
	}

	// Single-writer guard. A record past "starting" means another execution
	// already reached the publish step (or finished); starting a second
	// pipeline could double-post, so a redelivered event is dropped.
	existing, err := t.tracker.Get(ctx, event.PostID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != progress.StatusStarting {
		t.logger.Info("Post already processed, skipping redelivered event",
			zap.String("post_id", event.PostID),
			zap.String("status", string(existing.Status)),
		)
		return nil
	}

	// A missing or unreadable submission degrades to "post without images"
	// rather than aborting; the image-count gate then ends the run cleanly.
	var images []models.ImageMetadata
	var submission models.PostSubmission
	if err := t.store.DownloadJSON(event.Bucket, event.PostID+"/post.json", &submission); err != nil {
		t.logger.Warn("Failed to load post submission, continuing without images",
			zap.String("post_id", event.PostID),
			zap.Error(err),
		)
	} else {
		images = submission.ImageMetadata
	}

	if err := t.tracker.Update(ctx, event.PostID, progress.StatusStarting, 0, "Starting processing"); err != nil {
		return err
	}

	payload := &Payload{
		PostID:    event.PostID,
		UserID:    event.UserID,
		Bucket:    event.Bucket,
		Timestamp: time.Unix(event.Timestamp, 0).UTC(),
		Images:    images,
	}

	return t.orch.Run(ctx, payload)
}
