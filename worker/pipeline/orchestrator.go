package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"provenancePoster/worker/models"
	"provenancePoster/worker/pool"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/repository"
	"provenancePoster/worker/watermark"
)

// MaxImageCount bounds both the accepted image count and the watermark
// fan-out concurrency.
const MaxImageCount = 4

type state int

const (
	stateCheckImageCount state = iota
	stateParallelWatermark
	statePublish
	stateGenerateProvenance
	stateUpdateUserList
)

// Orchestrator drives the fixed post-processing sequence for one post:
// watermark all images in parallel, publish, render the provenance page,
// rebuild the user's listing page. Steps are strictly ordered within one
// execution and never retried; a retried publish would double-post.
type Orchestrator struct {
	store        ObjectStore
	tracker      Tracker
	repo         repository.Repository
	vault        CredentialVault
	newSocial    SocialClientFactory
	embedder     Embedder
	renderer     Renderer
	cdn          Invalidator
	fanout       *pool.WorkerPool
	publicBucket string
	appName      string
	timeout      time.Duration
	logger       *zap.Logger
}

type Options struct {
	Store        ObjectStore
	Tracker      Tracker
	Repo         repository.Repository
	Vault        CredentialVault
	NewSocial    SocialClientFactory
	Embedder     Embedder
	Renderer     Renderer
	CDN          Invalidator
	PublicBucket string
	AppName      string
	Timeout      time.Duration
}

func NewOrchestrator(opts Options, logger *zap.Logger) *Orchestrator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Orchestrator{
		store:        opts.Store,
		tracker:      opts.Tracker,
		repo:         opts.Repo,
		vault:        opts.Vault,
		newSocial:    opts.NewSocial,
		embedder:     opts.Embedder,
		renderer:     opts.Renderer,
		cdn:          opts.CDN,
		fanout:       pool.New(MaxImageCount),
		publicBucket: opts.PublicBucket,
		appName:      opts.AppName,
		timeout:      timeout,
		logger:       logger,
	}
}

// Run executes the state machine for one post. The whole execution is
// bounded by the configured timeout as a circuit breaker against stuck
// external calls.
func (o *Orchestrator) Run(ctx context.Context, p *Payload) error {
	if err := p.validateBase(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	st := stateCheckImageCount
	for {
		switch st {
		case stateCheckImageCount:
			n := len(p.Images)
			if n == 0 || n > MaxImageCount {
				// Image count outside [1,4] ends the execution successfully
				// without publishing. Text-only posts land here too; the
				// poll endpoint still reaches a terminal state.
				o.logger.Info("No images to process, ending pipeline",
					zap.String("post_id", p.PostID),
					zap.Int("image_count", n),
				)
				return o.tracker.Update(ctx, p.PostID, progress.StatusCompleted, 100, "Nothing to publish")
			}
			st = stateParallelWatermark

		case stateParallelWatermark:
			if err := o.watermarkAll(ctx, p); err != nil {
				o.tracker.Fail(ctx, p.PostID, 20, "Watermark embedding failed", err)
				return err
			}
			st = statePublish

		case statePublish:
			if err := o.publish(ctx, p); err != nil {
				o.tracker.Fail(ctx, p.PostID, 40, "Bluesky posting failed", err)
				return err
			}
			st = stateGenerateProvenance

		case stateGenerateProvenance:
			if err := o.generateProvenance(ctx, p); err != nil {
				o.tracker.Fail(ctx, p.PostID, 80, "Provenance generation failed", err)
				return err
			}
			st = stateUpdateUserList

		case stateUpdateUserList:
			if err := o.updateUserList(ctx, p); err != nil {
				o.tracker.Fail(ctx, p.PostID, 95, "User page update failed", err)
				return err
			}
			return o.tracker.Update(ctx, p.PostID, progress.StatusCompleted, 100, "Post published")
		}
	}
}

// watermarkAll fans out one embedding task per image with bounded
// concurrency. Fan-in is fail-fast: a post with some watermarked and some
// raw images is an inconsistent publish, so any failure fails the step.
func (o *Orchestrator) watermarkAll(ctx context.Context, p *Payload) error {
	if err := o.tracker.Update(ctx, p.PostID, progress.StatusStarting, 10,
		fmt.Sprintf("Embedding watermarks into %d images", len(p.Images))); err != nil {
		return err
	}

	tasks := make([]pool.Task, 0, len(p.Images))
	for _, img := range p.Images {
		img := img
		tasks = append(tasks, func(ctx context.Context) error {
			return o.watermarkOne(ctx, p, img)
		})
	}

	if err := o.fanout.Run(ctx, tasks); err != nil {
		return err
	}

	return o.tracker.Update(ctx, p.PostID, progress.StatusStarting, 30, "Watermarks embedded")
}

// watermarkOne downloads one image, compresses it under the blob limit,
// embeds the post id, and stores the result back at the same key so the
// publish step picks it up by convention.
func (o *Orchestrator) watermarkOne(ctx context.Context, p *Payload, img models.ImageMetadata) error {
	key := imageKey(p.PostID, img)

	data, err := o.store.Download(p.Bucket, key)
	if err != nil {
		return fmt.Errorf("image %d: %w", img.Index, err)
	}

	compressed, err := watermark.CompressToLimit(data, watermark.MaxBlobSizeBytes)
	if err != nil {
		return fmt.Errorf("image %d: %w", img.Index, err)
	}

	marked, err := o.embedder.Embed(ctx, compressed, p.PostID)
	if err != nil {
		return fmt.Errorf("image %d: embed watermark: %w", img.Index, err)
	}

	// Embedding can push the image back over the limit.
	if len(marked) > watermark.MaxBlobSizeBytes {
		marked, err = watermark.CompressToLimit(marked, watermark.MaxBlobSizeBytes)
		if err != nil {
			return fmt.Errorf("image %d: %w", img.Index, err)
		}
	}

	if err := o.store.Upload(p.Bucket, key, marked, watermark.ContentTypeForKey(key)); err != nil {
		return fmt.Errorf("image %d: %w", img.Index, err)
	}

	o.logger.Info("Watermark embedded",
		zap.String("post_id", p.PostID),
		zap.Int("image_index", img.Index),
		zap.Int("size", len(marked)),
	)
	return nil
}

func imageKey(postID string, img models.ImageMetadata) string {
	return fmt.Sprintf("%s/image%d.%s", postID, img.Index, img.Extension)
}
