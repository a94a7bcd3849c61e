package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"provenancePoster/worker/models"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/render"
	"provenancePoster/worker/repository"
	"provenancePoster/worker/watermark"
)

var errNotPublished = errors.New("payload carries no external post uri")

// generateProvenance renders the public verification page and writes the
// durable post record. The record is created only here, after the external
// publish committed, which is what makes "a post record exists iff the
// publish succeeded" hold.
func (o *Orchestrator) generateProvenance(ctx context.Context, p *Payload) error {
	if err := p.validateBase(); err != nil {
		return err
	}
	if p.ExternalPostURI == "" {
		return errNotPublished
	}

	if err := o.tracker.Update(ctx, p.PostID, progress.StatusGenerating, 75, "Generating provenance page"); err != nil {
		return err
	}

	var submission models.PostSubmission
	if err := o.store.DownloadJSON(p.Bucket, p.PostID+"/post.json", &submission); err != nil {
		return fmt.Errorf("load submission: %w", err)
	}

	user, err := o.repo.GetUser(ctx, submission.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	data := render.ProvenanceData{
		AppName:         o.appName,
		PostID:          p.PostID,
		Handle:          user.Handle,
		Text:            submission.Text,
		ContentLabels:   submission.ContentLabels,
		ExternalPostURI: p.ExternalPostURI,
		ExternalPostURL: externalPostURL(user.Handle, p.ExternalPostURI),
		PostedAt:        p.PostedAt,
		CreatedAt:       submission.CreatedAt,
		WatermarkMethod: watermark.Method,
		EncodedID:       p.PostID,
	}
	for _, img := range submission.ImageMetadata {
		data.Images = append(data.Images, render.ProvenanceImage{
			Index:   img.Index,
			AltText: img.AltText,
		})
	}

	page, err := o.renderer.ProvenancePage(data)
	if err != nil {
		return err
	}

	pagePath := "provenance/" + p.PostID + "/index.html"
	if err := o.store.Upload(o.publicBucket, pagePath, page, "text/html; charset=utf-8"); err != nil {
		return err
	}
	p.ProvenanceURL = o.store.PublicURL(o.publicBucket, pagePath)

	imageMeta, err := json.Marshal(submission.ImageMetadata)
	if err != nil {
		return fmt.Errorf("marshal image metadata: %w", err)
	}

	record := &repository.PostRecord{
		PostID:           p.PostID,
		UserID:           submission.UserID,
		ExternalHandle:   user.Handle,
		Text:             submission.Text,
		ImageMetadata:    imageMeta,
		ContentLabels:    submission.ContentLabels,
		ExternalPostURI:  p.ExternalPostURI,
		PostedAt:         p.PostedAt,
		ProvenancePageID: user.ProvenancePageID,
	}
	if err := o.repo.CreatePostRecord(ctx, record); err != nil {
		return fmt.Errorf("create post record: %w", err)
	}

	o.logger.Info("Provenance page published",
		zap.String("post_id", p.PostID),
		zap.String("url", p.ProvenanceURL),
	)
	return o.tracker.Update(ctx, p.PostID, progress.StatusGenerating, 95, "Provenance page published")
}
