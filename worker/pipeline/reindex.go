package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"provenancePoster/worker/progress"
	"provenancePoster/worker/render"
)

// updateUserList rebuilds the creator's public listing page at its stable
// provenance-page-id path, so the URL a creator shared after their first
// post keeps working for every later post.
func (o *Orchestrator) updateUserList(ctx context.Context, p *Payload) error {
	if err := p.validateBase(); err != nil {
		return err
	}
	if p.UserID == "" {
		return ErrInvalidPayload
	}

	if err := o.tracker.Update(ctx, p.PostID, progress.StatusGenerating, 97, "Updating creator page"); err != nil {
		return err
	}

	user, err := o.repo.GetUser(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	records, err := o.repo.ListUserPosts(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("list user posts: %w", err)
	}

	data := render.UserListData{
		AppName:    o.appName,
		Handle:     user.Handle,
		TotalPosts: len(records),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, record := range records {
		data.Entries = append(data.Entries, render.UserListEntry{
			PostID:          record.PostID,
			Text:            record.Text,
			ProvenanceURL:   o.store.PublicURL(o.publicBucket, "provenance/"+record.PostID+"/index.html"),
			ExternalPostURL: externalPostURL(record.ExternalHandle, record.ExternalPostURI),
			CreatedAt:       record.CreatedAt,
		})
	}

	page, err := o.renderer.UserListPage(data)
	if err != nil {
		return err
	}

	pagePath := "users/" + user.ProvenancePageID + ".html"
	if err := o.store.Upload(o.publicBucket, pagePath, page, "text/html; charset=utf-8"); err != nil {
		return err
	}

	p.UserListURL = o.store.PublicURL(o.publicBucket, pagePath)
	p.TotalPosts = len(records)

	// Best-effort purge on its own deadline: a stale cached listing page is
	// an accepted degraded mode and must never fail the step.
	go func(path string) {
		purgeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := o.cdn.Invalidate(purgeCtx, path); err != nil {
			o.logger.Warn("Cache invalidation failed",
				zap.String("post_id", p.PostID),
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}("/" + pagePath)

	o.logger.Info("User listing page updated",
		zap.String("post_id", p.PostID),
		zap.String("user_id", p.UserID),
		zap.Int("total_posts", len(records)),
	)
	return nil
}
