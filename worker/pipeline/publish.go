package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"provenancePoster/worker/bluesky"
	"provenancePoster/worker/facets"
	"provenancePoster/worker/models"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/watermark"
)

var errEmptyText = errors.New("post submission has no text")

// publish creates the external post: it loads the submission, authenticates
// with the decrypted credential, computes facets, uploads the watermarked
// images, and writes the post record to the user's repo. The user id is
// taken from the stored submission, not the queue message, so a stale or
// forged message cannot publish as someone else.
func (o *Orchestrator) publish(ctx context.Context, p *Payload) error {
	if err := p.validateBase(); err != nil {
		return err
	}

	if err := o.tracker.Update(ctx, p.PostID, progress.StatusPosting, 35, "Posting to Bluesky"); err != nil {
		return err
	}

	var submission models.PostSubmission
	if err := o.store.DownloadJSON(p.Bucket, p.PostID+"/post.json", &submission); err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if submission.Text == "" {
		return errEmptyText
	}
	p.UserID = submission.UserID

	user, err := o.repo.GetUser(ctx, submission.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	password, err := o.vault.Decrypt(user.CredentialCiphertext)
	if err != nil {
		return fmt.Errorf("decrypt credential: %w", err)
	}

	social := o.newSocial()
	if err := social.Login(ctx, user.Handle, password); err != nil {
		return fmt.Errorf("bluesky login: %w", err)
	}
	if err := o.tracker.Update(ctx, p.PostID, progress.StatusPosting, 40, "Authenticated with Bluesky"); err != nil {
		return err
	}

	facetList, err := facets.Extract(ctx, submission.Text, social)
	if err != nil {
		return fmt.Errorf("extract facets: %w", err)
	}

	embed, err := o.uploadImages(ctx, p, &submission, social)
	if err != nil {
		return err
	}

	if err := o.tracker.Update(ctx, p.PostID, progress.StatusPosting, 60, "Publishing post"); err != nil {
		return err
	}

	postedAt := time.Now().UTC()
	record := bluesky.PostRecord{
		Text:      submission.Text,
		Facets:    facetList,
		Embed:     embed,
		CreatedAt: postedAt.Format(time.RFC3339),
	}
	if len(submission.ContentLabels) > 0 {
		record.Labels = bluesky.NewSelfLabels(submission.ContentLabels)
	}

	uri, _, err := social.CreatePost(ctx, record)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}

	p.ExternalPostURI = uri
	p.ExternalPostID = recordKeyFromURI(uri)
	p.ExternalHandle = user.Handle
	p.PostedAt = postedAt

	o.logger.Info("Post published",
		zap.String("post_id", p.PostID),
		zap.String("uri", uri),
	)
	return o.tracker.Update(ctx, p.PostID, progress.StatusPosting, 70, "Posted to Bluesky")
}

func (o *Orchestrator) uploadImages(ctx context.Context, p *Payload, submission *models.PostSubmission, social SocialClient) (*bluesky.ImagesEmbed, error) {
	if len(submission.ImageMetadata) == 0 {
		return nil, nil
	}

	images := make([]bluesky.EmbedImage, 0, len(submission.ImageMetadata))
	for _, img := range submission.ImageMetadata {
		key := imageKey(p.PostID, img)
		data, err := o.store.Download(p.Bucket, key)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", img.Index, err)
		}

		blob, err := social.UploadBlob(ctx, data, watermark.ContentTypeForKey(key))
		if err != nil {
			return nil, fmt.Errorf("image %d: upload blob: %w", img.Index, err)
		}

		embedImage := bluesky.EmbedImage{
			Alt:   img.AltText,
			Image: blob,
		}
		// Aspect ratio is cosmetic; an undecodable image still publishes.
		if decoded, err := imaging.Decode(bytes.NewReader(data)); err == nil {
			bounds := decoded.Bounds()
			embedImage.AspectRatio = &bluesky.AspectRatio{
				Width:  bounds.Dx(),
				Height: bounds.Dy(),
			}
		}
		images = append(images, embedImage)
	}

	return bluesky.NewImagesEmbed(images), nil
}

// recordKeyFromURI extracts the record key from an AT-URI like
// at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b.
func recordKeyFromURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || idx == len(uri)-1 {
		return uri
	}
	return uri[idx+1:]
}

// externalPostURL converts an AT-URI into the public web URL for a post.
func externalPostURL(handle, uri string) string {
	return "https://bsky.app/profile/" + handle + "/post/" + recordKeyFromURI(uri)
}
