package pipeline

import (
	"context"
	"errors"
	"time"

	"provenancePoster/worker/bluesky"
	"provenancePoster/worker/models"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/render"
)

var (
	ErrInvalidPayload = errors.New("invalid pipeline payload")
)

// Payload is the execution state threaded through the pipeline steps. It is
// transient: each step validates what it needs on entry and augments the
// payload for the next step. The durable record is written by the
// provenance step, never the payload itself.
type Payload struct {
	PostID    string
	UserID    string
	Bucket    string
	Timestamp time.Time
	Images    []models.ImageMetadata

	// set by the publish step
	ExternalPostURI string
	ExternalPostID  string
	ExternalHandle  string
	PostedAt        time.Time

	// set by the provenance step
	ProvenanceURL string

	// set by the reindex step
	UserListURL string
	TotalPosts  int
}

func (p *Payload) validateBase() error {
	if p.PostID == "" || p.Bucket == "" {
		return ErrInvalidPayload
	}
	return nil
}

// ObjectStore is the blob storage contract the pipeline depends on.
type ObjectStore interface {
	Download(bucket, path string) ([]byte, error)
	DownloadJSON(bucket, path string, v any) error
	Upload(bucket, path string, data []byte, contentType string) error
	PublicURL(bucket, path string) string
}

// Tracker is the progress-record contract. Every step writes through it, and
// failing steps write a terminal error record before returning.
type Tracker interface {
	Get(ctx context.Context, taskID string) (*progress.Record, error)
	Update(ctx context.Context, taskID string, status progress.Status, pct int, message string) error
	Fail(ctx context.Context, taskID string, pct int, message string, cause error)
}

// Embedder is the opaque watermark transform: image in, marked image out.
type Embedder interface {
	Embed(ctx context.Context, image []byte, id string) ([]byte, error)
}

// CredentialVault opens the user's stored social-network credential.
type CredentialVault interface {
	Decrypt(ciphertext string) (string, error)
}

// SocialClient is one authenticated session against the social network.
type SocialClient interface {
	Login(ctx context.Context, identifier, password string) error
	ResolveHandle(ctx context.Context, handle string) (string, error)
	UploadBlob(ctx context.Context, data []byte, mimeType string) (*bluesky.BlobRef, error)
	CreatePost(ctx context.Context, record bluesky.PostRecord) (string, string, error)
}

// SocialClientFactory builds a fresh client per execution so concurrent
// pipelines never share session state.
type SocialClientFactory func() SocialClient

// Renderer produces the public HTML pages.
type Renderer interface {
	ProvenancePage(data render.ProvenanceData) ([]byte, error)
	UserListPage(data render.UserListData) ([]byte, error)
}

// Invalidator purges a CDN path. Best-effort by contract.
type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}
