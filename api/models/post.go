package models

import (
	"time"
)

// ContentLabel is a self-applied moderation tag attached to a post.
type ContentLabel string

const (
	LabelPorn         ContentLabel = "porn"
	LabelSexual       ContentLabel = "sexual"
	LabelNudity       ContentLabel = "nudity"
	LabelGraphicMedia ContentLabel = "graphic-media"
)

// AllowedLabels is the set of labels accepted at submission time.
var AllowedLabels = map[ContentLabel]bool{
	LabelPorn:         true,
	LabelSexual:       true,
	LabelNudity:       true,
	LabelGraphicMedia: true,
}

// ImageMetadata describes one uploaded image. Index is 1-based and matches
// the object key {postId}/image{Index}.{Extension}.
type ImageMetadata struct {
	Index     int    `json:"index"`
	Format    string `json:"format"`
	Extension string `json:"extension"`
	AltText   string `json:"altText"`
}

// InteractionSettings controls who may interact with the published post.
type InteractionSettings struct {
	ReplyPolicy string `json:"replyPolicy"`
}

// PostSubmission is the immutable record written to the object store at
// {postId}/post.json when a user submits a post. Soft-deleted via DeletedAt.
type PostSubmission struct {
	PostID              string              `json:"postId"`
	UserID              string              `json:"userId"`
	Text                string              `json:"text"`
	ContentLabels       []ContentLabel      `json:"contentLabels,omitempty"`
	InteractionSettings InteractionSettings `json:"interactionSettings"`
	ImageMetadata       []ImageMetadata     `json:"imageMetadata"`
	CreatedAt           time.Time           `json:"createdAt"`
	DeletedAt           *time.Time          `json:"deletedAt,omitempty"`
}

// MaxPostTextLength is the Bluesky grapheme-agnostic character limit we
// enforce at submission.
const MaxPostTextLength = 300

// MaxImagesPerPost matches the Bluesky image embed limit.
const MaxImagesPerPost = 4
