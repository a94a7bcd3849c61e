package models

import "time"

// ImageMetadata describes one uploaded image, 1-based index matching the
// object key {postId}/image{Index}.{Extension}.
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

// PostSubmission is the immutable submission document stored at
// {postId}/post.json by the API service.
type PostSubmission struct {
	PostID              string              `json:"postId"`
	UserID              string              `json:"userId"`
	Text                string              `json:"text"`
	ContentLabels       []string            `json:"contentLabels,omitempty"`
	InteractionSettings InteractionSettings `json:"interactionSettings"`
	ImageMetadata       []ImageMetadata     `json:"imageMetadata"`
	CreatedAt           time.Time           `json:"createdAt"`
	DeletedAt           *time.Time          `json:"deletedAt,omitempty"`
}
