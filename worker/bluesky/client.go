package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"provenancePoster/worker/facets"
)

const defaultPDS = "https://bsky.social"

// Client is a minimal Bluesky/AT Protocol client covering what the publish
// pipeline needs: session creation, handle resolution, blob upload, and post
// record creation.
type Client struct {
	pds        string
	httpClient *http.Client

	// populated after Login
	accessJwt string
	did       string
	handle    string
}

// NewClient creates a new Bluesky API client. If pds is empty, it defaults
// to https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds: pds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not the account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	c.handle = resp.Handle
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// ResolveHandle resolves a handle to its DID via the identity directory.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	endpoint := c.pds + "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result resolveHandleResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	return result.DID, nil
}

// BlobRef represents an AT Protocol blob reference for uploaded content.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// AspectRatio carries the pixel dimensions of an embedded image so clients
// can reserve layout space before the blob loads.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EmbedImage is one image inside an app.bsky.embed.images embed.
type EmbedImage struct {
	Alt         string       `json:"alt"`
	Image       *BlobRef     `json:"image"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// ImagesEmbed is the app.bsky.embed.images record fragment.
type ImagesEmbed struct {
	Type   string       `json:"$type"`
	Images []EmbedImage `json:"images"`
}

// SelfLabels is the com.atproto.label.defs#selfLabels record fragment.
type SelfLabels struct {
	Type   string       `json:"$type"`
	Values []LabelValue `json:"values"`
}

type LabelValue struct {
	Val string `json:"val"`
}

// PostRecord is the record body for app.bsky.feed.post.
type PostRecord struct {
	Type      string         `json:"$type"`
	Text      string         `json:"text"`
	Facets    []facets.Facet `json:"facets,omitempty"`
	Labels    *SelfLabels    `json:"labels,omitempty"`
	Embed     *ImagesEmbed   `json:"embed,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// NewImagesEmbed builds a typed images embed.
func NewImagesEmbed(images []EmbedImage) *ImagesEmbed {
	return &ImagesEmbed{Type: "app.bsky.embed.images", Images: images}
}

// NewSelfLabels builds a typed self-label set.
func NewSelfLabels(values []string) *SelfLabels {
	labels := &SelfLabels{Type: "com.atproto.label.defs#selfLabels"}
	for _, v := range values {
		labels.Values = append(labels.Values, LabelValue{Val: v})
	}
	return labels
}

// UploadBlob uploads raw image bytes as a blob and returns a reference. The
// blob is garbage-collected unless referenced by a record soon after.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*BlobRef, error) {
	if c.accessJwt == "" {
		return nil, fmt.Errorf("not authenticated: call Login first")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result uploadBlobResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &result.Blob, nil
}

// CreatePost writes the post record into the authenticated user's repo via
// com.atproto.repo.createRecord and returns its AT-URI and CID.
func (c *Client) CreatePost(ctx context.Context, record PostRecord) (string, string, error) {
	if c.accessJwt == "" {
		return "", "", fmt.Errorf("not authenticated: call Login first")
	}

	record.Type = "app.bsky.feed.post"
	body := createRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}

	var resp createRecordResponse
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return "", "", fmt.Errorf("create record: %w", err)
	}

	return resp.URI, resp.CID, nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type uploadBlobResponse struct {
	Blob BlobRef `json:"blob"`
}
