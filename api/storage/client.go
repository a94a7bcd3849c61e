package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	storage "github.com/supabase-community/storage-go"
)

// Client wraps the object store used for post submissions and raw images.
type Client struct {
	client  *storage.Client
	baseURL string
}

func NewClient(storageURL, serviceKey string) *Client {
	baseURL := storageURL
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		client:  storage.NewClient(baseURL+"/storage/v1", serviceKey, nil),
		baseURL: baseURL,
	}
}

// Upload writes data at bucket/path, replacing any existing object.
func (c *Client) Upload(bucket, path string, data []byte, contentType string) error {
	upsert := true
	_, err := c.client.UploadFile(bucket, path, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// UploadJSON marshals v and stores it at bucket/path.
func (c *Client) UploadJSON(bucket, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, path, err)
	}
	return c.Upload(bucket, path, data, "application/json")
}

// Exists reports whether an object is readable at bucket/path. An unreadable
// object counts as absent; the verification flow degrades to not-found.
func (c *Client) Exists(bucket, path string) (bool, error) {
	if _, err := c.client.DownloadFile(bucket, path); err != nil {
		return false, nil
	}
	return true, nil
}

// PublicURL builds the stable public URL for an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, path)
}
