package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	storage "github.com/supabase-community/storage-go"
)

// Client wraps the object store holding submissions, raw and watermarked
// images, and the rendered public pages.
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

func (c *Client) Download(bucket, path string) ([]byte, error) {
	data, err := c.client.DownloadFile(bucket, path)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// DownloadJSON fetches bucket/path and unmarshals it into v.
func (c *Client) DownloadJSON(bucket, path string, v any) error {
	data, err := c.Download(bucket, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", bucket, path, err)
	}
	return nil
}

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

// PublicURL builds the stable public URL for an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, path)
}
