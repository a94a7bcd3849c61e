package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Invalidator issues purge requests against the CDN in front of the public
// bucket. Callers treat failures as degraded-mode, not fatal: a stale cached
// listing page is acceptable, a failed publish is not.
type Invalidator struct {
	purgeURL   string
	httpClient *http.Client
}

func NewInvalidator(purgeURL string) *Invalidator {
	return &Invalidator{
		purgeURL: purgeURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type purgeRequest struct {
	Paths []string `json:"paths"`
}

// Invalidate purges exactly one path. A configured empty endpoint turns the
// invalidator into a no-op for local development.
func (i *Invalidator) Invalidate(ctx context.Context, path string) error {
	if i.purgeURL == "" {
		return nil
	}

	payload, err := json.Marshal(purgeRequest{Paths: []string{path}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.purgeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("purge error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
