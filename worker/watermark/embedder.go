package watermark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Method is the identifier of the embedding scheme, surfaced on provenance
// pages so verifiers know how to extract the mark.
const Method = "trustmark_P_BCH5"

// HTTPEmbedder calls the external watermark-embedding service. The transform
// itself is opaque: image bytes in, watermarked image bytes out, with the
// post id as the encoded payload.
type HTTPEmbedder struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPEmbedder(baseURL string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Model inference on large images is slow; the pipeline's own
			// deadline still bounds the overall execution.
			Timeout: 5 * time.Minute,
		},
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, image []byte, id string) ([]byte, error) {
	endpoint := e.baseURL + "/embed?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
