package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExtractionResult is the embedder service's answer for one uploaded image.
// ExtractedID is empty when no watermark was detected.
type ExtractionResult struct {
	ExtractedID string  `json:"extractedId"`
	Method      string  `json:"method"`
	Confidence  float64 `json:"confidence"`
}

// HTTPExtractor calls the extraction counterpart of the watermark-embedding
// service: image bytes in, the decoded identifier out.
type HTTPExtractor struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPExtractor(baseURL string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Extraction runs the same model as embedding; verification is
			// interactive, so the budget is tighter than the pipeline's.
			Timeout: 2 * time.Minute,
		},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) (*ExtractionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(image))
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
		return nil, fmt.Errorf("extractor error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ExtractionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &result, nil
}
