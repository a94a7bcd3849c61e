package service

import (
	"context"

	"provenancePoster/api/watermark"
)

// Reasons a verification comes back negative.
const (
	ReasonNoWatermark  = "no_watermark"
	ReasonNoProvenance = "no_provenance"
)

// WatermarkExtractor decodes the identifier embedded in an image, if any.
type WatermarkExtractor interface {
	Extract(ctx context.Context, image []byte) (*watermark.ExtractionResult, error)
}

// ProvenanceStore is the slice of the storage client the verification flow
// needs to locate published provenance pages.
type ProvenanceStore interface {
	Exists(bucket, path string) (bool, error)
	PublicURL(bucket, path string) string
}

// VerificationResult is the outcome of checking one uploaded image. Found is
// true only when the image carries a watermark AND a provenance page exists
// for the decoded id; Reason explains the negative cases.
type VerificationResult struct {
	Found         bool
	PostID        string
	Method        string
	Confidence    float64
	ProvenanceURL string
	Reason        string
}

type VerificationService struct {
	extractor    WatermarkExtractor
	store        ProvenanceStore
	publicBucket string
}

func NewVerificationService(extractor WatermarkExtractor, store ProvenanceStore, publicBucket string) *VerificationService {
	return &VerificationService{
		extractor:    extractor,
		store:        store,
		publicBucket: publicBucket,
	}
}

// Verify decodes the watermark from an uploaded image and resolves it to a
// provenance page. A watermark whose id has no published page is reported as
// not found rather than an error: the id may be forged, or the post deleted.
func (s *VerificationService) Verify(ctx context.Context, image []byte) (*VerificationResult, error) {
	extraction, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Method:     extraction.Method,
		Confidence: extraction.Confidence,
	}
	if extraction.ExtractedID == "" {
		result.Reason = ReasonNoWatermark
		return result, nil
	}

	result.PostID = extraction.ExtractedID

	pagePath := "provenance/" + extraction.ExtractedID + "/index.html"
	exists, err := s.store.Exists(s.publicBucket, pagePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		result.Reason = ReasonNoProvenance
		return result, nil
	}

	result.Found = true
	result.ProvenanceURL = s.store.PublicURL(s.publicBucket, pagePath)
	return result, nil
}
