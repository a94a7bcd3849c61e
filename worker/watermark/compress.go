package watermark

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxBlobSizeBytes is the Bluesky blob size limit (976.56KB).
const MaxBlobSizeBytes = 1000000

// CompressToLimit re-encodes an image as JPEG with decreasing quality until
// it fits under maxSize. Images already under the limit pass through
// untouched, so a PNG stays a PNG unless it has to shrink.
func CompressToLimit(data []byte, maxSize int) ([]byte, error) {
	if len(data) <= maxSize {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	for quality := 90; quality >= 10; quality -= 5 {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg (quality %d): %w", quality, err)
		}
		if buf.Len() <= maxSize {
			return buf.Bytes(), nil
		}
	}

	return nil, fmt.Errorf("could not compress image under %d bytes", maxSize)
}

// ContentTypeForKey maps an object key to the MIME type used when storing
// or uploading its bytes.
func ContentTypeForKey(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
