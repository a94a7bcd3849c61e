package validation

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
)

var (
	ErrInvalidImageType = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image exceeds size limit")
	ErrTooManyImages    = errors.New("a post may carry at most 4 images")
)

// ImageFormat is the detected on-disk format of an uploaded image, derived
// from magic bytes rather than the client-supplied filename.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatGIF  ImageFormat = "gif"
	FormatWebP ImageFormat = "webp"
)

var magicBytes = map[ImageFormat][]byte{
	FormatPNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FormatJPEG: {0xFF, 0xD8, 0xFF},
	FormatGIF:  {0x47, 0x49, 0x46, 0x38},
}

// DetectImageFormat sniffs the first bytes of the file and rewinds it.
func DetectImageFormat(file multipart.File) (ImageFormat, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	for format, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return format, nil
		}
	}

	// RIFF container with a WEBP fourcc at offset 8.
	if n >= 12 && bytes.HasPrefix(buffer, []byte("RIFF")) && bytes.Equal(buffer[8:12], []byte("WEBP")) {
		return FormatWebP, nil
	}

	return "", ErrInvalidImageType
}

// Extension returns the conventional object-key extension for a format.
func (f ImageFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type used when storing the raw image.
func (f ImageFormat) ContentType() string {
	return "image/" + string(f)
}
