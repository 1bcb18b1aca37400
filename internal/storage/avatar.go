package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsupportedImage is returned for uploads that are not jpeg or png images.
var ErrUnsupportedImage = errors.New("storage: only .png, .jpg and .jpeg format allowed")

var allowedImages = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// AvatarStore persists avatar images and returns the location clients load them from.
type AvatarStore interface {
	Save(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error)
	// Delete removes an avatar previously returned by Save. Unknown locations are ignored.
	Delete(ctx context.Context, location string) error
}

// ValidateImage checks both the file extension and the declared MIME type and returns the
// normalised extension.
func ValidateImage(filename, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	expected, ok := allowedImages[ext]
	if !ok {
		return "", ErrUnsupportedImage
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrUnsupportedImage
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg"
	}
	if mediaType != expected {
		return "", ErrUnsupportedImage
	}
	return ext, nil
}

// NewAvatarName returns a unique object name with the given extension.
func NewAvatarName(ext string) string {
	return "avatar-" + uuid.NewString() + ext
}
