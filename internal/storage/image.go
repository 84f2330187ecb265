package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrUnsupportedImage is returned for uploads that are not a known image type.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageStore names and stores profile images on an ObjectStorage backend.
type ImageStore struct {
	backend   ObjectStorage
	urlPrefix string
}

// NewImageStore returns an ImageStore whose public paths start with urlPrefix.
func NewImageStore(backend ObjectStorage, urlPrefix string) *ImageStore {
	return &ImageStore{
		backend:   backend,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}
}

// Save stores the image under a fresh time-ordered name that keeps the
// uploaded extension and returns its public path, e.g. /uploads/01HX...png.
func (s *ImageStore) Save(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := imageContentTypes[ext]
	if !ok {
		return "", ErrUnsupportedImage
	}

	key := ulid.Make().String() + ext
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}

	return s.urlPrefix + "/" + key, nil
}

// Remove deletes an image previously returned by Save.
func (s *ImageStore) Remove(ctx context.Context, publicPath string) error {
	key, ok := s.KeyFromPath(publicPath)
	if !ok {
		return fmt.Errorf("not an image path: %q", publicPath)
	}
	return s.backend.Delete(ctx, key)
}

// Open returns the stored image and its content type.
func (s *ImageStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	contentType, ok := imageContentTypes[strings.ToLower(path.Ext(key))]
	if !ok || !validKey(key) {
		return nil, "", ErrObjectNotFound
	}

	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return rc, contentType, nil
}

// KeyFromPath extracts the object key from a public path.
func (s *ImageStore) KeyFromPath(publicPath string) (string, bool) {
	key, ok := strings.CutPrefix(publicPath, s.urlPrefix+"/")
	if !ok || !validKey(key) {
		return "", false
	}
	return key, true
}
