// Package storage stores media objects in a gocloud.dev blob bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"playforge/internal/models"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Bucket is a media bucket addressed by object key.
type Bucket struct {
	b          *blob.Bucket
	publicBase string
}

// Open opens the bucket at url (file:///path, mem://, or any registered scheme).
// publicBase is prepended to keys by PublicURL.
func Open(ctx context.Context, url, publicBase string) (*Bucket, error) {
	if strings.HasPrefix(url, "file://") {
		url = withCreateDir(url)
	}
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", url, err)
	}
	if publicBase != "" && !strings.HasSuffix(publicBase, "/") {
		publicBase += "/"
	}
	return &Bucket{b: b, publicBase: publicBase}, nil
}

func withCreateDir(url string) string {
	if strings.Contains(url, "create_dir") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&create_dir=true"
	}
	return url + "?create_dir=true"
}

// Put writes data under key.
func (s *Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := &blob.WriterOptions{ContentType: contentType, CacheControl: "public, max-age=31536000, immutable"}
	if err := s.b.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Get returns the bytes and content type stored under key.
func (s *Bucket) Get(ctx context.Context, key string) ([]byte, string, error) {
	r, err := s.b.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", models.NewNotFoundError("Object", key)
		}
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, r.ContentType(), nil
}

// Exists reports whether key is present.
func (s *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	return s.b.Exists(ctx, key)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Bucket) Delete(ctx context.Context, key string) error {
	err := s.b.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PublicURL is the client-facing URL of key.
func (s *Bucket) PublicURL(key string) string {
	return s.publicBase + strings.TrimPrefix(key, "/")
}

// Close releases the underlying bucket.
func (s *Bucket) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.Close()
}

// IsNotFound reports whether err came from a missing object.
func IsNotFound(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeNotFound
}
