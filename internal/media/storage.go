// Package media handles uploaded photo and voice files: object storage
// access and image downscaling.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage wraps the object-storage client for media files. Photos and
// voice recordings live in separate buckets.
type Storage struct {
	client      *minio.Client
	publicBase  string
	photoBucket string
	voiceBucket string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	PublicBase  string
	PhotoBucket string
	VoiceBucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	publicBase := cfg.PublicBase
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = scheme + "://" + cfg.Endpoint
	}

	return &Storage{
		client:      client,
		publicBase:  strings.TrimRight(publicBase, "/"),
		photoBucket: cfg.PhotoBucket,
		voiceBucket: cfg.VoiceBucket,
	}, nil
}

// EnsureBuckets creates the photo and voice buckets if they do not exist.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.photoBucket, s.voiceBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PhotoBucket and VoiceBucket report the configured bucket names.
func (s *Storage) PhotoBucket() string { return s.photoBucket }
func (s *Storage) VoiceBucket() string { return s.voiceBucket }

// ObjectName builds the storage key for a new upload. Keys are scoped by
// user so listing a user's files never touches another user's objects.
func ObjectName(userID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%d.%s", userID, time.Now().UnixNano(), ext)
}

// Upload writes data to the bucket and returns the public URL.
func (s *Storage) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return s.PublicURL(bucket, object), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Storage) Remove(ctx context.Context, bucket, object string) error {
	err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, object, err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for an object.
func (s *Storage) PublicURL(bucket, object string) string {
	return s.publicBase + "/" + bucket + "/" + object
}

// ObjectFromURL parses a public URL back into bucket and object key.
// Returns ok=false for URLs that do not point at this storage.
func (s *Storage) ObjectFromURL(fileURL string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(fileURL, s.publicBase+"/") {
		return "", "", false
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", "", false
	}
	p := strings.TrimPrefix(path.Clean(u.Path), "/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
