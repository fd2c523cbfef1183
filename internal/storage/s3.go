package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher copies finished artifacts somewhere shareable and returns
// their public locations.
type Publisher interface {
	Publish(ctx context.Context, runID string, files []string) ([]string, error)
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Prefix    string
}

type S3 struct {
	client *minio.Client
	bucket string
	prefix string
	host   string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	scheme := "https"
	if !cfg.Secure {
		scheme = "http"
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		host:   fmt.Sprintf("%s://%s", scheme, cfg.Endpoint),
	}, nil
}

// Publish uploads each file under <prefix>/<runID>/<name>.
func (s *S3) Publish(ctx context.Context, runID string, files []string) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		key := ObjectKey(s.prefix, runID, filepath.Base(f))
		if err := s.put(ctx, key, f); err != nil {
			return urls, err
		}
		urls = append(urls, s.publicURL(key))
	}
	return urls, nil
}

func (s *S3) put(ctx context.Context, key, file string) error {
	fh, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, fh, st.Size(), minio.PutObjectOptions{
		ContentType:  contentType(file),
		UserMetadata: map[string]string{"uploaded-at": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func (s *S3) publicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.host, s.bucket, (&url.URL{Path: key}).EscapedPath())
}

// ObjectKey builds the bucket key for one artifact of a run.
func ObjectKey(prefix, runID, name string) string {
	return path.Join(prefix, runID, name)
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".mp3":
		return "audio/mpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
