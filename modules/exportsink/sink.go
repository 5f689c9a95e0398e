// Package exportsink stores exported files locally or in S3-compatible object storage.
package exportsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/guarzo/qualityapi/common/config"
)

const ContentTypeCSV = "text/csv; charset=utf-8"

var ErrBadName = errors.New("invalid export name")

// Sink is a destination for exported files. Put returns where the file ended up.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
}

// New picks object storage when it is configured and the local directory otherwise.
func New(ctx context.Context, cfg config.ExportConfig) (Sink, error) {
	if cfg.MinIO.Enabled() {
		return NewMinIOSink(ctx, cfg.MinIO)
	}
	return NewDirSink(cfg.Dir)
}

func cleanName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return name, nil
}

// DirSink writes files under a base directory.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Put writes through a temporary file so a failed export never leaves a partial file behind.
func (d *DirSink) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(d.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	dest := filepath.Join(d.dir, name)
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move %s into place: %w", name, err)
	}
	return dest, nil
}

// MinIOSink uploads to a bucket on an S3-compatible endpoint.
type MinIOSink struct {
	client *minio.Client
	bucket string
}

// NewMinIOSink connects and makes sure the bucket exists.
func NewMinIOSink(ctx context.Context, cfg config.MinIOConfig) (*MinIOSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &MinIOSink{client: mc, bucket: cfg.Bucket}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

func (s *MinIOSink) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	key, err := cleanName(name)
	if err != nil {
		return "", err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), info.Bucket, info.Key), nil
}
