// Package storage uploads downloaded media into an S3-compatible object
// store. Keys embed the video id plus its stable UUID so re-uploads are
// idempotent and never collide across channels.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/onnwee/channel-harvest/model"
	"github.com/onnwee/channel-harvest/telemetry"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// minioClient is the slice of *minio.Client this package uses, abstracted for
// unit tests.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// ClientConfig holds the object store connection settings.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // key prefix, e.g. "videos"
	UseSSL    bool
}

// Client wraps a MinIO connection scoped to one bucket and key prefix.
type Client struct {
	client minioClient
	bucket string
	prefix string
}

// NewClient connects and ensures the bucket exists, creating it when missing
// so first runs need no manual provisioning.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newClientWith(ctx, mc, cfg.Bucket, cfg.Prefix)
}

func newClientWith(ctx context.Context, mc minioClient, bucket, prefix string) (*Client, error) {
	exists, err := mc.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Client{client: mc, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Key builds the object key for a video: <prefix>/<video_id>_<uuid>.<ext>.
func (c *Client) Key(v *model.Video, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mp4"
	}
	name := fmt.Sprintf("%s_%s.%s", v.VideoID, v.UUID, ext)
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

// objectMetadata attaches the attribution fields to the stored object.
func objectMetadata(v *model.Video) map[string]string {
	meta := map[string]string{
		"video-id":  v.VideoID,
		"person-id": strconv.FormatInt(v.PersonID, 10),
		"title":     v.Title,
		"duration":  strconv.Itoa(v.Duration),
	}
	if !v.UploadDate.IsZero() {
		meta["upload-date"] = v.UploadDate.Format("2006-01-02")
	}
	return meta
}

// UploadFile pushes a downloaded media file and returns the object key.
func (c *Client) UploadFile(ctx context.Context, v *model.Video, path string) (string, error) {
	key := c.Key(v, filepath.Ext(path))
	_, err := c.client.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{
		ContentType:  "video/mp4",
		UserMetadata: objectMetadata(v),
	})
	if err != nil {
		telemetry.UploadsFailed.Inc()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	telemetry.UploadsSucceeded.Inc()
	return key, nil
}

// UploadStream pushes media from a reader of unknown length (streaming
// download mode) and returns the object key and byte count.
func (c *Client) UploadStream(ctx context.Context, v *model.Video, r io.Reader, ext string) (string, int64, error) {
	key := c.Key(v, ext)
	info, err := c.client.PutObject(ctx, c.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType:  "video/mp4",
		UserMetadata: objectMetadata(v),
	})
	if err != nil {
		telemetry.UploadsFailed.Inc()
		return "", 0, fmt.Errorf("stream upload %s: %w", key, err)
	}
	telemetry.UploadsSucceeded.Inc()
	return key, info.Size, nil
}

// Exists reports whether the video's object is already stored.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Size returns the stored object's size in bytes.
func (c *Client) Size(ctx context.Context, key string) (int64, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size, nil
}

// Delete removes an object; used by the upload compensation step.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity by probing the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("ping object store: %w", err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string { return c.bucket }
