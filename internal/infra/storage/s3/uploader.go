package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"messenger/internal/domain/chat"
)

// Uploader stores attachment payloads and returns the public URL plus
// the attachment classification clients render by.
type Uploader interface {
	UploadAttachment(ctx context.Context, conversationID, filename string, size int64, reader io.Reader) (chat.Attachment, error)
}

// Client wraps a MinIO/S3 client for attachment storage.
type Client struct {
	bucket         string
	publicBaseURL  string
	client         *minio.Client
	logger         *slog.Logger
	bucketInitOnce sync.Once
	bucketInitErr  error
}

// NewClient configures an attachment uploader against an S3-compatible
// endpoint.
func NewClient(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, logger *slog.Logger) (*Client, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), opts)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}

	return &Client{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        minioClient,
		logger:        logger,
	}, nil
}

// UploadAttachment stores the payload under a per-conversation key and
// returns the attachment ready to embed in a send request. Size limits
// are enforced by the HTTP layer before the reader gets here.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, filename string, size int64, reader io.Reader) (chat.Attachment, error) {
	if reader == nil {
		return chat.Attachment{}, errors.New("s3: reader is required")
	}
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return chat.Attachment{}, errors.New("s3: filename is required")
	}
	if err := c.ensureBucket(ctx); err != nil {
		return chat.Attachment{}, err
	}

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("attachments/%s/%s-%s", conversationID, uuid.NewString(), filename)

	_, err := c.client.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("s3: put object: %w", err)
	}

	publicURL := c.objectURL(key)
	if c.logger != nil {
		c.logger.Info("attachment uploaded", "bucket", c.bucket, "key", key, "size", size)
	}
	return chat.Attachment{
		Type:     classify(contentType),
		URL:      publicURL,
		Filename: filename,
		Size:     size,
	}, nil
}

// NoopUploader fails fast when object storage is not configured.
type NoopUploader struct{}

func (NoopUploader) UploadAttachment(context.Context, string, string, int64, io.Reader) (chat.Attachment, error) {
	return chat.Attachment{}, errors.New("s3 uploader is not configured")
}

func classify(contentType string) chat.AttachmentType {
	if strings.HasPrefix(contentType, "image/") {
		return chat.AttachmentImage
	}
	return chat.AttachmentFile
}

func (c *Client) ensureBucket(ctx context.Context) error {
	c.bucketInitOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			c.bucketInitErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			c.bucketInitErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		if err := c.allowPublicRead(ctx); err != nil {
			c.bucketInitErr = err
		}
	})
	return c.bucketInitErr
}

func (c *Client) allowPublicRead(ctx context.Context) error {
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, c.bucket)
	if err := c.client.SetBucketPolicy(ctx, c.bucket, policy); err != nil {
		return fmt.Errorf("s3: set bucket policy: %w", err)
	}
	return nil
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicBaseURL, c.bucket, strings.TrimLeft(key, "/"))
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ Uploader = (*Client)(nil)
var _ Uploader = NoopUploader{}
