// Package storage resolves the opaque certificate file references stored
// by the registry. The core keeps references only; the bytes live in an
// S3-compatible bucket (AWS, MinIO) and clients download them through
// short-lived presigned URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/7D-Solutions/gaugecore/config"
)

const refPrefix = "certificates/"

// NewFileRef mints a fresh opaque reference for an uploaded certificate.
// The original filename contributes only its extension; the rest of the
// key is random so references never collide or leak names.
func NewFileRef(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return refPrefix + uuid.New().String() + ext
}

// Gateway stores and resolves certificate files in one bucket.
type Gateway struct {
	bucket    string
	client    S3Client
	presigner Presigner
	uploader  *manager.Uploader
	cfg       config.S3Config
}

// NewGateway builds a gateway from the S3 configuration and verifies the
// bucket is reachable. A custom endpoint switches the client to path-style
// addressing for MinIO compatibility.
func NewGateway(ctx context.Context, cfg config.S3Config) (*Gateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.HTTPClient = &http.Client{}
		}
	})

	gw := NewGatewayWithClient(client, s3.NewPresignClient(client), cfg)
	gw.uploader = manager.NewUploader(client)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("certificate bucket %s is not accessible: %w", cfg.Bucket, err)
	}
	return gw, nil
}

// NewGatewayWithClient builds a gateway over injected S3 dependencies.
// Used by tests with mocks.
func NewGatewayWithClient(client S3Client, presigner Presigner, cfg config.S3Config) *Gateway {
	return &Gateway{
		bucket:    cfg.Bucket,
		client:    client,
		presigner: presigner,
		cfg:       cfg,
	}
}

// Store uploads certificate bytes under the reference. Large files go
// through the upload manager when available.
func (g *Gateway) Store(ctx context.Context, fileRef string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(fileRef),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if g.uploader != nil {
		if _, err := g.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("failed to upload certificate %s: %w", fileRef, err)
		}
		return nil
	}
	if _, err := g.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload certificate %s: %w", fileRef, err)
	}
	return nil
}

// Exists reports whether the reference resolves to a stored object.
func (g *Gateway) Exists(ctx context.Context, fileRef string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(fileRef),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check certificate %s: %w", fileRef, err)
	}
	return true, nil
}

// Fetch opens the stored object for reading. The caller closes the body.
func (g *Gateway) Fetch(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(fileRef),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch certificate %s: %w", fileRef, err)
	}
	return out.Body, nil
}

// DownloadURL returns a presigned URL for the reference, valid for the
// configured TTL.
func (g *Gateway) DownloadURL(ctx context.Context, fileRef string) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(fileRef),
	}, func(o *s3.PresignOptions) {
		o.Expires = g.cfg.PresignTTL
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign certificate %s: %w", fileRef, err)
	}
	return req.URL, nil
}

// Delete removes the stored object. Soft-deleted certificates keep their
// bytes; this is for administrative cleanup only.
func (g *Gateway) Delete(ctx context.Context, fileRef string) error {
	if _, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(fileRef),
	}); err != nil {
		return fmt.Errorf("failed to delete certificate %s: %w", fileRef, err)
	}
	return nil
}
