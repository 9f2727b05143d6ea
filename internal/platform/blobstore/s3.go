package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog"
)

// S3Config selects the bucket and, for local S3-compatible servers, a custom
// endpoint.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3BlobStore stores images as S3 objects with metadata in x-amz-meta headers.
type S3BlobStore struct {
	svc    s3iface.S3API
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3BlobStore builds a client from the default AWS credential chain.
func NewS3BlobStore(cfg S3Config, logger zerolog.Logger) (*S3BlobStore, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithMaxRetries(4)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return newS3BlobStore(s3.New(sess), cfg, logger), nil
}

func newS3BlobStore(svc s3iface.S3API, cfg S3Config, logger zerolog.Logger) *S3BlobStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "intake-images/"
	}
	return &S3BlobStore{
		svc:    svc,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "s3").Str("bucket", cfg.Bucket).Logger(),
	}
}

func (s *S3BlobStore) key(id string) string {
	return s.prefix + id
}

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata:      toObjectMetadata(meta),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("blob_id", meta.ID).Msg("upload failed")
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	s.logger.Debug().Str("blob_id", meta.ID).Int64("size", meta.Size).Msg("image stored")

	out := meta
	return &out, nil
}

func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", id, err)
	}
	meta := fromObjectMetadata(id, out.Metadata, aws.StringValue(out.ContentType), aws.Int64Value(out.ContentLength))
	return out.Body, meta, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}

func (s *S3BlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("head object %s: %w", id, err)
	}
	return fromObjectMetadata(id, out.Metadata, aws.StringValue(out.ContentType), aws.Int64Value(out.ContentLength)), nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func toObjectMetadata(meta BlobMetadata) map[string]*string {
	return map[string]*string{
		"File-Name":  aws.String(meta.FileName),
		"Session-Id": aws.String(meta.SessionID),
		"Source":     aws.String(meta.Source),
		"Hash":       aws.String(meta.Hash),
		"Created-By": aws.String(meta.CreatedBy),
		"Created-At": aws.String(meta.CreatedAt.Format(time.RFC3339Nano)),
	}
}

// fromObjectMetadata reads the x-amz-meta values back. S3 may return header
// names in any case, so lookups are case-insensitive.
func fromObjectMetadata(id string, md map[string]*string, contentType string, size int64) *BlobMetadata {
	get := func(name string) string {
		for k, v := range md {
			if strings.EqualFold(k, name) {
				return aws.StringValue(v)
			}
		}
		return ""
	}

	meta := &BlobMetadata{
		ID:          id,
		FileName:    get("File-Name"),
		ContentType: contentType,
		Size:        size,
		SessionID:   get("Session-Id"),
		Source:      get("Source"),
		Hash:        get("Hash"),
		CreatedBy:   get("Created-By"),
	}
	if at, err := time.Parse(time.RFC3339Nano, get("Created-At")); err == nil {
		meta.CreatedAt = at
	}
	return meta
}
