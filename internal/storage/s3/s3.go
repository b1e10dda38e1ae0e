// Package s3 implements the S3-style storage backend: index reads go
// through the SDK directly, and ticket URLs are pre-signed GET requests
// with the byte range encoded in the Range header.
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	htstorage "github.com/htsget-community/htsget-server/internal/storage"
)

// API is the subset of the S3 client this backend calls, so tests can
// substitute a fake.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner is the subset of the S3 presign client this backend calls.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Backend serves objects from a single S3 (or S3-compatible) bucket.
type Backend struct {
	Bucket    string
	Client    API
	Presigner Presigner
	// TicketTTL bounds how long a pre-signed ticket URL remains valid.
	TicketTTL time.Duration
}

// New constructs a Backend for bucket using the ambient AWS credential
// chain. endpoint overrides the default S3 endpoint when non-empty, for use
// against S3-compatible servers.
func New(ctx context.Context, bucket, endpoint string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &Backend{
		Bucket:    bucket,
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		TicketTTL: 15 * time.Minute,
	}, nil
}

// Head implements storage.Backend.
func (b *Backend) Head(ctx context.Context, key string) (int64, error) {
	out, err := b.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classify(err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// GetRange implements storage.Backend.
func (b *Backend) GetRange(ctx context.Context, key string, r htstorage.ByteRange) (io.ReadCloser, error) {
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", r.First, r.Last)),
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.Body, nil
}

// TicketURL implements storage.Backend. It returns a pre-signed GET URL
// with the range baked into the request; no Range header is needed by the
// client.
func (b *Backend) TicketURL(ctx context.Context, key string, r htstorage.ByteRange) (htstorage.Url, error) {
	req, err := b.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", r.First, r.Last)),
	}, func(o *s3.PresignOptions) {
		o.Expires = b.TicketTTL
	})
	if err != nil {
		return htstorage.Url{}, classify(err)
	}
	return htstorage.Url{URL: req.URL}, nil
}

func classify(err error) error {
	type apiError interface{ ErrorCode() string }
	if ae, ok := err.(apiError); ok {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return htstorage.NewError(htstorage.NotFound, "s3", err)
		case "AccessDenied":
			return htstorage.NewError(htstorage.PermissionDenied, "s3", err)
		}
	}
	return htstorage.NewError(htstorage.Transient, "s3", err)
}
