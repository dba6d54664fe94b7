package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client with an optional endpoint override.
func NewS3Client(cfg aws.Config, endpoint *string, pathStyle bool) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
		o.UsePathStyle = pathStyle
	})
}

// S3Store stores objects in Amazon S3.
type S3Store struct {
	api S3API
}

// NewS3 wraps api.
func NewS3(api S3API) *S3Store {
	return &S3Store{api: api}
}

// Open streams the object at loc.
func (s *S3Store) Open(ctx context.Context, loc asset.Location) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, services.Wrap(services.ErrNotFound, "objectstore", "get object", loc.String(), err)
		}
		return nil, services.Wrap(services.ErrTransient, "objectstore", "get object", loc.String(), err)
	}
	return out.Body, nil
}

// Upload writes the file at src to loc.
func (s *S3Store) Upload(ctx context.Context, src string, loc asset.Location) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat upload source: %w", err)
	}
	if _, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(loc.Key)),
	}); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put object", loc.String(), err)
	}
	return nil
}
