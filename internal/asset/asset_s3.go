package asset

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client the storage needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage keeps assets as objects under prefix in one bucket.
type S3Storage struct {
	cli    S3API
	bucket string
	prefix string
}

// NewS3Storage stores assets in bucket under prefix.
func NewS3Storage(cli S3API, bucket, prefix string) *S3Storage {
	return &S3Storage{cli: cli, bucket: bucket, prefix: prefix}
}

func (s *S3Storage) key(ref string) *string {
	return aws.String(path.Join(s.prefix, ref))
}

func (s *S3Storage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	ref, err := newRef(name)
	if err != nil {
		return "", err
	}
	_, err = s.cli.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(ref),
		Body:   r,
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *S3Storage) Delete(ctx context.Context, ref string) error {
	if !validRef(ref) {
		return ErrInvalidRef
	}
	_, err := s.cli.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(ref),
	})
	return err
}

func (s *S3Storage) Retrieve(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, ErrInvalidRef
	}
	out, err := s.cli.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(ref),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}
