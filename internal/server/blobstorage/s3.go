package blobstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fredemmott/TempFiles/internal/logging"
)

// S3Config describes an S3-compatible bucket (AWS or MinIO).
type S3Config struct {
	User     string
	Password string
	Bucket   string
	Region   string
	Endpoint string
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3 keeps blobs as objects named by their shard key.
type S3 struct {
	client s3API
	bucket string
	logger logging.Logger
}

func NewS3(ctx context.Context, c S3Config, logger logging.Logger) (*S3, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.User, c.Password, "")),
	)
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: c.Bucket, logger: logger.With("module", "s3_storage")}, nil
}

func (s *S3) Locate(id string) string {
	return "s3://" + s.bucket + "/" + ShardKey(id)
}

func (s *S3) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ShardKey(id)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, err
}

// Put uploads the staged file and removes it afterwards.
func (s *S3) Put(ctx context.Context, id string, staged *os.File) error {
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ShardKey(id)),
		Body:   staged,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", ShardKey(id), err)
	}
	if err := os.Remove(staged.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn(ctx, "could not remove staged upload", "path", staged.Name(), "error", err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ShardKey(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", ShardKey(id), fs.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *S3) Remove(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ShardKey(id)),
	})
	return err
}

func (s *S3) Walk(ctx context.Context, fn func(id string, modTime time.Time) error) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id := path.Base(key)
			if !ValidID(id) || ShardKey(id) != key {
				s.logger.Debug(ctx, "ignoring foreign object", "key", key)
				continue
			}
			if err := fn(id, aws.ToTime(obj.LastModified)); err != nil {
				return err
			}
		}
	}
	return nil
}

// PruneEmpty is a no-op: object stores have no directories.
func (s *S3) PruneEmpty(context.Context) (int, error) {
	return 0, nil
}
