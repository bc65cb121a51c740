package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

// S3 accepts at most this many keys per DeleteObjects call.
const s3DeleteChunk = 1000

// S3Config holds S3 settings.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3Store keeps one object per address under a key prefix. Objects are put
// in entry order, so nodes land before the records that reference them.
type S3Store struct {
	id     string
	client s3iface.S3API
	bucket string
	prefix string
	codec  codec.Codec
	logger *zap.Logger
}

// NewS3Store builds a client from the default AWS credential chain.
func NewS3Store(cfg S3Config, c codec.Codec, logger *zap.Logger) (*S3Store, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up AWS session: %w", err)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix, c, logger)
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string, c codec.Codec, logger *zap.Logger) (*S3Store, error) {
	if bucket == "" {
		return nil, storeerrors.InvalidArgument("S3 bucket is required", nil)
	}
	if c == nil {
		c = codec.JSON()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{
		id:     fmt.Sprintf("s3://%s/%s", bucket, prefix),
		client: client,
		bucket: bucket,
		prefix: prefix,
		codec:  c,
		logger: logger,
	}, nil
}

func (s *S3Store) ID() string { return s.id }

func (s *S3Store) key(a model.Address) string {
	return s.prefix + FormatAddr(a)
}

func (s *S3Store) Store(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		data, err := s.codec.Marshal(e.Payload)
		if err != nil {
			return storeerrors.InternalError("failed to encode payload", err).WithDetail("address", e.Addr)
		}
		_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(e.Addr)),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("failed to put %s: %w", s.key(e.Addr), err)
		}
	}
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
}

func (s *S3Store) Restore(ctx context.Context, addr model.Address) (*model.Payload, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(addr)),
	})
	if isS3NotFound(err) {
		return nil, storeerrors.NotFound(s.id, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.key(addr), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key(addr), err)
	}
	p, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, storeerrors.Malformed(s.id, addr, err)
	}
	return p, nil
}

func (s *S3Store) ListAddresses(ctx context.Context) ([]model.Address, error) {
	var addrs []model.Address
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			name, ok := strings.CutPrefix(aws.StringValue(obj.Key), s.prefix)
			if !ok {
				continue
			}
			if a, ok := ParseAddr(name); ok {
				addrs = append(addrs, a)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.id, err)
	}
	slices.Sort(addrs)
	return addrs, nil
}

func (s *S3Store) Delete(ctx context.Context, addrs []model.Address) error {
	for start := 0; start < len(addrs); start += s3DeleteChunk {
		chunk := addrs[start:min(start+s3DeleteChunk, len(addrs))]
		objects := make([]*s3.ObjectIdentifier, len(chunk))
		for i, a := range chunk {
			objects[i] = &s3.ObjectIdentifier{Key: aws.String(s.key(a))}
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects from %s: %w", s.id, err)
		}
		for _, e := range out.Errors {
			if aws.StringValue(e.Code) == s3.ErrCodeNoSuchKey {
				continue
			}
			return fmt.Errorf("failed to delete %s: %s", aws.StringValue(e.Key), aws.StringValue(e.Message))
		}
	}
	return nil
}
