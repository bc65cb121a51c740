package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

// fakeS3 implements the object calls S3Store makes against an in-memory
// bucket. Listing returns pages of pageSize keys.
type fakeS3 struct {
	s3iface.S3API

	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	puts     []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	f.puts = append(f.puts, aws.StringValue(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	for start := 0; start < len(keys) || start == 0; start += f.pageSize {
		end := min(start+f.pageSize, len(keys))
		page := &s3.ListObjectsV2Output{}
		for _, k := range keys[start:end] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		if !fn(page, end >= len(keys)) || end >= len(keys) {
			return nil
		}
	}
	return nil
}

func (f *fakeS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.StringValue(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Store_Conformance(t *testing.T) {
	fake := newFakeS3()
	s, err := NewS3StoreWithClient(fake, "bucket", "db/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/db/", s.ID())

	runConformance(t, s)
}

func TestS3Store_PutsInEntryOrder(t *testing.T) {
	fake := newFakeS3()
	s, err := NewS3StoreWithClient(fake, "bucket", "db/", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), sampleEntries()))
	assert.Equal(t, []string{"db/00000002", "db/00000003", "db/00000004", "db/00000000", "db/00000001"}, fake.puts)
}

func TestS3Store_MalformedObject(t *testing.T) {
	fake := newFakeS3()
	fake.objects["db/00000005"] = []byte("not json")
	s, err := NewS3StoreWithClient(fake, "bucket", "db/", nil, nil)
	require.NoError(t, err)

	_, err = s.Restore(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, storeerrors.IsMalformed(err))

	addrs, err := s.ListAddresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Address{5}, addrs)
}

func TestS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3StoreWithClient(newFakeS3(), "", "", nil, nil)
	assert.Error(t, err)
}
