package s3store

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

	"dopple/internal/pkg/errors"
)

// memS3 implements the three S3 calls the store makes.
type memS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := io.ReadAll(in.Body)
	m.objects[aws.StringValue(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *memS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	m.mu.Lock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)

	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestRoundTripWithPrefix(t *testing.T) {
	ctx := context.Background()
	api := &memS3{objects: map[string][]byte{}}
	s := NewWithAPI(api, "bucket", "dopple/")

	require.NoError(t, s.Set(ctx, "personas/a.json", []byte("{}")))
	require.Contains(t, api.objects, "dopple/personas/a.json", "object not stored under prefix")

	got, err := s.Get(ctx, "personas/a.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	keys, err := s.List(ctx, "personas/")
	require.NoError(t, err)
	assert.Equal(t, []string{"personas/a.json"}, keys)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want errors.Code
	}{
		{s3.ErrCodeNoSuchKey, errors.CodeNotFound},
		{"AccessDenied", errors.CodeNotConfigured},
		{"SlowDown", errors.CodeResourceExhaust},
		{"InternalError", errors.CodeUnavailable},
	}
	for _, tt := range tests {
		err := classify(awserr.New(tt.code, "x", nil), "op", "k")
		assert.Equal(t, tt.want, errors.GetCode(err), "classify(%s)", tt.code)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewWithAPI(&memS3{objects: map[string][]byte{}}, "bucket", "")
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err), "expected not found, got %v", err)
}
