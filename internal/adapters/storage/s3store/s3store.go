// Package s3store keeps blobs as objects in one S3 bucket under an optional
// key prefix.
package s3store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

type Config struct {
	Bucket string
	Region string
	// Prefix is prepended to every key, e.g. "dopple/".
	Prefix string
	// Endpoint overrides the S3 endpoint for compatible stores.
	Endpoint string
}

type Store struct {
	api    s3iface.S3API
	bucket string
	prefix string
}

var _ ports.Store = (*Store)(nil)

// New builds a session from the default credential chain.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.Validation("s3 bucket is required")
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "s3store.new", "create aws session")
	}
	return NewWithAPI(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api s3iface.S3API, bucket, prefix string) *Store {
	return &Store{api: api, bucket: bucket, prefix: prefix}
}

func (s *Store) Provider() string { return "s3" }

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
		}
		return true
	})
	if err != nil {
		return nil, classify(err, "s3store.list", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return nil, classify(err, "s3store.get", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "s3store.get", "read body")
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	_, err := s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return classify(err, "s3store.set", key)
	}
	return nil
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

func classify(err error, op, key string) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, key)
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return errors.NotFound("blob", key)
	case s3.ErrCodeNoSuchBucket:
		return errors.WrapWithCode(err, errors.CodeNotConfigured, op, "bucket does not exist")
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return errors.WrapWithCode(err, errors.CodeNotConfigured, op, "s3 credentials rejected")
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return errors.WrapWithCode(err, errors.CodeResourceExhaust, op, key)
	case request.CanceledErrorCode:
		return errors.WrapWithCode(err, errors.CodeTimeout, op, key)
	default:
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, key)
	}
}
