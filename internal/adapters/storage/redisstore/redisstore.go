// Package redisstore keeps blobs as plain Redis strings under a namespace.
package redisstore

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

const DefaultNamespace = "dopple:blob:"

type Store struct {
	rdb redis.UniversalClient
	ns  string
}

var _ ports.Store = (*Store)(nil)

func New(rdb redis.UniversalClient, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{rdb: rdb, ns: namespace}
}

func (s *Store) Provider() string { return "redis" }

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, globEscape(s.ns+prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.ns))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.list", prefix)
	}
	sort.Strings(keys)
	return dedupe(keys), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.NotFound("blob", key)
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.get", key)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := s.rdb.Set(ctx, s.ns+key, data, 0).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.set", key)
	}
	return nil
}

// globEscape quotes the characters SCAN MATCH treats as patterns.
func globEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}

// SCAN may return a key more than once.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			out = append(out, k)
		}
	}
	return out
}
