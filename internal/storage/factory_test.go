package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/config"
	"dopple/internal/pkg/errors"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		cfg      config.Store
		provider string
	}{
		{name: "default localfs", cfg: config.Store{LocalRoot: dir}, provider: "localfs"},
		{name: "memory", cfg: config.Store{Provider: "memory"}, provider: "memory"},
		{name: "sqlite", cfg: config.Store{Provider: "sqlite", SQLitePath: filepath.Join(dir, "db", "dopple.db")}, provider: "sqlite"},
		{name: "s3", cfg: config.Store{Provider: "s3", S3: config.S3{Bucket: "b", Region: "us-east-1"}}, provider: "s3"},
		{name: "gdrive", cfg: config.Store{Provider: "gdrive", GDrive: config.GDrive{ClientID: "id", ClientSecret: "s", RefreshToken: "r"}}, provider: "gdrive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, closeFn, err := Open(context.Background(), tt.cfg, Clients{})
			require.NoError(t, err)
			defer closeFn()
			assert.Equal(t, tt.provider, st.Provider())
		})
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Store
		code errors.Code
	}{
		{name: "unknown", cfg: config.Store{Provider: "ftp"}, code: errors.CodeValidation},
		{name: "redis without client", cfg: config.Store{Provider: "redis"}, code: errors.CodeNotConfigured},
		{name: "postgres without pool", cfg: config.Store{Provider: "postgres"}, code: errors.CodeNotConfigured},
		{name: "s3 without bucket", cfg: config.Store{Provider: "s3"}, code: errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Open(context.Background(), tt.cfg, Clients{})
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}
