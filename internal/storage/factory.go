// Package storage builds the configured blob store.
package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"dopple/internal/adapters/storage/gdrive"
	"dopple/internal/adapters/storage/localfs"
	"dopple/internal/adapters/storage/memstore"
	"dopple/internal/adapters/storage/pgstore"
	"dopple/internal/adapters/storage/redisstore"
	"dopple/internal/adapters/storage/s3store"
	"dopple/internal/adapters/storage/sqlitestore"
	"dopple/internal/config"
	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

// Clients are shared connections a store may reuse. Either may be nil when
// the process did not open it.
type Clients struct {
	Redis    redis.UniversalClient
	Postgres *pgxpool.Pool
}

// Open returns the store named by cfg.Provider and a close func for
// resources the store owns.
func Open(ctx context.Context, cfg config.Store, clients Clients) (ports.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Provider {
	case "", "localfs":
		return localfs.New(cfg.LocalRoot), noop, nil

	case "gdrive":
		st, err := newGDrive(ctx, cfg.GDrive)
		return st, noop, err

	case "s3":
		st, err := s3store.New(s3store.Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Prefix:   cfg.S3.Prefix,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil

	case "redis":
		if clients.Redis == nil {
			return nil, noop, errors.NotConfigured("redis store")
		}
		return redisstore.New(clients.Redis, cfg.Namespace), noop, nil

	case "postgres":
		if clients.Postgres == nil {
			return nil, noop, errors.NotConfigured("postgres store")
		}
		st := pgstore.New(clients.Postgres)
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, noop, err
		}
		return st, noop, nil

	case "sqlite":
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil

	case "memory":
		return memstore.New(), noop, nil

	default:
		return nil, noop, errors.Validationf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDrive(ctx context.Context, cfg config.GDrive) (ports.Store, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(context.Background(), tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "storage.gdrive", "create drive service")
	}
	return gdrive.NewClient(srv, cfg.FolderID), nil
}
