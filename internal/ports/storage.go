package ports

import "context"

// Store is the key-value blob store holding persona records and their
// uploaded media. It offers no cross-key transactions and no locking.
//
// Implementations: localfs, gdrive, s3, redis, postgres, sqlite, memory.
type Store interface {
	// Provider names the backend, e.g. "localfs".
	Provider() string

	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get returns the blob, or an error with errors.CodeNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set creates or replaces the blob.
	Set(ctx context.Context, key string, data []byte) error
}
