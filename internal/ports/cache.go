package ports

import (
	"context"
	"time"
)

// Cache is a small TTL-bound key-value capability. The workflow engine uses it
// for the self-evaluation preview, keyed by (defect, requester); entries must
// expire rather than linger as ambient session state.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
