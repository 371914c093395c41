// Package store persists downloaded resource payloads keyed by URL.
//
// Every backend is best-effort: storage failures are logged and counted here and reach the
// caller only as a cache miss or a returned error, never as a panic or a partial row.
package store

import (
	"context"

	"github.com/avalanche-app/rockclient/pkg/model"
)

// ResourceStore is the persistent resource cache.
type ResourceStore interface {
	// Get returns the entry for url, or false on a miss or a storage error.
	Get(ctx context.Context, url string) (*model.CachedResource, bool)
	// Put upserts r by URL. Concurrent writers of the same URL converge on one of the payloads.
	Put(ctx context.Context, r *model.CachedResource) error
	// ClearAll removes every entry.
	ClearAll(ctx context.Context) error
	// EnsureSchema creates the backing table if needed; safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// TableName is the resource table used by the SQL backends.
const TableName = "WebResource"
