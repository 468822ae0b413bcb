// Package objectstore is the orchestrator's collaborator for durably
// archiving a completed job's artifact manifest (final output URL plus
// every stage-exit artifact) once the job store's own row is overwritten
// or expires. The underlying object-storage and CDN services backing
// generation itself are out of scope (spec §1's "the underlying...
// services"), but a Config-homed adapter is still needed for this
// archival write.
package objectstore

import "context"

// Store is the object-storage contract the orchestrator uses to archive a
// completed job's artifact manifest.
type Store interface {
	// Put writes data under key and returns a URL for the written object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads back previously-written data by key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// New selects the GCS-backed or filesystem-backed implementation per
// config.ObjectStore.Type, mirroring the Type switch internal/config
// already validates at startup.
func New(ctx context.Context, storeType, bucket, fsDir string) (Store, error) {
	switch storeType {
	case "gcs":
		return NewGCSStore(ctx, bucket)
	default:
		return NewFSStore(fsDir)
	}
}
