/*
Package sync implements the two-loop synchronization engine: a delta
pull loop that fetches reference-data changes in dependency order, and
a drain loop that pushes queued operations once the terminal is
online. Grounded on the onedrive-go sync engine (internal/sync/engine.go,
internal/sync/delta.go) for the two-loop, cursor-driven shape, and on
api/scheduler.go's ticker plumbing for running them.
*/
package sync

import (
	"context"
	"encoding/json"

	"github.com/fieldstack/terminal-core/queue"
)

// DatasetPage is one delta-pull response for a single dataset key.
// Records holds the raw JSON array; the engine decodes it per dataset
// because each catalog entity has its own typed Upsert method.
type DatasetPage struct {
	Version    int64
	Records    json.RawMessage
	DeletedIDs []string
}

// Backend is the HTTP surface the sync engine talks to. It embeds
// queue.Backend so the same client value drives both the delta pull
// loop and queue.Queue.Drain.
type Backend interface {
	queue.Backend
	PullDataset(ctx context.Context, key string, modifiedSince int64) (DatasetPage, error)
	VerifyIdentity(ctx context.Context, apiKey string) error
}
