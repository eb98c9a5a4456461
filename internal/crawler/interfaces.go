package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a listing page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Decoder extracts character records from raw page content.
type Decoder interface {
	Decode(body []byte) (DecodeResult, error)
}

// CheckpointStore persists stream resume markers. Each stream has exactly one
// writer, so no cross-stream coordination is required.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, stream StreamID) (Checkpoint, error)
	PutCheckpoint(ctx context.Context, stream StreamID, cp Checkpoint) error
}

// PageStore persists one page of records together with the checkpoint that
// follows it. The commit's Checkpoint carries the record count from before the
// page; the store adds the number of records it saved and returns the
// checkpoint as written. Individual record failures are reported in the
// result, not as an error.
type PageStore interface {
	CommitPage(ctx context.Context, commit PageCommit) (CommitResult, error)
}

// TechStore is the durable intermediate store a Driver writes to.
type TechStore interface {
	CheckpointStore
	PageStore
}

// RetryPolicy decides whether and when a failed fetch attempt is retried.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pacer waits between consecutive page requests.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RawSource reads back the records a stream persisted.
type RawSource interface {
	CountRecords(ctx context.Context, stream StreamID) (int64, error)
	// ScanRecords visits every record of the stream. Sequenced streams are
	// visited in sequence order, others in entity order.
	ScanRecords(ctx context.Context, stream StreamID, fn func(RawRecord) error) error
}

// CanonicalStore is the single-writer destination of a merge.
type CanonicalStore interface {
	Begin(ctx context.Context) (CanonicalTx, error)
}

// CanonicalTx is one merge pass over the canonical store. Nothing is visible
// to readers until Commit.
type CanonicalTx interface {
	// Reset removes rows left by a previous merge.
	Reset(ctx context.Context) error
	// Upsert inserts or replaces the row keyed by entity id.
	Upsert(ctx context.Context, rec CanonicalRecord) error
	// Contains reports whether a row with the entity id exists.
	Contains(ctx context.Context, entityID int64) (bool, error)
	// Insert adds a row that must not already exist.
	Insert(ctx context.Context, rec CanonicalRecord) error
	Commit() error
	Rollback() error
}
