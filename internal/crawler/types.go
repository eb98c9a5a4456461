// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// StreamID names one independently ordered traversal of the listing.
type StreamID string

// The two traversals of the armory listing.
const (
	// StreamPlaytime orders characters by playtime, descending. It is the
	// authoritative stream and the only one that carries a rank.
	StreamPlaytime StreamID = "playtime"
	// StreamName orders characters by name, descending.
	StreamName StreamID = "name"
)

// Status represents the lifecycle state persisted in a stream checkpoint.
type Status string

// Checkpoint status values persisted in scan_progress.status.
const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusStopped     Status = "stopped"
)

// Done reports whether a stream with this status has nothing left to crawl.
// Errored streams are retried from their checkpoint on the next run.
func (s Status) Done() bool {
	return s == StatusCompleted
}

// Source labels which stream produced a canonical row.
type Source string

// Canonical row sources.
const (
	SourceA Source = "A"
	SourceB Source = "B"
)

// StreamSpec describes one stream the orchestrator hands to a Driver.
type StreamSpec struct {
	ID StreamID
	// BaseURL is the listing URL with its sort parameters; the page offset
	// is appended verbatim.
	BaseURL string
	// Sequenced streams assign a monotonic sequence id to every stored row.
	Sequenced bool
}

// PageURL returns the listing URL for the given page offset.
func (s StreamSpec) PageURL(pageIndex int) string {
	return ListingURL(s.BaseURL, pageIndex)
}

// Plan carries the page geometry discovered once per run and shared by all
// streams.
type Plan struct {
	LastPageIndex int
	TotalPages    int
	PageSize      int
}

// Checkpoint is the durable resume marker for one stream.
type Checkpoint struct {
	// LastProcessedPage is the offset of the next page to fetch.
	LastProcessedPage int
	TotalPages        int
	// RecordCount is the cumulative number of records persisted by the stream.
	RecordCount int64
	Status      Status
	LastUpdate  time.Time
}

// Record is one character row decoded from a listing page.
type Record struct {
	EntityID          int64
	ForumName         string
	DisplayName       string
	Level             int
	GearScore         int
	ItemLevel         int
	Class             string
	Race              string
	Guild             string
	KillCount         int
	AchievementPoints int
	CharOnline        bool
	AccountOnline     bool
}

// RawRecord is a Record as stored in a stream's raw table.
type RawRecord struct {
	Record
	PageNumber int
	// SequenceID is only set for sequenced streams.
	SequenceID *int64
}

// CanonicalRecord is one merged row of the final dataset.
type CanonicalRecord struct {
	Record
	Source   Source
	ScanDate time.Time
	Rank     *int64
}

// PageCommit bundles everything persisted for one page so stores can make it
// atomic.
type PageCommit struct {
	Stream     StreamID
	Sequenced  bool
	PageIndex  int
	Records    []Record
	Checkpoint Checkpoint
}

// RecordFailure captures a record that could not be persisted.
type RecordFailure struct {
	EntityID int64
	Err      error
}

// CommitResult reports the outcome of a PageCommit.
type CommitResult struct {
	Saved    int
	Failures []RecordFailure
	// Checkpoint is the checkpoint as written, including the saved count.
	Checkpoint Checkpoint
}

// FetchRequest captures everything needed to fetch a listing page.
type FetchRequest struct {
	Stream    StreamID
	PageIndex int
	URL       string
	Headers   http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	// URL is the resolved URL after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// DecodeResult is what a Decoder extracts from a page.
type DecodeResult struct {
	Records []Record
	// Found counts listing rows present on the page, including rows that
	// could not be decoded. Zero means the page is structurally broken.
	Found int
	// Skipped holds one error per row that could not be decoded.
	Skipped []error
}

// StreamResult summarizes a finished Driver run.
type StreamResult struct {
	Stream     StreamID
	Status     Status
	Checkpoint Checkpoint
	Pages      int
	Saved      int64
	// Resumed is true when the driver started past page zero.
	Resumed bool
	// AlreadyDone is true when the checkpoint was already completed.
	AlreadyDone bool
	Err         error
}

// RunStream is one row of run history: what a single stream did during one
// run.
type RunStream struct {
	RunID      uuid.UUID
	Stream     StreamID
	Status     Status
	StartPage  int
	Page       int
	Pages      int
	Records    int64
	StartedAt  time.Time
	FinishedAt time.Time
	Note       string
}

// CanonicalSummary describes the committed canonical rows.
type CanonicalSummary struct {
	Total    int64
	BySource map[Source]int64
	Ranked   int64
	MinRank  int64
	MaxRank  int64
	// ScanDate is the timestamp of the most recent merge.
	ScanDate time.Time
}
