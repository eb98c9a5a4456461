// Package progress defines the event structures emitted by the stream drivers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageStreamStart Stage = "STREAM_START"
	StagePageDone    Stage = "PAGE_DONE"
	StageStreamDone  Stage = "STREAM_DONE"
	StageStreamError Stage = "STREAM_ERROR"
	StageMergeDone   Stage = "MERGE_DONE"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID uniquely identifies one crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// Stream scopes stream and page events ("playtime", "name").
	Stream string
	// Page is the listing offset the event refers to.
	Page int
	// TotalPages is the page count of the listing, when known.
	TotalPages int
	// Records is the number of records saved by this page (or merged, for
	// MERGE_DONE).
	Records int64
	// Cumulative is the stream's running record count after this event.
	Cumulative int64
	// Bytes carries the response size for page events.
	Bytes int64
	// Attempts is the number of fetch attempts the page needed.
	Attempts int
	// Status is the stream status for STREAM_DONE / STREAM_ERROR.
	Status string
	// Dur captures latency for pages and wall time for streams and merges.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageMergeDone:
	case StageStreamStart, StagePageDone:
		if e.Stream == "" {
			return fmt.Errorf("%s requires stream", e.Stage)
		}
	case StageStreamDone, StageStreamError:
		if e.Stream == "" {
			return fmt.Errorf("%s requires stream", e.Stage)
		}
		if e.Status == "" {
			return fmt.Errorf("%s requires status", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Page < 0 {
		return errors.New("page must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
