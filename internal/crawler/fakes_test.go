package crawler_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// listing serves scripted pages keyed by offset. The body of every response
// is the offset itself so the decoder can look the page up again.
type listing struct {
	mu       sync.Mutex
	pages    map[int]crawler.DecodeResult
	failures map[int]error
	fetched  []int
	onFetch  func(page int)
}

func newListing() *listing {
	return &listing{
		pages:    make(map[int]crawler.DecodeResult),
		failures: make(map[int]error),
	}
}

// page registers a page with one record per entity id.
func (l *listing) page(offset int, ids ...int64) *listing {
	recs := make([]crawler.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, crawler.Record{
			EntityID:    id,
			DisplayName: "char" + strconv.FormatInt(id, 10),
			Level:       80,
		})
	}
	l.pages[offset] = crawler.DecodeResult{Records: recs, Found: len(recs)}
	return l
}

func (l *listing) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	l.mu.Lock()
	l.fetched = append(l.fetched, req.PageIndex)
	hook := l.onFetch
	err := l.failures[req.PageIndex]
	l.mu.Unlock()
	if hook != nil {
		hook(req.PageIndex)
	}
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       []byte(strconv.Itoa(req.PageIndex)),
		Attempts:   1,
		Duration:   time.Millisecond,
	}, nil
}

func (l *listing) Decode(body []byte) (crawler.DecodeResult, error) {
	offset, err := strconv.Atoi(string(body))
	if err != nil {
		return crawler.DecodeResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pages[offset], nil
}

func (l *listing) Fetched() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.fetched...)
}

// recordingStore wraps a TechStore and records every checkpoint written and
// every record the store rejected.
type recordingStore struct {
	crawler.TechStore
	mu       sync.Mutex
	written  []crawler.Checkpoint
	failures []crawler.RecordFailure
}

func (s *recordingStore) PutCheckpoint(ctx context.Context, stream crawler.StreamID, cp crawler.Checkpoint) error {
	s.mu.Lock()
	s.written = append(s.written, cp)
	s.mu.Unlock()
	return s.TechStore.PutCheckpoint(ctx, stream, cp)
}

func (s *recordingStore) CommitPage(ctx context.Context, commit crawler.PageCommit) (crawler.CommitResult, error) {
	res, err := s.TechStore.CommitPage(ctx, commit)
	if err == nil {
		s.mu.Lock()
		s.written = append(s.written, res.Checkpoint)
		s.failures = append(s.failures, res.Failures...)
		s.mu.Unlock()
	}
	return res, err
}

func (s *recordingStore) Written() []crawler.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Checkpoint(nil), s.written...)
}

func (s *recordingStore) Failures() []crawler.RecordFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.RecordFailure(nil), s.failures...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return nil
}

var errBoom = errors.New("boom")
