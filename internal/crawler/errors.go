package crawler

import "errors"

var (
	// ErrFetchExhausted signals a page could not be fetched within the retry budget.
	ErrFetchExhausted = errors.New("fetch attempts exhausted")
	// ErrEmptyPage signals a page that decoded to zero listing rows.
	ErrEmptyPage = errors.New("page contains no records")
	// ErrLastPageUnknown signals the listing size could not be discovered.
	ErrLastPageUnknown = errors.New("last page could not be determined")
	// ErrNoCredentials signals that no session cookies were available.
	ErrNoCredentials = errors.New("no credentials available")
)
