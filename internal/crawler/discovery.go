package crawler

import (
	"context"
	"fmt"
	"strconv"
)

// discoveryOffset is far past any plausible end of the listing; the server
// clamps it to the last real page and echoes the clamped offset back.
const discoveryOffset = "9999999999999999999"

// DiscoverLastPage asks the listing for an out-of-range page and reads the
// server-clamped offset from the resolved URL. The offset is rounded down to a
// multiple of pageSize. Failure is fatal to the whole run.
func DiscoverLastPage(ctx context.Context, fetcher Fetcher, listingURL string, pageSize int) (Plan, error) {
	if pageSize <= 0 {
		return Plan{}, fmt.Errorf("%w: page size must be positive, got %d", ErrLastPageUnknown, pageSize)
	}
	probe := discoveryURL(listingURL)
	resp, err := fetcher.Fetch(ctx, FetchRequest{URL: probe})
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrLastPageUnknown, err)
	}
	resolved := resp.URL
	if resolved == "" {
		return Plan{}, fmt.Errorf("%w: response carried no resolved url", ErrLastPageUnknown)
	}
	offset, err := OffsetFromURL(resolved)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrLastPageUnknown, err)
	}
	if offset == 0 {
		return Plan{}, fmt.Errorf("%w: server resolved offset 0 (%s)", ErrLastPageUnknown, resolved)
	}
	return NewPlan(offset, pageSize), nil
}

// NewPlan derives page geometry from a raw last offset.
func NewPlan(lastOffset, pageSize int) Plan {
	last := lastOffset - lastOffset%pageSize
	return Plan{
		LastPageIndex: last,
		TotalPages:    last/pageSize + 1,
		PageSize:      pageSize,
	}
}

func discoveryURL(listingURL string) string {
	// The offset overflows int, so it is appended as text.
	base := ListingURL(listingURL, 0)
	return base[:len(base)-len(strconv.Itoa(0))] + discoveryOffset
}
