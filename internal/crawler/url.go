package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// OffsetParam is the listing query parameter that carries the page offset.
const OffsetParam = "st"

// ListingURL appends a page offset to a listing base URL. Base URLs are
// expected to end with "st=" the way the armory links them; otherwise the
// parameter is added.
func ListingURL(base string, offset int) string {
	if strings.HasSuffix(base, OffsetParam+"=") {
		return base + strconv.Itoa(offset)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", base, sep, OffsetParam, offset)
}

// OffsetFromURL reads the page offset echoed back in a resolved listing URL.
func OffsetFromURL(rawURL string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse url: %w", err)
	}
	raw := u.Query().Get(OffsetParam)
	if raw == "" {
		return 0, fmt.Errorf("url %q has no %s parameter", rawURL, OffsetParam)
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", OffsetParam, raw, err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	return offset, nil
}
