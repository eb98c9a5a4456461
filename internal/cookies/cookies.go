// Package cookies loads the armory session cookies from the local cookie file.
//
// The file holds free-form sections separated by blank lines. The second line
// of the first section is a Cookie header value: "name=value; name=value".
package cookies

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// Load reads cookies from path. A missing file or a file without cookies
// yields crawler.ErrNoCredentials.
func Load(path string) ([]*http.Cookie, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: cookie file %s not found", crawler.ErrNoCredentials, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse extracts cookies from the cookie file format.
func Parse(r io.Reader) ([]*http.Cookie, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	content := strings.TrimSpace(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	section, _, _ := strings.Cut(content, "\n\n")
	lines := strings.Split(section, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: cookie line missing", crawler.ErrNoCredentials)
	}

	var out []*http.Cookie
	seen := make(map[string]int)
	for _, pair := range strings.Split(lines[1], ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		c := &http.Cookie{Name: name, Value: strings.TrimSpace(value)}
		// Later pairs win, matching how a browser header would be replayed.
		if i, dup := seen[name]; dup {
			out[i] = c
			continue
		}
		seen[name] = len(out)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: cookie line has no name=value pairs", crawler.ErrNoCredentials)
	}
	return out, nil
}
