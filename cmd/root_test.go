package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doublescout/internal/crawler"
	"github.com/JakeFAU/doublescout/internal/reconcile"
)

// writeConfig writes a config file rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
storage:
  tech_path: %[1]s/tech.db
  final_path: %[1]s/final.db
auth:
  cookies_file: %[1]s/cookies.md
logging:
  development: false
  dir: ""
delay:
  mode: none
http:
  timeout: 5s
  max_attempts: 1
%[2]s`, dir, extra)
	path := filepath.Join(dir, "scout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestStatusOnFreshDatabases(t *testing.T) {
	t.Parallel()

	cfg, _ := writeConfig(t, "")
	out, err := execute(t, "--config", cfg, "status")
	require.NoError(t, err)
	require.Contains(t, out, "checkpoints")
	require.Contains(t, out, "recent runs")
	require.Contains(t, out, "(none)")
}

func TestMergeWithNothingCrawled(t *testing.T) {
	t.Parallel()

	cfg, _ := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "merge")
	require.ErrorIs(t, err, reconcile.ErrNothingToMerge)
}

func TestCrawlWithoutCookies(t *testing.T) {
	t.Parallel()

	cfg, _ := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "crawl")
	require.ErrorIs(t, err, crawler.ErrNoCredentials)
}

func TestExportWithoutDSN(t *testing.T) {
	t.Parallel()

	cfg, _ := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "export")
	require.ErrorContains(t, err, "not configured")
}

func TestInvalidFlagOverride(t *testing.T) {
	t.Parallel()

	cfg, _ := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "crawl", "--max-pages", "-1")
	require.ErrorContains(t, err, "max_pages_per_run")
}

func listingPage(ids ...int) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr class="character"><td><a href="index.php?section=character&amp;character=%d">C%d</a></td>`+
			`<td class="short">80</td><td class="short">0</td><td class="short">200</td>`+
			`<td class="short">5000</td><td class="short">10</td></tr>`, id, id)
	}
	b.WriteString("</table>")
	return b.String()
}

func TestCrawlThenStatus(t *testing.T) {
	t.Parallel()

	pages := map[string][]int{"0": {1, 2}, "2": {3}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		ids, ok := pages[r.URL.Query().Get("st")]
		if !ok {
			http.Redirect(w, r, "/characters?sort=playtime&st=2", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(listingPage(ids...)))
	}))
	defer srv.Close()

	cfg, dir := writeConfig(t, fmt.Sprintf(`
crawler:
  playtime_url: %s/characters?sort=playtime&st=
  page_size: 2
`, srv.URL))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies.md"), []byte("armory\nsession=abc\n"), 0o600))

	out, err := execute(t, "--config", cfg, "crawl", "--playtime-only")
	require.NoError(t, err)
	require.Contains(t, out, "completed")
	require.Contains(t, out, "from playtime (A)")

	out, err = execute(t, "--config", cfg, "status")
	require.NoError(t, err)
	require.Contains(t, out, "playtime")
	require.Contains(t, out, "1..3")
}
