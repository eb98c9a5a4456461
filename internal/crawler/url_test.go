package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListingURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://a.example/c?sort=name&st=40", ListingURL("https://a.example/c?sort=name&st=", 40))
	require.Equal(t, "https://a.example/c?sort=name&st=40", ListingURL("https://a.example/c?sort=name", 40))
	require.Equal(t, "https://a.example/c?st=0", ListingURL("https://a.example/c", 0))
}

func TestOffsetFromURL(t *testing.T) {
	t.Parallel()

	off, err := OffsetFromURL("https://a.example/c?sort=name&st=1234")
	require.NoError(t, err)
	require.Equal(t, 1234, off)

	for _, raw := range []string{
		"https://a.example/c",
		"https://a.example/c?st=abc",
		"https://a.example/c?st=-20",
		"://bad",
	} {
		_, err := OffsetFromURL(raw)
		require.Error(t, err, raw)
	}
}

func TestDiscoveryURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://a.example/c?st=9999999999999999999", discoveryURL("https://a.example/c?st="))
	require.Equal(t, "https://a.example/c?x=1&st=9999999999999999999", discoveryURL("https://a.example/c?x=1"))
}
