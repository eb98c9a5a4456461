package armory

import (
	"github.com/JakeFAU/doublescout/internal/crawler"
)

// Listing URLs for realm 1, sorted descending. The page offset is appended
// after "st=".
const (
	PlaytimeURL = "https://ezwow.org/index.php?app=isengard&module=core&tab=armory&section=characters" +
		"&realm=1&sort%5Bkey%5D=playtime&sort%5Border%5D=desc&st="
	NameURL = "https://ezwow.org/index.php?app=isengard&module=core&tab=armory&section=characters" +
		"&realm=1&sort%5Bkey%5D=name&sort%5Border%5D=desc&st="
)

// PageSize is the number of characters per listing page.
const PageSize = 20

// Streams returns the stream specs for a run. The playtime stream is always
// first and is the only sequenced one.
func Streams(playtimeURL, nameURL string, playtimeOnly bool) []crawler.StreamSpec {
	streams := []crawler.StreamSpec{{
		ID:        crawler.StreamPlaytime,
		BaseURL:   playtimeURL,
		Sequenced: true,
	}}
	if !playtimeOnly {
		streams = append(streams, crawler.StreamSpec{
			ID:      crawler.StreamName,
			BaseURL: nameURL,
		})
	}
	return streams
}
