package armory

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

// onlineTitle is the tooltip of the green "online" marker.
const onlineTitle = "В сети"

var errNoCharacterLink = errors.New("row has no character link")

// Decoder implements crawler.Decoder for listing pages.
type Decoder struct{}

// NewDecoder returns a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode extracts every `tr.character` row. Rows that cannot be decoded are
// reported in Skipped but still count toward Found.
func (Decoder) Decode(body []byte) (crawler.DecodeResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.DecodeResult{}, fmt.Errorf("parse listing html: %w", err)
	}
	rows := doc.Find("tr.character")
	result := crawler.DecodeResult{
		Records: make([]crawler.Record, 0, rows.Length()),
		Found:   rows.Length(),
	}
	rows.Each(func(i int, row *goquery.Selection) {
		rec, err := decodeRow(row)
		if err != nil {
			result.Skipped = append(result.Skipped, fmt.Errorf("row %d: %w", i, err))
			return
		}
		result.Records = append(result.Records, rec)
	})
	return result, nil
}

func decodeRow(row *goquery.Selection) (crawler.Record, error) {
	link := row.Find("td").First().Find("a").First()
	if link.Length() == 0 {
		return crawler.Record{}, errNoCharacterLink
	}
	href, _ := link.Attr("href")
	id, err := characterID(href)
	if err != nil {
		return crawler.Record{}, err
	}

	stats := row.Find("td.short")
	var nums [5]int
	for i := range nums {
		if i >= stats.Length() {
			break
		}
		n, err := parseCount(stats.Eq(i).Text())
		if err != nil {
			return crawler.Record{}, fmt.Errorf("character %d stat %d: %w", id, i, err)
		}
		nums[i] = n
	}

	race, _ := row.Find("img.character-icon.character-race").First().Attr("title")
	class, _ := row.Find("img.character-icon.character-class").First().Attr("title")
	member := row.Find("span.member").First()

	return crawler.Record{
		EntityID:          id,
		ForumName:         stripSpace(member.Text()),
		DisplayName:       strings.TrimSpace(link.Text()),
		Level:             nums[0],
		KillCount:         nums[1],
		ItemLevel:         nums[2],
		GearScore:         nums[3],
		AchievementPoints: nums[4],
		Class:             TranslateClass(class),
		Race:              TranslateRace(race),
		Guild:             strings.TrimSpace(row.Find("span.guild-name").First().Text()),
		CharOnline:        isOnline(row.Find("span.character-icons").First()),
		AccountOnline:     isOnline(member),
	}, nil
}

// characterID reads the `character` query parameter of a profile link.
func characterID(href string) (int64, error) {
	u, err := url.Parse(href)
	if err != nil {
		return 0, fmt.Errorf("parse character link %q: %w", href, err)
	}
	raw := u.Query().Get("character")
	if raw == "" {
		return 0, fmt.Errorf("character link %q has no id", href)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse character id %q: %w", raw, err)
	}
	return id, nil
}

func isOnline(scope *goquery.Selection) bool {
	if scope.Length() == 0 {
		return false
	}
	found := false
	scope.Find("span.online img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if title, _ := img.Attr("title"); title == onlineTitle {
			found = true
			return false
		}
		return true
	})
	return found
}

// parseCount parses a numeric cell; empty cells are zero.
func parseCount(text string) (int, error) {
	clean := stripSpace(text)
	if clean == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(clean)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", clean, err)
	}
	return n, nil
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
