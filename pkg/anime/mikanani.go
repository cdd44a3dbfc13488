package anime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	CmdMikanani      = "fetch_mikanani_ani_data"
	PlatformMikanani = "mikanani"

	mikananiReferer = "https://mikanani.me/"
)

// FetchMikanani scrapes the mikanani home page at rawURL and returns the
// entries dated today.
func (c *Client) FetchMikanani(ctx context.Context, rawURL string) (Schedule, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad url %q", err, rawURL)
	}

	doc, err := c.getHTML(ctx, rawURL, http.Header{"Referer": {mikananiReferer}})
	if err != nil {
		return nil, err
	}

	return c.parseMikanani(doc, base), nil
}

func (c *Client) parseMikanani(doc *html.Node, base *url.URL) Schedule {
	now := c.now()
	date := now.Format("2006/01/02")

	items := []Item{}
	for _, li := range findAll(doc, element("li")) {
		if findFirst(li, element("div", "num-node", "text-center")) == nil {
			continue
		}

		dateText := findFirst(li, element("div", "date-text"))
		if dateText == nil || !strings.Contains(textContent(dateText), date) {
			continue
		}

		item, ok := mikananiItem(li, strings.TrimSpace(textContent(dateText)), base, now)
		if !ok {
			continue
		}

		c.log.Debug().Str("title", item.Title).Str("info", item.UpdateInfo).Msg("found update")
		items = append(items, item)
	}

	c.log.Info().Int("count", len(items)).Str("platform", PlatformMikanani).Msg("fetched today's updates")

	return Schedule{Weekday(now): items}
}

// mikananiItem requires the title link and the cover image.
func mikananiItem(li *html.Node, info string, base *url.URL, now time.Time) (Item, bool) {
	a := findFirst(li, element("a", "an-text"))
	if a == nil {
		return Item{}, false
	}

	span := findFirst(li, element("span", "js-expand_bangumi"))
	if span == nil || attr(span, "data-src") == "" {
		return Item{}, false
	}

	image, err := base.Parse(attr(span, "data-src"))
	if err != nil {
		return Item{}, false
	}

	detail, err := base.Parse(attr(a, "href"))
	if err != nil {
		return Item{}, false
	}

	return Item{
		Title:      strings.TrimSpace(attr(a, "title")),
		UpdateInfo: info,
		ImageURL:   image.String(),
		DetailURL:  detail.String(),
		UpdateTime: midnight(now),
		Platform:   PlatformMikanani,
	}, true
}
