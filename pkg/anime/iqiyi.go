package anime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	CmdIqiyi      = "fetch_iqiyi_ani_data"
	PlatformIqiyi = "iqiyi"

	iqiyiReferer = "https://www.iqiyi.com/"
	iqiyiTracker = "追番表"
)

var ErrIqiyiResponse = errors.New("anime: iqiyi response error")

type iqiyiResponse struct {
	Code  int `json:"code"`
	Items []struct {
		Title string `json:"title"`
		// Video holds one entry per weekday, Monday first.
		Video []struct {
			Data []iqiyiEpisode `json:"data"`
		} `json:"video"`
	} `json:"items"`
}

type iqiyiEpisode struct {
	DisplayName    string `json:"display_name"`
	UpdateStatus   string `json:"dq_updatestatus"`
	ImageCover     string `json:"image_cover"`
	ImageURLNormal string `json:"image_url_normal"`
	PageURL        string `json:"page_url"`
}

// FetchIqiyi fetches the iqiyi tracker listing at url and returns today's
// updates.
func (c *Client) FetchIqiyi(ctx context.Context, url string) (Schedule, error) {
	var resp iqiyiResponse
	if err := c.getJSON(ctx, url, http.Header{"Referer": {iqiyiReferer}, "Accept": {"application/json"}}, &resp); err != nil {
		return nil, err
	}

	return c.parseIqiyi(resp)
}

func (c *Client) parseIqiyi(resp iqiyiResponse) (Schedule, error) {
	if resp.Code != 0 || len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: code=%d items=%d", ErrIqiyiResponse, resp.Code, len(resp.Items))
	}

	now := c.now()
	day := mondayIndex(now)

	for _, it := range resp.Items {
		if it.Title != iqiyiTracker {
			continue
		}
		if day >= len(it.Video) {
			return nil, fmt.Errorf("%w: no listing for weekday %d", ErrIqiyiResponse, day)
		}

		items := []Item{}
		for _, ep := range it.Video[day].Data {
			item, ok := iqiyiItem(ep, now)
			if !ok {
				continue
			}

			c.log.Debug().Str("title", item.Title).Str("info", item.UpdateInfo).Msg("found update")
			items = append(items, item)
		}

		c.log.Info().Int("count", len(items)).Str("platform", PlatformIqiyi).Msg("fetched today's updates")

		return Schedule{Weekday(now): items}, nil
	}

	return nil, fmt.Errorf("%w: missing %s", ErrIqiyiResponse, iqiyiTracker)
}

// iqiyiItem skips episodes whose status carries no episode number.
func iqiyiItem(ep iqiyiEpisode, now time.Time) (Item, bool) {
	info := strings.TrimSpace(ep.UpdateStatus)
	count := firstNumber(info)
	if count == "" {
		return Item{}, false
	}

	image := ep.ImageCover
	if image == "" {
		image = ep.ImageURLNormal
	}

	return Item{
		Title:       cleanText(ep.DisplayName),
		UpdateCount: count,
		UpdateInfo:  info,
		ImageURL:    image,
		DetailURL:   ep.PageURL,
		UpdateTime:  midnight(now),
		Platform:    PlatformIqiyi,
	}, true
}

// mondayIndex is the weekday of t counted from Monday = 0.
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
