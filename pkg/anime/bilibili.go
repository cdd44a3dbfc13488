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
	CmdBilibili      = "fetch_bilibili_ani_data"
	PlatformBilibili = "bilibili"

	bilibiliReferer = "https://www.bilibili.com/"
	bilibiliPlayURL = "https://www.bilibili.com/bangumi/play/ep%d"
)

var ErrBilibiliResponse = errors.New("anime: bilibili response error")

type bilibiliTimeline struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  []struct {
		IsToday  int               `json:"is_today"`
		Episodes []bilibiliEpisode `json:"episodes"`
	} `json:"result"`
}

type bilibiliEpisode struct {
	Published   int    `json:"published"`
	PubIndex    string `json:"pub_index"`
	Title       string `json:"title"`
	SquareCover string `json:"square_cover"`
	Cover       string `json:"cover"`
	EpisodeID   int64  `json:"episode_id"`
}

// FetchBilibili fetches the bilibili timeline at url and returns today's
// published episodes.
func (c *Client) FetchBilibili(ctx context.Context, url string) (Schedule, error) {
	var timeline bilibiliTimeline
	if err := c.getJSON(ctx, url, http.Header{"Referer": {bilibiliReferer}, "Accept": {"application/json"}}, &timeline); err != nil {
		return nil, err
	}

	return c.parseBilibili(timeline)
}

func (c *Client) parseBilibili(timeline bilibiliTimeline) (Schedule, error) {
	if timeline.Code != 0 || timeline.Result == nil {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrBilibiliResponse, timeline.Code, timeline.Message)
	}

	now := c.now()
	today := Weekday(now)
	sched := Schedule{today: []Item{}}

	for _, day := range timeline.Result {
		if day.IsToday != 1 {
			continue
		}

		for _, ep := range day.Episodes {
			if ep.Published != 1 {
				continue
			}

			item := bilibiliItem(ep, now)
			c.log.Debug().Str("title", item.Title).Str("info", item.UpdateInfo).Msg("found update")
			sched[today] = append(sched[today], item)
		}

		break
	}

	c.log.Info().Int("count", len(sched[today])).Str("platform", PlatformBilibili).Msg("fetched today's updates")

	return sched, nil
}

func bilibiliItem(ep bilibiliEpisode, now time.Time) Item {
	index := strings.TrimSpace(ep.PubIndex)

	image := ep.SquareCover
	if image == "" {
		image = ep.Cover
	}

	return Item{
		Title:       cleanText(ep.Title),
		UpdateCount: firstNumber(index),
		UpdateInfo:  "更新至" + index,
		ImageURL:    image,
		DetailURL:   fmt.Sprintf(bilibiliPlayURL, ep.EpisodeID),
		UpdateTime:  midnight(now),
		Platform:    PlatformBilibili,
	}
}
