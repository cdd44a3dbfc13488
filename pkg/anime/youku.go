package anime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	CmdYouku      = "fetch_youku_ani_data"
	PlatformYouku = "youku"

	youkuReferer   = "https://www.youku.com/"
	youkuDetailURL = "https://www.youku.com/ku/webcomic"
	youkuDataVar   = "window.__INITIAL_DATA__ ="
	youkuDaily     = "每日更新"
	youkuUpdated   = "有更新"
)

var ErrYoukuResponse = errors.New("anime: youku response error")

type youkuData struct {
	ModuleList []struct {
		Components []struct {
			Title string `json:"title"`
			// ItemList mixes single items and rows of items.
			ItemList []json.RawMessage `json:"itemList"`
		} `json:"components"`
	} `json:"moduleList"`
}

type youkuItem struct {
	Title       string          `json:"title"`
	LbTexts     json.RawMessage `json:"lbTexts"`
	UpdateCount json.RawMessage `json:"updateCount"`
	UpdateTips  string          `json:"updateTips"`
	Img         string          `json:"img"`
}

// FetchYouku reads the page state embedded in the youku channel page at url
// and returns the items of the daily update component flagged as updated.
func (c *Client) FetchYouku(ctx context.Context, url string) (Schedule, error) {
	doc, err := c.getHTML(ctx, url, http.Header{"Referer": {youkuReferer}})
	if err != nil {
		return nil, err
	}

	data, err := youkuInitialData(doc)
	if err != nil {
		return nil, err
	}

	return c.parseYouku(data)
}

func youkuInitialData(doc *html.Node) (*youkuData, error) {
	for _, script := range findAll(doc, element("script")) {
		text := textContent(script)

		_, rest, ok := strings.Cut(text, youkuDataVar)
		if !ok {
			continue
		}

		rest = strings.TrimSuffix(strings.TrimSpace(rest), ";")
		rest = strings.ReplaceAll(rest, "undefined", "null")

		var data youkuData
		if err := json.Unmarshal([]byte(rest), &data); err != nil {
			return nil, fmt.Errorf("%w: failed to decode initial data: %v", ErrYoukuResponse, err)
		}
		if data.ModuleList == nil {
			return nil, fmt.Errorf("%w: missing moduleList", ErrYoukuResponse)
		}

		return &data, nil
	}

	return nil, fmt.Errorf("%w: initial data not found", ErrYoukuResponse)
}

func (c *Client) parseYouku(data *youkuData) (Schedule, error) {
	now := c.now()

	seen := make(map[string]bool)
	items := []Item{}
	for _, module := range data.ModuleList {
		for _, comp := range module.Components {
			if comp.Title != youkuDaily {
				continue
			}

			for _, raw := range comp.ItemList {
				row, err := youkuRow(raw)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrYoukuResponse, err)
				}

				for _, yi := range row {
					if yi.UpdateTips != youkuUpdated {
						continue
					}

					item := youkuToItem(yi, now)
					if seen[item.Title] {
						continue
					}
					seen[item.Title] = true

					c.log.Debug().Str("title", item.Title).Str("info", item.UpdateInfo).Msg("found update")
					items = append(items, item)
				}
			}
		}
	}

	c.log.Info().Int("count", len(items)).Str("platform", PlatformYouku).Msg("fetched today's updates")

	return Schedule{Weekday(now): items}, nil
}

func youkuRow(raw json.RawMessage) ([]youkuItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var row []youkuItem
		err := json.Unmarshal(raw, &row)

		return row, err
	}

	var item youkuItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}

	return []youkuItem{item}, nil
}

func youkuToItem(yi youkuItem, now time.Time) Item {
	info := youkuLabel(yi.LbTexts)

	return Item{
		Title:       strings.TrimSpace(yi.Title),
		UpdateCount: youkuCount(yi.UpdateCount, info),
		UpdateInfo:  info,
		ImageURL:    strings.TrimSpace(yi.Img),
		DetailURL:   youkuDetailURL,
		UpdateTime:  midnight(now),
		Platform:    PlatformYouku,
	}
}

// youkuLabel accepts a string or a list of strings.
func youkuLabel(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for i := range list {
			list[i] = strings.TrimSpace(list[i])
		}

		return strings.Join(list, " ")
	}

	return ""
}

// youkuCount accepts a number or a numeric string, then falls back to the
// label, then to 1.
func youkuCount(raw json.RawMessage, info string) string {
	if raw = bytes.TrimSpace(raw); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var n uint32
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatUint(uint64(n), 10)
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32); err == nil {
				return strconv.FormatUint(n, 10)
			}
		}
	}

	if count := firstNumber(info); count != "" {
		return count
	}

	return "1"
}
