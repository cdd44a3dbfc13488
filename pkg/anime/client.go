package anime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	scheduler "github.com/alextanhongpin/ani-scheduler"
)

const (
	requestTimeout = 30 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes   = 8 << 20
)

var ErrUnexpectedStatus = errors.New("anime: unexpected status")

// Client fetches platform listings. Requests share one rate limiter so
// bursts of firings stay polite to the upstream sites.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

func WithRateLimit(every time.Duration, burst int) ClientOption {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

func WithClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		log:     log.With().Str("pkg", "anime").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register binds every platform action this client implements.
func (c *Client) Register(reg *scheduler.Registry[Schedule]) error {
	actions := map[string]scheduler.Action[Schedule]{
		CmdBilibili: c.FetchBilibili,
		CmdIqiyi:    c.FetchIqiyi,
		CmdMikanani: c.FetchMikanani,
		CmdYouku:    c.FetchYouku,
	}

	var errs []error
	for cmd, action := range actions {
		errs = append(errs, reg.Register(cmd, action))
	}

	return errors.Join(errs...)
}

func (c *Client) getJSON(ctx context.Context, url string, header http.Header, v any) error {
	body, err := c.get(ctx, url, header)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode %s", err, url)
	}

	return nil
}

func (c *Client) getHTML(ctx context.Context, url string, header http.Header) (*html.Node, error) {
	body, err := c.get(ctx, url, header)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s", err, url)
	}

	return doc, nil
}

// get returns the body of a 200 response, capped at maxBodyBytes.
func (c *Client) get(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s", err, url)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxBodyBytes), resp.Body}, nil
}
