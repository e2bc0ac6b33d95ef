// Package gif searches the Giphy v1 API for GIFs to send.
package gif

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const DefaultBaseURL = "https://api.giphy.com/v1/gifs"

// GIF is one result, reduced to the fixed_height rendition.
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PreviewURL string `json:"preview_url,omitempty"`
}

type Options struct {
	BaseURL       string
	APIKey        string
	Rating        string
	SearchLimit   int
	TrendingLimit int
	// RPS caps outgoing requests per second. Zero disables the cap.
	RPS     float64
	Timeout time.Duration
	// Dial overrides the connection dialer.
	Dial fasthttp.DialFunc
}

type Client struct {
	opts    Options
	http    *fasthttp.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Rating == "" {
		opts.Rating = "g"
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	if opts.TrendingLimit <= 0 {
		opts.TrendingLimit = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}
	return &Client{
		opts: opts,
		http: &fasthttp.Client{
			Name:         "chatgifs",
			Dial:         opts.Dial,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		limiter: limiter,
		logger:  logger.Named("gif"),
	}
}

// Search returns GIFs matching query. A blank query returns nothing.
func (c *Client) Search(ctx context.Context, query string) ([]GIF, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := c.query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(c.opts.SearchLimit))
	var res listResponse
	if err := c.get(ctx, "search", "/search", q, &res); err != nil {
		return nil, err
	}
	return res.gifs(), nil
}

// Trending returns the currently trending GIFs.
func (c *Client) Trending(ctx context.Context) ([]GIF, error) {
	q := c.query()
	q.Set("limit", strconv.Itoa(c.opts.TrendingLimit))
	var res listResponse
	if err := c.get(ctx, "trending", "/trending", q, &res); err != nil {
		return nil, err
	}
	return res.gifs(), nil
}

// ByID fetches a single GIF.
func (c *Client) ByID(ctx context.Context, id string) (GIF, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return GIF{}, model.Errorf(model.Invalid, "gif by id", "invalid gif id")
	}
	var res itemResponse
	if err := c.get(ctx, "by_id", "/"+url.PathEscape(id), c.query(), &res); err != nil {
		return GIF{}, err
	}
	if res.Data.ID == "" {
		return GIF{}, model.Errorf(model.NotFound, "gif by id", "gif %s not found", id)
	}
	return res.Data.gif(), nil
}

func (c *Client) query() url.Values {
	q := url.Values{}
	q.Set("api_key", c.opts.APIKey)
	q.Set("rating", c.opts.Rating)
	return q
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	op := "gif " + endpoint
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.GifRequests.WithLabelValues(endpoint, "throttled").Inc()
		return model.Wrap(model.Transient, op, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(c.opts.BaseURL + path + "?" + q.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	timeout := c.opts.Timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		metrics.GifRequests.WithLabelValues(endpoint, "error").Inc()
		c.logger.Warn("gif request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return model.Wrap(model.Transient, op, err)
	}

	code := resp.StatusCode()
	switch {
	case code == fasthttp.StatusNotFound:
		metrics.GifRequests.WithLabelValues(endpoint, "not_found").Inc()
		return model.Errorf(model.NotFound, op, "not found")
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		metrics.GifRequests.WithLabelValues(endpoint, "rejected").Inc()
		return model.Errorf(model.Invalid, op, "provider rejected the api key (status %d)", code)
	case code != fasthttp.StatusOK:
		metrics.GifRequests.WithLabelValues(endpoint, "error").Inc()
		c.logger.Warn("gif provider error", zap.String("endpoint", endpoint), zap.Int("status", code))
		return model.Errorf(model.Transient, op, "provider returned status %d", code)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		metrics.GifRequests.WithLabelValues(endpoint, "bad_response").Inc()
		return model.Wrap(model.Transient, op, err)
	}
	metrics.GifRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

type giphyGIF struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Images struct {
		FixedHeight struct {
			URL    string `json:"url"`
			Width  string `json:"width"`
			Height string `json:"height"`
		} `json:"fixed_height"`
		PreviewGIF struct {
			URL string `json:"url"`
		} `json:"preview_gif"`
	} `json:"images"`
}

func (g giphyGIF) gif() GIF {
	w, _ := strconv.Atoi(g.Images.FixedHeight.Width)
	h, _ := strconv.Atoi(g.Images.FixedHeight.Height)
	return GIF{
		ID:         g.ID,
		Title:      g.Title,
		URL:        g.Images.FixedHeight.URL,
		Width:      w,
		Height:     h,
		PreviewURL: g.Images.PreviewGIF.URL,
	}
}

type listResponse struct {
	Data []giphyGIF `json:"data"`
}

// gifs drops entries without a usable rendition.
func (r listResponse) gifs() []GIF {
	out := make([]GIF, 0, len(r.Data))
	for _, g := range r.Data {
		if g.ID == "" || g.Images.FixedHeight.URL == "" {
			continue
		}
		out = append(out, g.gif())
	}
	return out
}

type itemResponse struct {
	Data giphyGIF `json:"data"`
}
