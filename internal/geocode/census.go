// Package geocode fills in coordinates for route addresses imported without
// them, using the Census Geocoder one-line endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/serveroute/serveroute/internal/geo"
	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/resilience"
)

const (
	// DefaultBaseURL is the Census one-line address endpoint.
	DefaultBaseURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	benchmark      = "Public_AR_Current"
	defaultRPS     = 10
	concurrency    = 4
)

// Census geocodes single addresses.
type Census struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// Option configures a Census client.
type Option func(*Census)

// WithBaseURL overrides the endpoint.
func WithBaseURL(u string) Option {
	return func(c *Census) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Census) { c.httpClient = hc }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Census) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithRetry sets the retry policy for 5xx and network failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Census) { c.retry = cfg }
}

// NewCensus creates a Census client.
func NewCensus(opts ...Option) *Census {
	c := &Census{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(defaultRPS, defaultRPS),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Locate returns the first match for the address. ok is false when the
// geocoder has no match.
func (c *Census) Locate(ctx context.Context, a *model.Address) (lat, lng float64, ok bool, err error) {
	line := oneLine(a)
	if line == "" {
		return 0, 0, false, nil
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("census_geocode", zap.String("address", line))
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*censusResponse, error) {
		return c.fetch(ctx, line)
	})
	if err != nil {
		return 0, 0, false, err
	}
	if len(resp.Result.AddressMatches) == 0 {
		return 0, 0, false, nil
	}
	m := resp.Result.AddressMatches[0].Coordinates
	if !geo.Valid(geo.Point(m.Y, m.X)) {
		return 0, 0, false, nil
	}
	return m.Y, m.X, true, nil
}

func (c *Census) fetch(ctx context.Context, line string) (*censusResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{"address": {line}, "benchmark": {benchmark}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: census returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "geocode: decode response")
	}
	return &out, nil
}

// Backfill geocodes every address missing coordinates in place and returns
// how many were filled. A lookup failure is logged and leaves that address
// without coordinates; only context cancellation aborts the run.
func (c *Census) Backfill(ctx context.Context, addrs []model.Address) (int, error) {
	filled := make([]bool, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range addrs {
		a := &addrs[i]
		if a.Latitude != nil && a.Longitude != nil {
			continue
		}
		g.Go(func() error {
			lat, lng, ok, err := c.Locate(gctx, a)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("geocode: lookup failed", zap.String("street", a.Street), zap.Error(err))
				return nil
			}
			if ok {
				a.Latitude, a.Longitude = &lat, &lng
				filled[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, eris.Wrap(err, "geocode: backfill")
	}

	n := 0
	for _, f := range filled {
		if f {
			n++
		}
	}
	return n, nil
}

func oneLine(a *model.Address) string {
	var parts []string
	for _, p := range []string{a.Street, a.City, a.State, a.Zip} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
