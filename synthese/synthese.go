// Package synthese is a client for Synthese style next passage
// services, which report upcoming departures at a stop, some of them
// live.
//
// Responses are cached in memory, or in redis when configured. Requests
// are rate limited, and a circuit breaker stops calls to a failing
// service.
package synthese

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocachestore "github.com/eko/gocache/store/go_cache/v4"
	redisstore "github.com/eko/gocache/store/redis/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Non-200 answer from the service.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("synthese returned status %d for %s", e.Code, e.URL)
}

// Passages are keyed by the service's own route and stop
// identifiers.
type RoutePoint struct {
	StopCode string
	RouteID  string
}

type Passage struct {
	Time     time.Time
	RealTime bool
}

type Config struct {
	// Identifies the service in cache keys and status reports.
	ID string

	URL      string
	Timezone *time.Location
	Timeout  time.Duration

	// How long responses are cached. Zero disables caching.
	CacheTTL time.Duration

	MaxRequestsPerSecond float64

	// Consecutive failures after which the breaker opens, and how
	// long it stays open.
	BreakerMaxFailures  uint32
	BreakerResetTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ID:                   "synthese",
		Timezone:             time.UTC,
		Timeout:              10 * time.Second,
		CacheTTL:             30 * time.Second,
		MaxRequestsPerSecond: 15,
		BreakerMaxFailures:   5,
		BreakerResetTimeout:  60 * time.Second,
	}
}

type Client struct {
	config  Config
	http    *http.Client
	cache   *cache.Cache[string]
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

type Option func(*Client)

// Cache responses in redis instead of process memory.
func WithRedis(client *redis.Client) Option {
	return func(c *Client) {
		if c.config.CacheTTL <= 0 {
			return
		}
		redisStore := redisstore.NewRedis(client, store.WithExpiration(c.config.CacheTTL))
		c.cache = cache.New[string](redisStore)
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(config Config, opts ...Option) *Client {
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}

	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	burst := int(config.MaxRequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	maxFailures := config.BreakerMaxFailures
	c := &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  zerolog.Nop(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    config.ID,
			Timeout: config.BreakerResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}

	if config.CacheTTL > 0 {
		memoryStore := gocachestore.NewGoCache(
			gocache.New(config.CacheTTL, 2*config.CacheTTL),
			store.WithExpiration(config.CacheTTL),
		)
		c.cache = cache.New[string](memoryStore)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Builds the next passage URL for a stop. count and at are only
// included when set.
func (c *Client) makeURL(stopCode string, at time.Time, count int) string {
	u := fmt.Sprintf("%s?SERVICE=tdg&roid=%s", c.config.URL, url.QueryEscape(stopCode))
	if count > 0 {
		u += fmt.Sprintf("&rn=%d", count)
	}
	if !at.IsZero() {
		u += "&date=" + url.QueryEscape(at.In(c.config.Timezone).Format("2006-01-02 15:04"))
	}
	return u
}

// Next passages at a stop from at, grouped by route. At most count
// passages are requested when count > 0.
func (c *Client) NextPassages(ctx context.Context, stopCode string, at time.Time, count int) (map[RoutePoint][]Passage, error) {
	if stopCode == "" {
		return nil, fmt.Errorf("missing stop code")
	}

	u := c.makeURL(stopCode, at, count)

	body, err := c.call(ctx, u)
	if err != nil {
		return nil, err
	}

	passages, err := c.parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", u, err)
	}

	return passages, nil
}

func (c *Client) cacheKey(u string) string {
	return c.config.ID + "|" + u
}

func (c *Client) call(ctx context.Context, u string) ([]byte, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, c.cacheKey(u))
		if err == nil {
			return []byte(cached), nil
		}
	}

	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}

	c.logger.Debug().Str("url", u).Msg("calling synthese")

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, u)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("service", c.config.ID).Msg("synthese unavailable, using base schedule")
		return nil, err
	}
	body := res.([]byte)

	if c.cache != nil {
		err = c.cache.Set(ctx, c.cacheKey(u), string(body))
		if err != nil {
			c.logger.Warn().Err(err).Msg("caching synthese response")
		}
	}

	return body, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: u, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return body, nil
}

type timetable struct {
	Journeys []journey `xml:"journey"`
}

type journey struct {
	RouteID  string `xml:"routeId,attr"`
	DateTime string `xml:"dateTime,attr"`
	RealTime string `xml:"realTime,attr"`
	Stop     struct {
		ID string `xml:"id,attr"`
	} `xml:"stop"`
}

var dateTimeLayouts = []string{
	"2006-Jan-02 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"20060102T150405",
}

func (c *Client) parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, s, c.config.Timezone)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date time '%s'", s)
}

func (c *Client) parse(body []byte) (map[RoutePoint][]Passage, error) {
	var tt timetable
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("invalid xml: %w", err)
	}

	passages := map[RoutePoint][]Passage{}
	for _, j := range tt.Journeys {
		t, err := c.parseDateTime(j.DateTime)
		if err != nil {
			return nil, err
		}

		rp := RoutePoint{StopCode: j.Stop.ID, RouteID: j.RouteID}
		passages[rp] = append(passages[rp], Passage{
			Time:     t,
			RealTime: j.RealTime == "yes",
		})
	}

	return passages, nil
}

type BreakerStatus struct {
	State               string        `json:"current_state"`
	ConsecutiveFailures uint32        `json:"fail_counter"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
}

type Status struct {
	ID      string        `json:"id"`
	Timeout time.Duration `json:"timeout"`
	Breaker BreakerStatus `json:"circuit_breaker"`
}

func (c *Client) Status() Status {
	counts := c.breaker.Counts()
	return Status{
		ID:      c.config.ID,
		Timeout: c.config.Timeout,
		Breaker: BreakerStatus{
			State:               c.breaker.State().String(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			ResetTimeout:        c.config.BreakerResetTimeout,
		},
	}
}
