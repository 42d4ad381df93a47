package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrTransport marks a fetch that failed after the retry budget was spent
var ErrTransport = errors.New("feed transport error")

// upstream date parameter format (START_YMD / END_YMD)
const queryDateLayout = "20060102"

// HTTPDoer is the part of *http.Client the feed client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a FeedClient
type Options struct {
	Enabled       bool
	BaseURL       string
	ServiceKey    string
	LostPath      string
	FoundPath     string
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	RatePerSecond float64 // 0 disables pacing
	// ResponseType "json" asks upstream for JSON; anything else leaves its XML default
	ResponseType string

	// HTTPClient overrides the default client built from Timeout
	HTTPClient HTTPDoer
}

// FeedClient handles communication with the lost-and-found open data feed
type FeedClient struct {
	enabled     bool
	baseURL     string
	serviceKey  string
	jsonFormat  bool
	paths       map[models.Kind]string
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	httpClient  HTTPDoer
}

// NewFeedClient creates a new feed client
func NewFeedClient(opts Options) *FeedClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &FeedClient{
		enabled:    opts.Enabled,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		serviceKey: opts.ServiceKey,
		jsonFormat: strings.EqualFold(opts.ResponseType, "json"),
		paths: map[models.Kind]string{
			models.KindLost:  opts.LostPath,
			models.KindFound: opts.FoundPath,
		},
		maxAttempts: maxAttempts,
		retryDelay:  opts.RetryDelay,
		limiter:     limiter,
		httpClient:  httpClient,
	}
}

// Enabled reports whether feed calls are allowed
func (c *FeedClient) Enabled() bool {
	return c.enabled
}

// FetchPage fetches one page of records of the given kind. startDate and endDate are optional;
// when nil the upstream applies no date filter.
//
// A disabled client returns an empty API_DISABLED page without touching the network.
// Malformed payloads and non-success headers yield an empty page, not an error.
// Only transport failures that outlive the retry budget are returned as errors.
func (c *FeedClient) FetchPage(ctx context.Context, kind models.Kind, pageNo, pageSize int, startDate, endDate *time.Time) (*models.FeedPage, error) {
	if !c.enabled {
		return &models.FeedPage{
			Items:      []models.RawFeedRecord{},
			PageNo:     pageNo,
			NumOfRows:  pageSize,
			ResultCode: models.ResultCodeDisabled,
			ResultMsg:  "feed calls are turned off",
		}, nil
	}
	if pageNo < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid paging: pageNo=%d pageSize=%d", pageNo, pageSize)
	}
	path, ok := c.paths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	url := c.buildURL(path, pageNo, pageSize, startDate, endDate)

	attempts := 0
	operation := func() (*models.FeedPage, error) {
		attempts++
		body, err := c.get(ctx, url)
		if err != nil {
			if !retryable(ctx, err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return decodePage(kind, body), nil
	}

	page, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().
				Err(err).
				Str("kind", string(kind)).
				Int("page", pageNo).
				Int("attempt", attempts).
				Int("max_attempts", c.maxAttempts).
				Dur("retry_in", next).
				Msg("Feed request failed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s page %d failed after %d attempt(s): %w", ErrTransport, kind, pageNo, attempts, err)
	}

	if page.PageNo == 0 {
		page.PageNo = pageNo
	}
	if page.NumOfRows == 0 {
		page.NumOfRows = pageSize
	}
	if page.Detail != "" {
		log.Warn().
			Str("kind", string(kind)).
			Int("page", pageNo).
			Str("result_code", page.ResultCode).
			Str("detail", page.Detail).
			Msg("Feed returned no usable items")
	}
	log.Debug().
		Str("kind", string(kind)).
		Int("page", pageNo).
		Int("items", len(page.Items)).
		Int("total_count", page.TotalCount).
		Msg("Fetched feed page")
	return page, nil
}

// buildURL assembles the request URL. The service key is issued already URL-encoded,
// so it is appended verbatim.
func (c *FeedClient) buildURL(path string, pageNo, pageSize int, startDate, endDate *time.Time) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(path)
	b.WriteString("?serviceKey=")
	b.WriteString(c.serviceKey)
	b.WriteString("&pageNo=")
	b.WriteString(strconv.Itoa(pageNo))
	b.WriteString("&numOfRows=")
	b.WriteString(strconv.Itoa(pageSize))
	if startDate != nil {
		b.WriteString("&START_YMD=")
		b.WriteString(startDate.Format(queryDateLayout))
	}
	if endDate != nil {
		b.WriteString("&END_YMD=")
		b.WriteString(endDate.Format(queryDateLayout))
	}
	if c.jsonFormat {
		b.WriteString("&_type=json")
	}
	return b.String()
}

// statusError is a non-2xx upstream reply
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Body)
}

func (c *FeedClient) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, application/json;q=0.9, */*;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

// retryable reports whether a failed attempt is worth repeating: network errors,
// timeouts, 5xx and 429. Cancellation of the caller's context is final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
