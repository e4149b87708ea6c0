package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
)

const (
	maxBodyBytes = 10 << 20
	maxRedirects = 10
)

var errTooManyRedirects = errors.New("stopped after too many redirects")

// Observer receives fetch telemetry
type Observer interface {
	ObserveAttempt(kind Kind, duration time.Duration)
	ObserveRetry(kind Kind, delay time.Duration)
}

// Options configures a Client
type Options struct {
	MaxAttempts   int
	Backoff       *retry.ErrorTypeBackoff
	MaxRetryAfter time.Duration
	Timeout       time.Duration
	UserAgents    []string
	Headers       map[string]string
	Scope         Scope
	Transport     http.RoundTripper
	Observer      Observer
}

// Request is a single logical fetch
type Request struct {
	URL    string
	Header http.Header
	// Scoped applies the client's redirect scope to the final location
	Scoped bool
}

// Client issues GET requests through a shared rate limiter and classifies the results.
// A Client keeps per-instance identity state; give each worker its own.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	opts       Options
	uaIndex    atomic.Int64
	logger     logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a fetch client. The limiter is shared by every client of a run.
func NewClient(limiter ratelimit.Limiter, opts Options, log logger.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.NewErrorTypeBackoff(time.Second, 30*time.Second, 2.0, 1.5)
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = 2 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if limiter == nil {
		limiter = ratelimit.NewSpacing(0, 0)
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // decoded below, including brotli
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		limiter: limiter,
		opts:    opts,
		logger:  log.WithField("component", "fetch"),
		sleep:   retry.Wait,
	}
	if len(opts.UserAgents) > 0 {
		c.uaIndex.Store(rand.Int63n(int64(len(opts.UserAgents))))
	}
	return c
}

// Fetch retrieves target and checks the final location against the client scope
func (c *Client) Fetch(ctx context.Context, target string) Outcome {
	return c.Do(ctx, Request{URL: target, Scoped: true})
}

// Do performs req with rate limiting and retries.
//
// ctx is checked before every attempt and cancels the rate-limit and backoff
// waits; a request already sent is never interrupted by it and is bounded by
// the client timeout instead.
func (c *Client) Do(ctx context.Context, req Request) Outcome {
	var last Outcome
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: KindCanceled, Err: err, Attempts: attempt - 1, Last: last.Kind}
		}

		start := time.Now()
		out := c.attempt(ctx, req)
		out.Attempts = attempt
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveAttempt(out.Kind, time.Since(start))
		}

		if !out.Transient() {
			if out.Kind != KindSuccess {
				c.logger.DebugWithFields("fetch finished without content", map[string]interface{}{
					"url":         req.URL,
					"outcome":     out.Kind.String(),
					"status_code": out.StatusCode,
					"reason":      out.Reason,
				})
			}
			return out
		}
		last = out

		if attempt >= c.opts.MaxAttempts {
			c.logger.WarnWithFields("retries exhausted", map[string]interface{}{
				"url":         req.URL,
				"attempts":    attempt,
				"last":        out.Kind.String(),
				"status_code": out.StatusCode,
			})
			return Outcome{
				Kind:       KindExhausted,
				StatusCode: out.StatusCode,
				Err:        out.Err,
				Attempts:   attempt,
				Last:       out.Kind,
			}
		}

		delay := c.retryDelay(out, attempt)
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveRetry(out.Kind, delay)
		}
		c.logger.WarnWithFields("retrying request", map[string]interface{}{
			"url":         req.URL,
			"attempt":     attempt,
			"outcome":     out.Kind.String(),
			"status_code": out.StatusCode,
			"delay_ms":    delay.Milliseconds(),
		})

		if err := c.sleep(ctx, delay); err != nil {
			return Outcome{Kind: KindCanceled, Err: err, Attempts: attempt, Last: out.Kind}
		}
	}
}

// retryDelay honours Retry-After on 429 and otherwise backs off by failure class
func (c *Client) retryDelay(out Outcome, attempt int) time.Duration {
	if out.Kind == KindRateLimited && out.RetryAfter > 0 {
		return out.RetryAfter
	}
	var errorType errs.ErrorType
	switch out.Kind {
	case KindRateLimited:
		errorType = errs.ErrorTypeRateLimit
	case KindServerError:
		errorType = errs.ErrorTypeServerError
	case KindNetworkError:
		errorType = errs.ErrorTypeNetwork
	}
	return c.opts.Backoff.GetBackoffForError(errorType).NextDelay(attempt)
}

// attempt sends one request and classifies the response
func (c *Client) attempt(ctx context.Context, req Request) Outcome {
	requested, err := url.Parse(req.URL)
	if err != nil {
		return Outcome{Kind: KindInvalid, Reason: fmt.Sprintf("malformed url: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, req.URL, nil)
	if err != nil {
		return Outcome{Kind: KindInvalid, Reason: fmt.Sprintf("failed to create request: %v", err)}
	}
	c.setHeaders(httpReq, req.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) {
			return Outcome{Kind: KindInvalid, Reason: "redirect loop"}
		}
		return Outcome{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	out := Outcome{StatusCode: resp.StatusCode, FinalURL: resp.Request.URL.String()}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		out.Kind = KindRateLimited
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.opts.MaxRetryAfter)
		return out
	case resp.StatusCode >= 500:
		out.Kind = KindServerError
		return out
	case resp.StatusCode >= 400:
		out.Kind = KindClientError
		return out
	case resp.StatusCode != http.StatusOK:
		out.Kind = KindInvalid
		out.Reason = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return out
	}

	if req.Scoped {
		if reason := c.opts.Scope.Check(requested, resp.Request.URL); reason != "" {
			out.Kind = KindInvalid
			out.Reason = reason
			return out
		}
	}

	reader, err := decompressReader(resp, io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		out.Kind = KindNetworkError
		out.Err = fmt.Errorf("failed to decode body: %w", err)
		return out
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		out.Kind = KindNetworkError
		out.Err = fmt.Errorf("failed to read body: %w", err)
		return out
	}

	out.Kind = KindSuccess
	out.Content = body
	return out
}

func (c *Client) setHeaders(req *http.Request, extra http.Header) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if ua := c.nextUserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}
	for key, values := range extra {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

// nextUserAgent rotates through the identity pool, one step per attempt
func (c *Client) nextUserAgent() string {
	if len(c.opts.UserAgents) == 0 {
		return ""
	}
	idx := c.uaIndex.Add(1) % int64(len(c.opts.UserAgents))
	return c.opts.UserAgents[idx]
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date; 0 means absent
func parseRetryAfter(header string, ceiling time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		d = time.Until(t)
		if d <= 0 {
			d = time.Second
		}
	} else {
		return 0
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}
