// Package collyfetcher implements the fetch channel on top of gocolly.
//
// A Channel owns one collector (and therefore one HTTP client) for a crawl
// target. Every request is funnelled through a single worker goroutine which
// applies the retry policy and the inter-request pause, so a fragile host
// never sees more than one in-flight request from a channel.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/metrics"
)

const (
	defaultMaxAttempts = 5
	defaultTimeout     = 30 * time.Second
	defaultQueueDepth  = 16
)

// ErrClosed is returned for requests issued after Close.
var ErrClosed = errors.New("fetch channel closed")

// Config controls collector and retry behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimitPeriod is slept after every attempt, successful or not.
	RateLimitPeriod time.Duration
	MaxAttempts     int
	QueueDepth      int
	// Allow404 makes a 404 fail immediately instead of being retried.
	Allow404 bool
}

// HostLimiter is an optional cross-channel throttle keyed by host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Option customizes a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLimiter shares a per-host limiter between channels.
func WithLimiter(limiter HostLimiter) Option {
	return func(c *Channel) {
		c.limiter = limiter
	}
}

// WithTransport replaces the HTTP transport (used by tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Channel) {
		c.transport = rt
	}
}

// StatusError reports an HTTP status outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

type request struct {
	ctx      context.Context
	url      string
	validate crawler.Validator
	reply    chan response
}

type response struct {
	body []byte
	err  error
}

// Channel serializes fetches for one crawl target.
type Channel struct {
	cfg       Config
	logger    *zap.Logger
	limiter   HostLimiter
	transport http.RoundTripper
	pause     func(ctx context.Context, d time.Duration)

	startOnce sync.Once
	closeOnce sync.Once
	base      *colly.Collector
	requests  chan *request
	closing   chan struct{}
	done      chan struct{}
}

var _ crawler.RetrieveCloser = (*Channel)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Channel. The worker starts on the first Retrieve.
func New(cfg Config, opts ...Option) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	c := &Channel{
		cfg:      cfg,
		logger:   zap.NewNop(),
		pause:    sleep,
		requests: make(chan *request, cfg.QueueDepth),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retrieve queues a GET for url and waits for its outcome. suffix is unused
// here; it only matters to caching layers.
func (c *Channel) Retrieve(ctx context.Context, url, _ string, validate crawler.Validator) ([]byte, error) {
	select {
	case <-c.closing:
		return nil, ErrClosed
	default:
	}
	c.startOnce.Do(c.start)

	req := &request{ctx: ctx, url: url, validate: validate, reply: make(chan response, 1)}
	c.logger.Debug("Queueing network request", zap.String("url", url))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	case c.requests <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-req.reply:
		return resp.body, resp.err
	case <-c.done:
		select {
		case resp := <-req.reply:
			return resp.body, resp.err
		default:
			return nil, ErrClosed
		}
	}
}

// Close stops the worker and waits for it. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		// A channel that never started has no worker to close done.
		c.startOnce.Do(func() { close(c.done) })
	})
	<-c.done
	return nil
}

func (c *Channel) start() {
	c.base = colly.NewCollector(colly.Async(false))
	transport := c.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.base.WithTransport(transport)
	c.logger.Info("Opening client")
	go c.run()
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.logger.Info("Client closed")
	for {
		select {
		case <-c.closing:
			c.drain()
			return
		case req := <-c.requests:
			ctx, cancel := c.requestContext(req.ctx)
			body, err := c.process(ctx, req.url, req.validate)
			if err != nil && ctx.Err() != nil && req.ctx.Err() == nil {
				err = ErrClosed
			}
			cancel()
			req.reply <- response{body: body, err: err}
		}
	}
}

// requestContext derives the context for one request; Close cancels it so an
// in-flight GET does not outlive the channel.
func (c *Channel) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Channel) drain() {
	for {
		select {
		case req := <-c.requests:
			req.reply <- response{err: ErrClosed}
		default:
			return
		}
	}
}

// process runs the attempt loop for one request.
func (c *Channel) process(ctx context.Context, url string, validate crawler.Validator) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, url); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, err
			}
		}

		body, err := c.attempt(ctx, url, validate)
		c.pause(ctx, c.cfg.RateLimitPeriod)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			metrics.ObserveFetch(url, "success", len(body))
			return body, nil
		}

		lastErr = err
		if !c.transient(err) {
			metrics.ObserveFetch(url, "failure", 0)
			return nil, &crawler.UnretrievableError{URL: url, Attempts: attempt, Err: err}
		}
		metrics.ObserveFetch(url, "retry", 0)
		c.logger.Warn("Fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(err),
		)
	}
	return nil, &crawler.UnretrievableError{URL: url, Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// attempt performs a single GET and validates the body.
func (c *Channel) attempt(ctx context.Context, url string, validate crawler.Validator) ([]byte, error) {
	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector := c.buildCollector(ctx)
	c.configureCollectorHooks(collector, &status, &body, &fetchErr)

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{URL: url, StatusCode: status}
	}
	if validate != nil {
		if err := validate(body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (c *Channel) buildCollector(ctx context.Context) *colly.Collector {
	collector := c.base.Clone()
	// The transport aborts the GET when ctx is cancelled.
	collector.Context = ctx
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	return collector
}

func (c *Channel) configureCollectorHooks(hooks collectorHooks, status *int, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// transient reports whether err should be retried.
func (c *Channel) transient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound && c.cfg.Allow404 {
			return false
		}
		return statusErr.StatusCode >= 300 && statusErr.StatusCode <= 599
	}
	var malformed *crawler.MalformedError
	if errors.As(err, &malformed) {
		return true
	}
	return isIOError(err)
}

func isIOError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// Wait for the aborted visit so the next request never overlaps it.
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
}
