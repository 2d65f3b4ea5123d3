// Package probe measures the record count of catalog distributions over
// HTTP.
//
// A probe never returns a Go error: every failure becomes data in
// Result.Error. Transport failures are retried with a fixed pause;
// structural failures (bad status, unsupported content type, JSON of an
// unexpected shape) are terminal on first sight.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Result is the outcome of one probe. Size and Error may both be nil when
// the count could not be determined but no error was recorded.
type Result struct {
	ResourceID string  `json:"resource_id"`
	URL        string  `json:"url"`
	Size       *int64  `json:"size"`
	Error      *string `json:"error"`
	Attempts   int     `json:"attempts"`
}

// Failed reports whether the result carries an error message.
func (r Result) Failed() bool { return r.Error != nil && *r.Error != "" }

// Measurer measures one resource. *Prober is the network implementation.
type Measurer interface {
	Probe(ctx context.Context, resourceID, url string) Result
}

// Defaults applied by DefaultConfig.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryPause = time.Second
)

// Config configures a Prober. Start from DefaultConfig: a zero MaxRetries
// means a single attempt.
type Config struct {
	// Timeout bounds connection setup, the wait for response headers and
	// any gap between two body reads. A body that keeps streaming is never
	// cut off. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of extra attempts after a transport failure.
	// Default: 2. Negative values fall back to the default.
	MaxRetries int `yaml:"max_retries"`
	// RetryPause is the fixed wait between attempts. Default: 1s.
	RetryPause time.Duration `yaml:"retry_pause"`
	// MaxJSONBytes caps the body decoded for JSON counting. Default: 512MB.
	MaxJSONBytes int64 `yaml:"max_json_bytes"`
	// UserAgent and Accept mimic a desktop browser; several resource hosts
	// reject unknown clients.
	UserAgent string `yaml:"user_agent"`
	Accept    string `yaml:"accept"`
	// VerifyTLS enables certificate validation. Off by default: catalog
	// resource hosts are frequently misconfigured.
	VerifyTLS bool `yaml:"verify_tls"`
}

// DefaultConfig returns a Config with every default set.
func DefaultConfig() Config {
	c := Config{MaxRetries: DefaultMaxRetries}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryPause <= 0 {
		c.RetryPause = DefaultRetryPause
	}
	if c.MaxJSONBytes <= 0 {
		c.MaxJSONBytes = 512 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.Accept == "" {
		c.Accept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}
}

// Prober performs size probes.
type Prober struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Prober. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Prober {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	// No Client.Timeout: it would also bound the body download. The body
	// is guarded by idleBody instead.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.Timeout
	transport.ResponseHeaderTimeout = cfg.Timeout
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // resource hosts ship broken chains
	}
	return &Prober{
		client: &http.Client{Transport: transport},
		config: cfg,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (p *Prober) Config() Config { return p.config }

// outcome is the result of a single attempt.
type outcome struct {
	size      *int64
	err       string
	retryable bool
}

// Probe measures the record count behind url.
func (p *Prober) Probe(ctx context.Context, resourceID, url string) Result {
	res := Result{ResourceID: resourceID, URL: url}
	var lastErr string

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("probe: retry", "resource_id", resourceID, "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, p.config.RetryPause); err != nil {
				break
			}
		}
		res.Attempts = attempt + 1

		out := p.attempt(ctx, url)
		if out.size != nil {
			res.Size = out.size
			return res
		}
		if out.err != "" {
			lastErr = out.err
		}
		if !out.retryable {
			if out.err != "" {
				res.Error = &lastErr
			}
			return res
		}
	}

	if lastErr == "" {
		lastErr = fmt.Sprintf("Failed after %d retries", p.config.MaxRetries)
	}
	res.Error = &lastErr
	return res
}

func (p *Prober) attempt(ctx context.Context, url string) outcome {
	resp, err := p.get(ctx, url)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return outcome{err: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch kindOf(contentType, url) {
	case kindText:
		n, err := countLines(resp.Body)
		if err != nil {
			out := transportFailure(err)
			out.err = "CSV/Text parsing error: " + out.err
			return out
		}
		return outcome{size: &n}

	case kindJSON:
		var shape *shapeError
		body, err := readDecoded(resp.Body, contentType, p.config.MaxJSONBytes)
		if err != nil {
			if errors.As(err, &shape) {
				return outcome{err: shape.Error()}
			}
			return transportFailure(err)
		}
		n, err := countJSON(body)
		if err == nil {
			return outcome{size: &n}
		}
		if errors.As(err, &shape) {
			return outcome{err: shape.Error()}
		}
		return p.countJSONLines(ctx, url)

	default:
		return outcome{err: "Unsupported content type: " + contentType}
	}
}

// countJSONLines re-requests url and counts lines that look like JSON
// objects. Used when the body is not a single JSON document.
func (p *Prober) countJSONLines(ctx context.Context, url string) outcome {
	resp, err := p.get(ctx, url)
	if err != nil {
		out := transportFailure(err)
		out.err = "JSON parsing error: " + out.err
		return out
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return outcome{err: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	n, err := countObjectLines(resp.Body)
	if err != nil {
		out := transportFailure(err)
		out.err = "JSON parsing error: " + out.err
		return out
	}
	return outcome{size: &n}
}

func (p *Prober) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.config.UserAgent)
	req.Header.Set("Accept", p.config.Accept)
	return p.client.Do(req)
}

// get issues the request under its own cancel so that a stalled body read
// can be aborted.
func (p *Prober) get(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := p.do(ctx, url)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = newIdleBody(resp.Body, p.config.Timeout, cancel)
	return resp, nil
}

// errReadTimeout reports a body that stopped delivering data.
var errReadTimeout error = readTimeoutError{}

type readTimeoutError struct{}

func (readTimeoutError) Error() string   { return "probe: body read idle timeout" }
func (readTimeoutError) Timeout() bool   { return true }
func (readTimeoutError) Temporary() bool { return true }

// idleBody fails a read once no data arrived for timeout. Every read that
// returns data rearms the deadline.
type idleBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{rc: rc, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF && b.expired.Load() {
		return n, errReadTimeout
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

// transportFailure classifies a network-level error. All of them are retryable.
func transportFailure(err error) outcome {
	var ne net.Error
	var op *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return outcome{err: "Request timeout", retryable: true}
	case errors.As(err, &op):
		return outcome{err: "Connection error", retryable: true}
	default:
		return outcome{err: "Request error: " + err.Error(), retryable: true}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
