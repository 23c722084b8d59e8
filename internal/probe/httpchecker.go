package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/statusgrid/internal/domain"
)

const (
	// DefaultTimeout bounds a single probe unless WithTimeout says otherwise.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// HTTPChecker issues one GET per probe and turns the response into a Result.
type HTTPChecker struct {
	client    *http.Client
	timeout   time.Duration
	errorBody bool
	userAgent string
	now       func() time.Time
}

// Option configures an HTTPChecker.
type Option func(*HTTPChecker) error

// WithTimeout sets the client timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPChecker) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithClient replaces the HTTP client. Its Timeout is left untouched.
func WithClient(hc *http.Client) Option {
	return func(c *HTTPChecker) error {
		if hc == nil {
			return fmt.Errorf("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithErrorBody appends the decoded body of non-2xx responses to the
// "HTTP {code} - {reason}" message.
func WithErrorBody(on bool) Option {
	return func(c *HTTPChecker) error {
		c.errorBody = on
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *HTTPChecker) error {
		c.userAgent = ua
		return nil
	}
}

// WithClock overrides time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPChecker) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		c.now = now
		return nil
	}
}

func NewHTTPChecker(opts ...Option) (*HTTPChecker, error) {
	c := &HTTPChecker{
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Check performs the GET and classifies the outcome:
//   - transport error: failure, message is the error text
//   - 2xx: success, message is the JSON body (strings verbatim, everything
//     else indented by two spaces) or "HTTP {code} - {reason}" if the body
//     is not JSON
//   - anything else: failure, message is "HTTP {code} - {reason}"
func (c *HTTPChecker) Check(ctx context.Context, ep domain.Endpoint) domain.Result {
	start := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return c.failure(ep, err.Error(), start)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.failure(ep, err.Error(), start)
	}
	defer resp.Body.Close()
	elapsed := c.now().Sub(start)

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	statusMsg := StatusMessage(resp)
	decoded, ok := "", false
	if readErr == nil {
		decoded, ok = BodyMessage(body)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		msg := statusMsg
		if ok {
			msg = decoded
		}
		return domain.Completed(ep, domain.StatusSuccess, msg, elapsed, c.now())
	}

	msg := statusMsg
	if c.errorBody && ok {
		msg = statusMsg + "\n" + decoded
	}
	return domain.Completed(ep, domain.StatusFailure, msg, elapsed, c.now())
}

func (c *HTTPChecker) failure(ep domain.Endpoint, msg string, start time.Time) domain.Result {
	now := c.now()
	return domain.Completed(ep, domain.StatusFailure, msg, now.Sub(start), now)
}

// StatusMessage renders "HTTP {code} - {reason}". The reason phrase sent by
// the server wins over Go's table so custom phrases survive.
func StatusMessage(resp *http.Response) string {
	code := resp.StatusCode
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(code)))
	if reason == "" {
		reason = http.StatusText(code)
	}
	if reason == "" {
		return fmt.Sprintf("HTTP %d", code)
	}
	return fmt.Sprintf("HTTP %d - %s", code, reason)
}

// BodyMessage decodes a JSON body for display. A JSON string is returned
// as is; any other JSON value, null included, is re-rendered with two-space
// indentation keeping the original key order. ok is false when the body is
// not a single JSON value or is the empty string.
func BodyMessage(body []byte) (msg string, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return "", false
	}
	v, err := decodeJSON(trimmed)
	if err != nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, s != ""
	}
	return renderJSON(v), true
}
