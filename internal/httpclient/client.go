// Package httpclient implements the resilient executor every outbound call
// passes through: per-attempt timeout, retry with exponential backoff and
// jitter, response validation and uniform error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"math/rand"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sodown4thecause/seobot-sub007/internal/errors"
	"github.com/sodown4thecause/seobot-sub007/pkg/metrics"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 1 * time.Second

	// maxBackoff caps exponential growth so late attempts do not stall for
	// minutes; jitter desynchronizes concurrent retriers.
	maxBackoff = 30 * time.Second
	maxJitter  = 1 * time.Second

	requestIDHeader = "X-Request-ID"

	// responses larger than this are truncated rather than buffered whole.
	maxBodyBytes = 10 << 20
)

// defaultRetryableStatuses are the transport-transient statuses retried by
// default. 429 and all 5xx are treated as retryable regardless.
var defaultRetryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Options tunes a single logical call. Zero values take the package
// defaults; MaxRetries < 0 disables retries entirely.
type Options struct {
	Method         string
	Headers        map[string]string
	Body           any
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	// RetryableStatuses overrides the default retryable status set.
	RetryableStatuses map[int]struct{}

	// Into, when non-nil, receives the decoded JSON body. Struct targets
	// are checked against their validate tags; a mismatch fails the call
	// with VALIDATION_ERROR and is never retried.
	Into any
}

// Result is the successful outcome of a logical call. RequestID is shared
// by every retry attempt of the call; Duration is cumulative wall time from
// the first attempt's start to the final attempt's completion.
type Result struct {
	Data       any
	Body       []byte
	StatusCode int
	RequestID  string
	Duration   time.Duration
}

// Client executes outbound calls against one named upstream.
type Client struct {
	name       string
	httpClient *http.Client
	log        *slog.Logger
	validate   *validator.Validate

	sleep func(ctx context.Context, d time.Duration) error
	rand  *rand.Rand
}

// New constructs an executor for the named upstream. The name labels
// metrics and log records; it does not affect routing.
func New(name string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		name: name,
		// per-attempt deadlines come from context, not http.Client.Timeout
		httpClient: &http.Client{},
		log:        log,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		sleep:      sleepCtx,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts Options) (*Result, error) {
	opts.Method = http.MethodGet
	return c.Execute(ctx, url, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, opts Options) (*Result, error) {
	opts.Method = http.MethodPost
	return c.Execute(ctx, url, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts Options) (*Result, error) {
	opts.Method = http.MethodPut
	return c.Execute(ctx, url, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts Options) (*Result, error) {
	opts.Method = http.MethodDelete
	return c.Execute(ctx, url, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, opts Options) (*Result, error) {
	opts.Method = http.MethodPatch
	return c.Execute(ctx, url, opts)
}

// Execute performs one logical call with retries. Transient failures
// (timeouts, network errors, retryable statuses) are retried with
// exponential backoff until attempts are exhausted; non-transient failures
// and caller cancellation surface immediately.
func (c *Client) Execute(ctx context.Context, url string, opts Options) (*Result, error) {
	applyDefaults(&opts)

	bodyBytes, err := encodeBody(opts.Body)
	if err != nil {
		return nil, errors.NewValidationError("encode request body", err)
	}

	requestID := uuid.NewString()
	start := time.Now()

	var terminal *errors.AppError

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt-1, opts.RetryBaseDelay)
			c.log.Debug("retrying upstream call",
				slog.String("upstream", c.name),
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, c.finish(errors.NewTimeoutError(err), requestID, start, 0)
			}
		}

		result, appErr, retryable := c.attempt(ctx, url, opts, bodyBytes, requestID)
		if appErr == nil {
			result.RequestID = requestID
			result.Duration = time.Since(start)
			metrics.RecordUpstreamCall(c.name, result.Duration)
			return result, nil
		}

		if !retryable {
			return nil, c.finish(appErr, requestID, start, appErr.StatusCode)
		}

		terminal = appErr
	}

	return nil, c.finish(terminal, requestID, start, terminal.StatusCode)
}

// attempt performs one network attempt. The returned bool reports whether
// the failure may be retried.
func (c *Client) attempt(ctx context.Context, url string, opts Options, body []byte, requestID string) (*Result, *errors.AppError, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, opts.Method, url, reader)
	if err != nil {
		return nil, errors.NewValidationError("build request", err), false
	}

	req.Header.Set(requestIDHeader, requestID)
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is never retried; a per-attempt timeout is.
		if ctx.Err() != nil {
			metrics.RecordUpstreamAttempt(c.name, "cancelled")
			return nil, errors.NewTimeoutError(ctx.Err()), false
		}
		if stderrors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			metrics.RecordUpstreamAttempt(c.name, "timeout")
			return nil, errors.NewTimeoutError(err), true
		}
		metrics.RecordUpstreamAttempt(c.name, "network_error")
		return nil, errors.NewNetworkError(err), true
	}
	defer resp.Body.Close()

	metrics.RecordUpstreamAttempt(c.name, strconv.Itoa(resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError(ctx.Err()), false
		}
		return nil, errors.NewNetworkError(err), true
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		appErr := errors.NewRateLimitError(parseRetryAfter(resp.Header.Get("Retry-After")))
		// upstream throttling is transient, unlike an admission rejection
		appErr.Retryable = true
		return nil, appErr, true
	}

	if isRetryableStatus(resp.StatusCode, opts.RetryableStatuses) {
		return nil, errors.NewUpstreamError(resp.StatusCode, extractErrorMessage(respBody), true), true
	}

	if resp.StatusCode >= 400 {
		return nil, errors.NewUpstreamError(resp.StatusCode, extractErrorMessage(respBody), false), false
	}

	result := &Result{Body: respBody, StatusCode: resp.StatusCode}

	if appErr := c.decode(resp.Header.Get("Content-Type"), respBody, opts.Into, result); appErr != nil {
		return nil, appErr, false
	}

	return result, nil, false
}

// decode parses the body according to Content-Type and validates the target
// shape when one was supplied.
func (c *Client) decode(contentType string, body []byte, into any, result *Result) *errors.AppError {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	if mediaType != "application/json" {
		result.Data = string(body)
		return nil
	}

	if into == nil {
		var data any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &data); err != nil {
				return errors.NewValidationError("decode response body", err)
			}
		}
		result.Data = data
		return nil
	}

	if err := json.Unmarshal(body, into); err != nil {
		return errors.NewValidationError("decode response body", err)
	}

	if err := c.validate.Struct(into); err != nil {
		var invalid *validator.InvalidValidationError
		if !stderrors.As(err, &invalid) {
			return errors.NewValidationError("response failed schema validation", err)
		}
	}

	result.Data = into
	return nil
}

// backoff computes min(base*2^attempt + jitter, maxBackoff).
func (c *Client) backoff(attempt int, base time.Duration) time.Duration {
	delay := base << uint(attempt)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}

	delay += time.Duration(c.rand.Int63n(int64(maxJitter)))
	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}

// finish stamps correlation and timing details onto a terminal failure.
func (c *Client) finish(appErr *errors.AppError, requestID string, start time.Time, status int) *errors.AppError {
	duration := time.Since(start)
	metrics.RecordUpstreamCall(c.name, duration)

	if appErr.Details == nil {
		appErr.Details = make(map[string]any, 3)
	}
	appErr.Details["request_id"] = requestID
	appErr.Details["duration_ms"] = duration.Milliseconds()
	if status != 0 {
		appErr.Details["status_code"] = status
	}

	c.log.Warn("upstream call failed",
		slog.String("upstream", c.name),
		slog.String("request_id", requestID),
		slog.String("code", appErr.Code),
		slog.Duration("duration", duration),
	)

	return appErr
}

func applyDefaults(opts *Options) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.RetryableStatuses == nil {
		opts.RetryableStatuses = defaultRetryableStatuses
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func isRetryableStatus(status int, retryable map[int]struct{}) bool {
	if _, ok := retryable[status]; ok {
		return true
	}

	return status == http.StatusTooManyRequests || status >= 500
}

// parseRetryAfter reads the delay-seconds form of a Retry-After header.
// The HTTP-date form is rare on API upstreams and is treated as absent.
func parseRetryAfter(value string) int {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}

	return seconds
}

// extractErrorMessage pulls a human-readable message out of a JSON error
// body, trying the common "error" and "message" field names.
func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch e := payload.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}

	return payload.Message
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
