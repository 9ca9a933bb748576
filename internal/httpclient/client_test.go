package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sodown4thecause/seobot-sub007/internal/errors"
)

func testClient(t *testing.T) *Client {
	t.Helper()

	c := New("test-upstream", slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	return c
}

// attemptRecorder counts attempts and records the request id seen on each.
type attemptRecorder struct {
	mu         sync.Mutex
	attempts   int
	requestIDs []string
}

func (a *attemptRecorder) record(r *http.Request) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	a.requestIDs = append(a.requestIDs, r.Header.Get("X-Request-ID"))
	return a.attempts
}

func (a *attemptRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

func TestExecute_RetryCeiling(t *testing.T) {
	rec := &attemptRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	_, err := c.Get(context.Background(), srv.URL, Options{MaxRetries: 2})

	require.Error(t, err)
	assert.Equal(t, 3, rec.count(), "maxRetries=2 means exactly 3 attempts")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "HTTP_503", appErr.Code)
	assert.NotEmpty(t, appErr.Details["request_id"])
	assert.Contains(t, appErr.Details, "duration_ms")
}

func TestExecute_SuccessAfterRetries_SharesRequestID(t *testing.T) {
	rec := &attemptRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	result, err := c.Get(context.Background(), srv.URL, Options{MaxRetries: 3})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 3, rec.count())

	require.Len(t, rec.requestIDs, 3)
	assert.Equal(t, rec.requestIDs[0], rec.requestIDs[1])
	assert.Equal(t, rec.requestIDs[0], rec.requestIDs[2])
	assert.Equal(t, rec.requestIDs[0], result.RequestID)
}

func TestExecute_UpstreamThrottleRetriedAndMapped(t *testing.T) {
	rec := &attemptRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	_, err := c.Get(context.Background(), srv.URL, Options{MaxRetries: 1})

	require.Error(t, err)
	assert.Equal(t, 2, rec.count(), "429 is retried like a transient failure")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeRateLimited, appErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
	assert.True(t, appErr.Retryable)
	assert.Contains(t, appErr.Message, "7")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7, parseRetryAfter("7"))
	assert.Equal(t, 0, parseRetryAfter(""))
	assert.Equal(t, 0, parseRetryAfter("-3"))
	assert.Equal(t, 0, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestExecute_NonRetryableStatusFailsFast(t *testing.T) {
	rec := &attemptRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"keyword list is empty"}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	_, err := c.Post(context.Background(), srv.URL, Options{MaxRetries: 3})

	require.Error(t, err)
	assert.Equal(t, 1, rec.count(), "4xx other than 429 must not be retried")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "HTTP_422", appErr.Code)
	assert.Equal(t, "keyword list is empty", appErr.Message)
	assert.False(t, appErr.Retryable)
}

func TestExecute_DecodesIntoTargetAndValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"volume":120}`))
	}))
	t.Cleanup(srv.Close)

	type keywordData struct {
		Keyword string `json:"keyword" validate:"required"`
		Volume  int    `json:"volume"`
	}

	c := testClient(t)
	_, err := c.Get(context.Background(), srv.URL, Options{Into: &keywordData{}})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code)
	assert.False(t, appErr.Retryable)
}

func TestExecute_DecodesValidTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keyword":"seo audit","volume":120}`))
	}))
	t.Cleanup(srv.Close)

	type keywordData struct {
		Keyword string `json:"keyword" validate:"required"`
		Volume  int    `json:"volume"`
	}

	c := testClient(t)
	var into keywordData
	result, err := c.Get(context.Background(), srv.URL, Options{Into: &into})

	require.NoError(t, err)
	assert.Equal(t, "seo audit", into.Keyword)
	assert.Equal(t, &into, result.Data)
}

func TestExecute_PlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	result, err := c.Get(context.Background(), srv.URL, Options{})

	require.NoError(t, err)
	assert.Equal(t, "pong", result.Data)
}

func TestExecute_CallerCancellationNotRetried(t *testing.T) {
	rec := &attemptRecorder{}
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := testClient(t)
	_, err := c.Get(ctx, srv.URL, Options{MaxRetries: 3})

	require.Error(t, err)
	assert.Equal(t, 1, rec.count(), "external cancellation must not be retried")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeTimeout, appErr.Code)
}

func TestExecute_AttemptTimeoutRetried(t *testing.T) {
	rec := &attemptRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	c := testClient(t)
	_, err := c.Get(context.Background(), srv.URL, Options{
		Timeout:    20 * time.Millisecond,
		MaxRetries: 1,
	})

	require.Error(t, err)
	assert.Equal(t, 2, rec.count(), "per-attempt timeouts are retried")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeTimeout, appErr.Code)
}

func TestExecute_NetworkErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(t)
	_, err := c.Get(context.Background(), url, Options{MaxRetries: 1})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNetwork, appErr.Code)
}

func TestBackoff_MonotonicCap(t *testing.T) {
	c := testClient(t)
	base := 1 * time.Second

	for attempt := 0; attempt < 12; attempt++ {
		delay := c.backoff(attempt, base)

		assert.LessOrEqual(t, delay, 30*time.Second)

		expected := base << uint(attempt)
		if expected < 30*time.Second {
			assert.GreaterOrEqual(t, delay, expected, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, expected+time.Second, "attempt %d", attempt)
		}
	}
}
