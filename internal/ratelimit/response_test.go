package ratelimit

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRejection_NilOnAllowed(t *testing.T) {
	assert.Nil(t, BuildRejection(&Decision{Allowed: true, Limit: 10, Remaining: 3}))
	assert.Nil(t, BuildRejection(nil))
}

func TestBuildRejection_RejectedResponse(t *testing.T) {
	decision := &Decision{
		Allowed: false,
		Limit:   10,
		ResetAt: time.Now().Add(42 * time.Second),
		Message: "Too many chat requests.",
	}

	rej := BuildRejection(decision)
	require.NotNil(t, rej)

	w := httptest.NewRecorder()
	rej.Write(w)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body RejectionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too many chat requests.", body.Error)
	assert.Greater(t, body.RetryAfter, 0)
}

func TestBuildRejection_RetryAfterFloor(t *testing.T) {
	// A reset time in the past still yields a usable hint.
	rej := BuildRejection(&Decision{
		Allowed: false,
		Limit:   5,
		ResetAt: time.Now().Add(-time.Second),
	})

	require.NotNil(t, rej)
	assert.Equal(t, 1, rej.RetryAfter)
}
