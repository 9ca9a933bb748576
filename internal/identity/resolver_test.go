package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP_ForwardedForFirstHop(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2, 10.0.0.3")

	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func TestClientIP_HeaderPriority(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.4")
	r.Header.Set("CF-Connecting-IP", "192.0.2.9")

	assert.Equal(t, "198.51.100.4", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.33:41234"

	assert.Equal(t, "192.0.2.33", ClientIP(r))
}

func TestKey_PrefersAuthenticatedUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "ip:203.0.113.7", Key(r))

	r = r.WithContext(WithUserID(r.Context(), "user-42"))
	assert.Equal(t, "user:user-42", Key(r))
}
