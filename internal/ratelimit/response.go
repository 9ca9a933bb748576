package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RejectionBody is the standard 429 payload.
type RejectionBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Rejection is a ready-to-write "too many requests" response.
type Rejection struct {
	Limit      int
	RetryAfter int
	Body       RejectionBody
}

// BuildRejection turns a limiter decision into a rejection response, or nil
// when the decision allows the request. Returning nil on success keeps the
// call-site branching trivial.
func BuildRejection(decision *Decision) *Rejection {
	if decision == nil || decision.Allowed {
		return nil
	}

	retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	message := decision.Message
	if message == "" {
		message = "Too many requests. Please try again later."
	}

	return &Rejection{
		Limit:      decision.Limit,
		RetryAfter: retryAfter,
		Body: RejectionBody{
			Error:      message,
			RetryAfter: retryAfter,
		},
	}
}

// Write emits the 429 response with its rate-limit headers.
func (rej *Rejection) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rej.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rej.Body)
}
