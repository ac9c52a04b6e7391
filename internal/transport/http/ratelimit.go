package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newFrameLimiter allows perMinute inbound frames per connection, refilled
// evenly over the minute. A non-positive limit disables limiting.
func newFrameLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}
