package quota

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// RetryAfterInfinite is reported when a rule's limit admits nothing.
	RetryAfterInfinite = math.MaxInt32

	// DefaultQuotaExceededMessage is the block response body template.
	DefaultQuotaExceededMessage = "API calls quota exceeded! maximum admitted {limit} per {period}."

	// DefaultQuotaExceededStatus is the block response status code.
	DefaultQuotaExceededStatus = 429

	// HeaderLimit and the other header names are set by the HTTP middleware.
	HeaderLimit      = "X-Rate-Limit-Limit"
	HeaderRemaining  = "X-Rate-Limit-Remaining"
	HeaderReset      = "X-Rate-Limit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers is the quota state reported to a client for one rule.
type Headers struct {
	Limit     float64
	Period    string
	Remaining float64
	Reset     time.Time
}

// NewHeaders computes headers for rule from counter. Remaining never drops
// below zero.
func NewHeaders(rule Rule, counter Counter) Headers {
	remaining := rule.Limit - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return Headers{
		Limit:     rule.Limit,
		Period:    rule.Period,
		Remaining: remaining,
		Reset:     counter.Timestamp.Add(rule.PeriodDuration).UTC(),
	}
}

// Map renders the headers by name.
func (h Headers) Map() map[string]string {
	return map[string]string{
		HeaderLimit:     formatNumber(h.Limit),
		HeaderRemaining: formatNumber(h.Remaining),
		HeaderReset:     h.Reset.Format(time.RFC3339Nano),
	}
}

// RetryAfterSeconds returns the whole seconds until the window that began
// at timestamp closes, and at least 1. Rules with no positive limit report
// RetryAfterInfinite.
func RetryAfterSeconds(timestamp time.Time, rule Rule, now time.Time) int {
	if rule.Limit <= 0 {
		return RetryAfterInfinite
	}
	remaining := timestamp.Add(rule.PeriodDuration).Sub(now).Seconds()
	secs := int(math.Ceil(remaining))
	if secs < 1 {
		return 1
	}
	return secs
}

// RetryAfter is RetryAfterSeconds rendered as a header value.
func RetryAfter(timestamp time.Time, rule Rule, now time.Time) string {
	return strconv.Itoa(RetryAfterSeconds(timestamp, rule, now))
}

// QuotaExceededMessage fills {limit}, {period} and {retryAfter} in
// template. An empty template uses DefaultQuotaExceededMessage.
func QuotaExceededMessage(template string, rule Rule, retryAfter string) string {
	if template == "" {
		template = DefaultQuotaExceededMessage
	}
	return strings.NewReplacer(
		"{limit}", formatNumber(rule.Limit),
		"{period}", rule.Period,
		"{retryAfter}", retryAfter,
	).Replace(template)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
