package backoff

import (
	"net"
	"strings"
	"time"
)

// retryableSubstrings are lower-cased fragments that, when found in an
// error's message, mark it retryable: the usual named vendor errors
// (rate limit, connection, timeout, internal server, service
// unavailable) plus the numeric HTTP statuses.
var retryableSubstrings = []string{
	"rate limit", "rate_limit", "429",
	"timeout", "timed out", "deadline exceeded",
	"connection reset", "connection refused", "econnreset", "econnrefused",
	"no such host", "dns",
	"overloaded", "capacity", "quota",
	"internal server", "500", "502", "503", "504",
	"service unavailable", "bad gateway",
}

// nonRetryableSubstrings win over retryableSubstrings when both appear.
var nonRetryableSubstrings = []string{
	"unauthorized", "authentication", "invalid api key", "401", "403",
	"forbidden", "permission",
	"bad request", "invalid_request", "400",
	"not found", "404",
	"content policy", "content_filter",
}

// DefaultClassifier decides retryability by substring matching over the
// error text. It additionally recognizes net.Error timeouts directly
// rather than only by message text.
func DefaultClassifier(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var netErr net.Error
	if as(err, &netErr) && netErr.Timeout() {
		return Classification{Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return Classification{Retryable: false}
		}
	}

	retryable := false
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			retryable = true
			break
		}
	}
	if !retryable {
		return Classification{}
	}

	cls := Classification{Retryable: true}
	if d, ok := ExtractRetryAfterFromMessage(err.Error(), time.Now()); ok {
		cls.RetryAfter = &d
	}
	return cls
}

// as walks err's single-error Unwrap chain and stores the first net.Error
// it finds in target. It does not use errors.As, so errors joined with
// errors.Join (Unwrap() []error) are not searched.
func as(err error, target *net.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// StatusClassifier builds a Classification purely from an HTTP status code and
// an optional Retry-After header value, for adapters that can observe the
// transport status directly instead of parsing error text.
func StatusClassifier(status int, retryAfterHeader string) Classification {
	retryable := status == 429 || (status >= 500 && status <= 504)
	cls := Classification{Retryable: retryable}
	if retryAfterHeader != "" {
		if d, ok := ExtractRetryAfter(retryAfterHeader, time.Now()); ok {
			cls.RetryAfter = &d
		}
	}
	return cls
}
