package fetcher

import (
	"fmt"
	"net/http"
)

// Kind discriminates the fetch outcome variants. Every consumer switches
// exhaustively over Kind; an unknown kind is a programming error.
type Kind int

const (
	// KindSuccess is a 2xx response with a body.
	KindSuccess Kind = iota
	// KindRedirect is a 3xx response carrying a Location header.
	KindRedirect
	// KindNotModified is a 304 response to a conditional request.
	KindNotModified
	// KindBlocked means policy refused the fetch before it reached transport.
	KindBlocked
	// KindFailed is a transport or HTTP-level failure.
	KindFailed
)

// String returns the outcome kind as a report-friendly label.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRedirect:
		return "redirect"
	case KindNotModified:
		return "not_modified"
	case KindBlocked:
		return "blocked"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the tagged result of a fetch attempt. Only the fields of the
// active variant are populated.
type Outcome struct {
	Kind Kind

	// Success / NotModified
	Status      int
	Headers     http.Header
	Body        []byte
	ContentType string

	// Redirect
	Location      string
	RemainingHops int

	// Blocked
	Reason string

	// Failed
	Retryable bool
	Cause     error
}

// Success builds a success outcome.
func Success(status int, headers http.Header, body []byte, contentType string) Outcome {
	return Outcome{
		Kind:        KindSuccess,
		Status:      status,
		Headers:     headers,
		Body:        body,
		ContentType: contentType,
	}
}

// Redirect builds a redirect outcome pointing at location.
func Redirect(status int, location string, remainingHops int) Outcome {
	return Outcome{
		Kind:          KindRedirect,
		Status:        status,
		Location:      location,
		RemainingHops: remainingHops,
	}
}

// NotModified builds a 304 outcome.
func NotModified(headers http.Header) Outcome {
	return Outcome{
		Kind:    KindNotModified,
		Status:  http.StatusNotModified,
		Headers: headers,
	}
}

// Blocked builds a policy-refused outcome with a reason label.
func Blocked(reason string) Outcome {
	return Outcome{
		Kind:   KindBlocked,
		Reason: reason,
	}
}

// Failed builds a failure outcome. Retryable failures are re-attempted with
// backoff; non-retryable ones are terminal immediately.
func Failed(retryable bool, cause error) Outcome {
	return Outcome{
		Kind:      KindFailed,
		Retryable: retryable,
		Cause:     cause,
	}
}
