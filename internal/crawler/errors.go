package crawler

import (
	"errors"
	"fmt"
)

// CrawlError kinds.
const (
	ErrKindInvalidURL     = "invalid_url"
	ErrKindNetwork        = "network"
	ErrKindTimeout        = "timeout"
	ErrKindHTTP4xx        = "http_4xx"
	ErrKindHTTP5xxExhaust = "http_5xx_exhausted"
)

// CrawlError classifies a fetch failure. 4xx errors are permanent and not
// retried; network, timeout and 5xx errors carry the attempt count after
// retries were exhausted.
type CrawlError struct {
	Kind       string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *CrawlError) Error() string {
	msg := fmt.Sprintf("fetch %s failed (%s)", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" HTTP %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// IsPermanentNotFound reports whether the error is a 404/410, which delists
// the product rather than counting as a transient failure.
func IsPermanentNotFound(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind == ErrKindHTTP4xx && (ce.StatusCode == 404 || ce.StatusCode == 410)
	}
	return false
}
