package gmail

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"google.golang.org/api/googleapi"
)

// Sentinels for errors.Is. Each concrete error type below matches exactly one.
var (
	ErrListingFailed  = errors.New("gmail: listing failed")
	ErrParse          = errors.New("gmail: malformed batch response")
	ErrFatalBatchItem = errors.New("gmail: fatal batch item")
	ErrRateLimited    = errors.New("gmail: rate limited")
	ErrMissingRecord  = errors.New("gmail: missing record for requested message")
)

const snippetLimit = 200

// BatchFailure is one message that did not come back with a 2xx sub-response.
// Status 0 means no response was received for it.
type BatchFailure struct {
	MessageID string
	Status    int
	Snippet   string
}

// ListingError aborts a listing. Status 0 means the request never got a response.
type ListingError struct {
	Status  int
	Snippet string
	Err     error
}

func (e *ListingError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("list messages: transport failure: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("list messages: status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("list messages: status %d: %s", e.Status, e.Snippet)
	}
}

func (e *ListingError) Is(target error) bool { return target == ErrListingFailed }
func (e *ListingError) Unwrap() error        { return e.Err }

// ParseError reports batch framing the client does not understand. It is never retried.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string        { return "parse batch response: " + e.Reason }
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// FatalBatchError carries every non-retryable failure seen in one attempt.
type FatalBatchError struct {
	Failures []BatchFailure
}

func (e *FatalBatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s (status %d): %s", f.MessageID, f.Status, f.Snippet)
	}
	return fmt.Sprintf("fetch headers: %d message(s) failed permanently: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *FatalBatchError) Is(target error) bool { return target == ErrFatalBatchItem }

// RateLimitedError means retryable failures outlasted the attempt budget.
type RateLimitedError struct {
	Unresolved []string
	Attempts   int
}

func (e *RateLimitedError) Error() string {
	const show = 10
	ids := e.Unresolved
	more := ""
	if len(ids) > show {
		more = fmt.Sprintf(" and %d more", len(ids)-show)
		ids = ids[:show]
	}
	return fmt.Sprintf("fetch headers: rate limited: %d message(s) unresolved after %d attempts: %s%s",
		len(e.Unresolved), e.Attempts, strings.Join(ids, ", "), more)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// retryable reports whether a failure looks like transient API pressure.
func retryable(f BatchFailure) bool {
	switch f.Status {
	case 0, http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return mentionsRateLimit(f.Snippet)
	default:
		return false
	}
}

func mentionsRateLimit(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"ratelimitexceeded", "rate limit", "backenderror"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func splitFailures(failures []BatchFailure) (retry []string, fatal []BatchFailure) {
	for _, f := range failures {
		if retryable(f) {
			retry = append(retry, f.MessageID)
		} else {
			fatal = append(fatal, f)
		}
	}
	return retry, fatal
}

// diagnostic renders an error body for humans. Google JSON errors are reduced
// to their message and reasons; anything else is passed through. Always bounded.
func diagnostic(body []byte) string {
	var env struct {
		Error *googleapi.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		var b strings.Builder
		b.WriteString(env.Error.Message)
		for _, item := range env.Error.Errors {
			if item.Reason != "" {
				b.WriteString(" [" + item.Reason + "]")
			}
		}
		return truncate(b.String())
	}
	return truncate(string(body))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetLimit {
		return s
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
