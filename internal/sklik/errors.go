package sklik

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrorKind classifies API failures so callers can branch on kind instead of
// matching error strings.
type ErrorKind int

const (
	// KindFatal is an unrecoverable API error (user error, exhausted retries).
	KindFatal ErrorKind = iota
	// KindTransient is a server-side condition worth retrying with re-login.
	KindTransient
	// KindRateLimited carries an explicit wait duration demanded by the server.
	KindRateLimited
	// KindAuthFailure means bad credentials or token; never retried.
	KindAuthFailure
	// KindContractViolation means a well-formed 200 response is missing an
	// expected field.
	KindContractViolation
	// KindValidation is a user-facing configuration or input error.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailure:
		return "auth_failure"
	case KindContractViolation:
		return "contract_violation"
	case KindValidation:
		return "validation"
	default:
		return "fatal"
	}
}

// RedactedPlaceholder replaces session tokens and login credentials wherever
// arguments are embedded in logs or errors.
const RedactedPlaceholder = "--omitted--"

// Error is a failed Sklik API call with enough context to diagnose it without
// reproducing the call. Args are always redacted before being stored.
type Error struct {
	Kind       ErrorKind
	Message    string
	Method     string
	Args       []interface{}
	StatusCode int
	Response   map[string]interface{}
	// Wait is only set for KindRateLimited.
	Wait time.Duration
}

func (e *Error) Error() string {
	payload, err := json.Marshal(map[string]interface{}{
		"error":      e.Message,
		"method":     e.Method,
		"args":       e.Args,
		"statusCode": e.StatusCode,
		"response":   e.Response,
	})
	if err != nil {
		return fmt.Sprintf("%s: %s (method %s, status %d)", e.Kind, e.Message, e.Method, e.StatusCode)
	}
	return string(payload)
}

// apiError builds an Error with redacted args.
func apiError(kind ErrorKind, message, method string, args []interface{}, statusCode int, response map[string]interface{}) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Method:     method,
		Args:       FilterParamsForLog(args, method),
		StatusCode: statusCode,
		Response:   response,
	}
}

// ErrorKindOf extracts the kind of err, or KindFatal for foreign errors.
func ErrorKindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindFatal
}

// FilterParamsForLog redacts secrets from call arguments before they reach a
// log line or error payload. The session value of the leading user struct is
// replaced, and for login calls the whole argument list collapses to a single
// placeholder because it holds raw credentials.
func FilterParamsForLog(args []interface{}, method string) []interface{} {
	if method == methodLoginByToken || method == methodLogin {
		return []interface{}{RedactedPlaceholder}
	}
	filtered := make([]interface{}, len(args))
	copy(filtered, args)
	if len(filtered) > 0 {
		if user, ok := filtered[0].(map[string]interface{}); ok {
			if _, hasSession := user["session"]; hasSession {
				redacted := make(map[string]interface{}, len(user))
				for k, v := range user {
					redacted[k] = v
				}
				redacted["session"] = RedactedPlaceholder
				filtered[0] = redacted
			}
		}
	}
	return filtered
}

var rateLimitWaitPattern = regexp.MustCompile(`Too many requests\. Has to wait (\d+)\[(s|m|h)\]\.`)

// IsRateLimitMessage reports whether the server's error text is the
// too-many-requests signal that carries a cooldown duration.
func IsRateLimitMessage(message string) bool {
	return rateLimitWaitPattern.MatchString(message)
}

// ParseRateLimitWait extracts the wait duration from a too-many-requests
// message. An unparseable message is a fatal condition, not a retry.
func ParseRateLimitWait(message string) (time.Duration, error) {
	matches := rateLimitWaitPattern.FindStringSubmatch(message)
	if matches == nil {
		return 0, fmt.Errorf("cannot parse waiting time from message: %s", message)
	}
	count, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("cannot parse waiting time from message: %s", message)
	}
	switch matches[2] {
	case "s":
		return time.Duration(count) * time.Second, nil
	case "m":
		return time.Duration(count) * time.Minute, nil
	case "h":
		return time.Duration(count) * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown wait unit %q in message: %s", matches[2], message)
}
