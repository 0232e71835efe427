package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failure independently of the provider that produced it.
type Kind string

const (
	KindUnknownModel        Kind = "unknown_model"
	KindAuth                Kind = "auth"
	KindRateLimit           Kind = "rate_limit"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindMalformedResponse   Kind = "malformed_response"
	KindInvalidRequest      Kind = "invalid_request"
)

var (
	// ErrUnknownModel indicates the requested model is not in the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrAuth indicates the provider rejected the API key.
	ErrAuth = errors.New("provider authentication failed")
	// ErrRateLimit indicates the provider throttled the request.
	ErrRateLimit = errors.New("provider rate limit exceeded")
	// ErrUpstreamUnavailable covers 5xx responses, timeouts and transport failures.
	ErrUpstreamUnavailable = errors.New("provider unavailable")
	// ErrMalformedResponse indicates a response that could not be normalised.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrInvalidRequest indicates the request was rejected before or by the provider.
	ErrInvalidRequest = errors.New("invalid request")
)

var kindSentinels = map[Kind]error{
	KindUnknownModel:        ErrUnknownModel,
	KindAuth:                ErrAuth,
	KindRateLimit:           ErrRateLimit,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindMalformedResponse:   ErrMalformedResponse,
	KindInvalidRequest:      ErrInvalidRequest,
}

// Error is the canonical failure surfaced by adapters and the router.
type Error struct {
	Kind       Kind
	Provider   string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(sentinel.Error())
	} else if e.Kind != "" {
		b.WriteString(string(e.Kind))
	} else {
		b.WriteString("provider error")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrAuth) works.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewError constructs a classified error.
func NewError(kind Kind, providerName, message string) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message}
}

// AsError extracts the canonical error from a chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error, or "" when err is not one.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return ""
}

// StatusError classifies a non-2xx provider status. message carries the
// provider's own error text when its envelope could be decoded.
func StatusError(providerName string, status int, message string) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusRequestTimeout || status >= 500:
		kind = KindUpstreamUnavailable
	default:
		kind = KindInvalidRequest
	}
	return &Error{Kind: kind, Provider: providerName, Message: message, StatusCode: status}
}

// TransportError classifies a failure to obtain any response at all.
func TransportError(providerName string, err error) *Error {
	msg := "request failed"
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		msg = "request timed out"
	}
	return &Error{Kind: KindUpstreamUnavailable, Provider: providerName, Message: msg, Err: err}
}

// Malformed reports a 2xx body that does not match the provider's envelope.
func Malformed(providerName, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: providerName, Message: fmt.Sprintf(format, args...)}
}
