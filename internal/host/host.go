// Package host describes the browser automation surface the monitor observes.
// Implementations wrap a real browser (see internal/cdp) or an in-memory
// stand-in for tests (see hosttest).
package host

import (
	"context"
	"errors"
)

// Kind names one of the three network lifecycle events a host raises.
type Kind string

const (
	RequestStarted   Kind = "request-started"
	ResponseReceived Kind = "response-received"
	RequestFailed    Kind = "request-failed"
)

// ErrNoPostData is returned by Request.PostData when the request has no body.
var ErrNoPostData = errors.New("request has no post data")

// Request is a host-side view of an outbound request. Identity must be
// comparable and stable for the lifetime of the request; it is only ever
// compared for equality.
type Request interface {
	Identity() any
	URL() string
	Method() string
	ResourceType() string
	Headers(ctx context.Context) (map[string]string, error)
	PostData(ctx context.Context) (string, error)
	FailureReason() string
}

// Response is a host-side view of a received response.
type Response interface {
	Request() Request
	URL() string
	Status() int
	StatusText() string
	Headers(ctx context.Context) (map[string]string, error)
	Body(ctx context.Context) ([]byte, error)
}

// Handlers bundles the callbacks for all three event kinds.
type Handlers struct {
	OnRequest       func(ctx context.Context, req Request)
	OnResponse      func(ctx context.Context, resp Response)
	OnRequestFailed func(ctx context.Context, req Request)
}

// Subscription is returned by Host.Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Host delivers network lifecycle events to subscribed handlers. ctx bounds
// any setup the host performs, not the lifetime of the subscription.
type Host interface {
	Subscribe(ctx context.Context, h Handlers) (Subscription, error)
}
