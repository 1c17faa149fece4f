// Package hosttest provides an in-memory host.Host for exercising the monitor
// without a browser.
package hosttest

import (
	"context"
	"errors"
	"sync"

	"github.com/dgnsrekt/netmon/internal/host"
)

// Host is a host.Host whose events are raised explicitly by the test.
// Fire* methods invoke the subscribed handlers synchronously.
type Host struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]host.Handlers

	SubscribeErr error
}

func New() *Host {
	return &Host{subs: make(map[int]host.Handlers)}
}

type subscription struct {
	h  *Host
	id int
}

func (s subscription) Unsubscribe() {
	s.h.mu.Lock()
	delete(s.h.subs, s.id)
	s.h.mu.Unlock()
}

func (h *Host) Subscribe(_ context.Context, handlers host.Handlers) (host.Subscription, error) {
	if h.SubscribeErr != nil {
		return nil, h.SubscribeErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	h.subs[h.nextSub] = handlers
	return subscription{h: h, id: h.nextSub}, nil
}

// Subscribers returns the number of active subscriptions.
func (h *Host) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Host) snapshot() []host.Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Handlers, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *Host) FireRequest(req *Request) {
	for _, s := range h.snapshot() {
		if s.OnRequest != nil {
			s.OnRequest(context.Background(), req)
		}
	}
}

func (h *Host) FireResponse(resp *Response) {
	for _, s := range h.snapshot() {
		if s.OnResponse != nil {
			s.OnResponse(context.Background(), resp)
		}
	}
}

func (h *Host) FireFailed(req *Request) {
	for _, s := range h.snapshot() {
		if s.OnRequestFailed != nil {
			s.OnRequestFailed(context.Background(), req)
		}
	}
}

// Request is a scripted host.Request. A nil ID makes the request its own
// identity (pointer equality).
type Request struct {
	ID         any
	RawURL     string
	HTTPMethod string
	Type       string
	Header     map[string]string
	HeaderErr  error
	Post       *string
	PostErr    error
	Failure    string
}

func (r *Request) Identity() any {
	if r.ID != nil {
		return r.ID
	}
	return r
}

func (r *Request) URL() string          { return r.RawURL }
func (r *Request) Method() string       { return r.HTTPMethod }
func (r *Request) ResourceType() string { return r.Type }
func (r *Request) FailureReason() string {
	return r.Failure
}

func (r *Request) Headers(context.Context) (map[string]string, error) {
	if r.HeaderErr != nil {
		return nil, r.HeaderErr
	}
	return r.Header, nil
}

func (r *Request) PostData(context.Context) (string, error) {
	if r.PostErr != nil {
		return "", r.PostErr
	}
	if r.Post == nil {
		return "", host.ErrNoPostData
	}
	return *r.Post, nil
}

// Response is a scripted host.Response.
type Response struct {
	Req       *Request
	RawURL    string
	Code      int
	Text      string
	Header    map[string]string
	HeaderErr error
	Payload   []byte
	BodyErr   error
	BodyGate  chan struct{}
}

func (r *Response) Request() host.Request {
	if r.Req == nil {
		return nil
	}
	return r.Req
}

func (r *Response) URL() string {
	if r.RawURL == "" && r.Req != nil {
		return r.Req.RawURL
	}
	return r.RawURL
}

func (r *Response) Status() int        { return r.Code }
func (r *Response) StatusText() string { return r.Text }

func (r *Response) Headers(context.Context) (map[string]string, error) {
	if r.HeaderErr != nil {
		return nil, r.HeaderErr
	}
	return r.Header, nil
}

// Body blocks on BodyGate when set, so tests can hold a read in flight.
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if r.BodyGate != nil {
		select {
		case <-r.BodyGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.BodyErr != nil {
		return nil, r.BodyErr
	}
	if r.Payload == nil {
		return nil, errors.New("no body")
	}
	return r.Payload, nil
}

// Str is a convenience for building optional string fields.
func Str(s string) *string { return &s }
