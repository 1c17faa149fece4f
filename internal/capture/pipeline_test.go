package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/netmon/internal/eventlog"
	"github.com/dgnsrekt/netmon/internal/host/hosttest"
	"github.com/dgnsrekt/netmon/internal/types"
)

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *eventlog.Log) {
	t.Helper()
	if cfg.Now == nil {
		clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: 50 * time.Millisecond}
		cfg.Now = clock.Now
	}
	log := eventlog.New(100)
	p := NewPipeline(cfg, log)
	p.Activate()
	return p, log
}

func TestRequestThenResponseCorrelates(t *testing.T) {
	p, log := newTestPipeline(t, Config{})
	ctx := context.Background()

	req := &hosttest.Request{RawURL: "https://api.example.com/users", HTTPMethod: "GET", Type: "XHR",
		Header: map[string]string{"Accept": "application/json"}}
	p.OnRequest(ctx, req)
	p.OnResponse(ctx, &hosttest.Response{Req: req, Code: 200, Text: "OK"})

	events := log.All()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d; want 2", len(events))
	}
	reqEv, respEv := events[0], events[1]
	if reqEv.Kind != types.KindRequest || respEv.Kind != types.KindResponse {
		t.Fatalf("kinds = %s, %s; want request, response", reqEv.Kind, respEv.Kind)
	}
	if respEv.Request == nil {
		t.Fatal("response event has no correlated request")
	}
	if respEv.ID != reqEv.ID || respEv.Response.ID != reqEv.Request.ID {
		t.Fatalf("response id = %d; want request id %d", respEv.ID, reqEv.ID)
	}
	if got := respEv.Response.Timing.Duration; got != 50 {
		t.Fatalf("response duration = %d; want 50", got)
	}
	if reqEv.Request.Timing.Duration == nil || *reqEv.Request.Timing.Duration != 50 {
		t.Fatalf("request timing not stamped: %+v", reqEv.Request.Timing)
	}
	if reqEv.Request.Headers["Accept"] != "application/json" {
		t.Fatalf("request headers = %v", reqEv.Request.Headers)
	}
}

func TestUncorrelatedResponseGetsFreshID(t *testing.T) {
	p, log := newTestPipeline(t, Config{})
	ctx := context.Background()

	p.OnRequest(ctx, &hosttest.Request{RawURL: "https://a.test/1", HTTPMethod: "GET"})
	orphan := &hosttest.Request{RawURL: "https://a.test/2", HTTPMethod: "GET"}
	p.OnResponse(ctx, &hosttest.Response{Req: orphan, Code: 204})

	events := log.All()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d; want 2", len(events))
	}
	resp := events[1]
	if resp.Request != nil {
		t.Fatalf("orphan response correlated with %+v", resp.Request)
	}
	if resp.ID == events[0].ID {
		t.Fatalf("orphan response reused id %d", resp.ID)
	}
	if resp.Response.Timing.Duration != 0 {
		t.Fatalf("orphan duration = %d; want 0", resp.Response.Timing.Duration)
	}
}

func TestSameURLConcurrentRequestsStaySeparate(t *testing.T) {
	p, log := newTestPipeline(t, Config{})
	ctx := context.Background()

	a := &hosttest.Request{RawURL: "https://a.test/poll", HTTPMethod: "GET"}
	b := &hosttest.Request{RawURL: "https://a.test/poll", HTTPMethod: "GET"}
	p.OnRequest(ctx, a)
	p.OnRequest(ctx, b)
	p.OnResponse(ctx, &hosttest.Response{Req: b, Code: 200})
	p.OnResponse(ctx, &hosttest.Response{Req: a, Code: 200})

	responses := log.ByKind(types.KindResponse)
	if responses[0].ID != 2 || responses[1].ID != 1 {
		t.Fatalf("response ids = %d, %d; want 2, 1", responses[0].ID, responses[1].ID)
	}
}

func TestHandlersAreNoOpsWhenInactive(t *testing.T) {
	log := eventlog.New(10)
	p := NewPipeline(Config{}, log)
	ctx := context.Background()

	req := &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "GET"}
	p.OnRequest(ctx, req)
	p.OnResponse(ctx, &hosttest.Response{Req: req, Code: 200})
	p.OnRequestFailed(ctx, req)

	if got := log.Len(); got != 0 {
		t.Fatalf("log.Len() = %d; want 0 while inactive", got)
	}
}

func TestRequestBodyOverLimitIsOmitted(t *testing.T) {
	p, log := newTestPipeline(t, Config{CaptureRequestBodies: true, MaxBodySize: 5})
	body := `{"name":"John","email":"j@x.io"}` + "!"
	if len(body) != 33 {
		t.Fatalf("fixture body length = %d; want 33", len(body))
	}

	p.OnRequest(context.Background(), &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "POST", Post: hosttest.Str(body)})

	ev := log.All()[0]
	if ev.Request.PostData != nil {
		t.Fatalf("PostData = %q; want nil", *ev.Request.PostData)
	}
}

func TestRequestBodyWithinLimitIsKept(t *testing.T) {
	p, log := newTestPipeline(t, Config{CaptureRequestBodies: true, MaxBodySize: 64})
	p.OnRequest(context.Background(), &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "POST", Post: hosttest.Str("a=1")})

	ev := log.All()[0]
	if ev.Request.PostData == nil || *ev.Request.PostData != "a=1" {
		t.Fatalf("PostData = %v; want a=1", ev.Request.PostData)
	}
}

func TestResponseBodies(t *testing.T) {
	p, log := newTestPipeline(t, Config{CaptureResponseBodies: true, MaxBodySize: 1024})
	ctx := context.Background()

	jsonReq := &hosttest.Request{RawURL: "https://a.test/data", HTTPMethod: "GET"}
	imgReq := &hosttest.Request{RawURL: "https://a.test/logo.png", HTTPMethod: "GET"}
	p.OnRequest(ctx, jsonReq)
	p.OnRequest(ctx, imgReq)
	p.OnResponse(ctx, &hosttest.Response{Req: jsonReq, Code: 200,
		Header: map[string]string{"Content-Type": "application/json"}, Payload: []byte(`{"a":1}`)})
	raw := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	p.OnResponse(ctx, &hosttest.Response{Req: imgReq, Code: 200,
		Header: map[string]string{"content-type": "image/png"}, Payload: raw})

	responses := log.ByKind(types.KindResponse)
	if got := responses[0].Response.Body; got == nil || *got != `{"a":1}` {
		t.Fatalf("json body = %v; want {\"a\":1}", got)
	}
	img := responses[1].Response
	if img.Body == nil || !img.BinaryBody {
		t.Fatalf("binary body = %v (binary=%v); want placeholder", img.Body, img.BinaryBody)
	}
	if strings.Contains(*img.Body, string(raw)) || !strings.Contains(*img.Body, "6 bytes") {
		t.Fatalf("placeholder = %q", *img.Body)
	}
}

func TestCaptureErrorsAreReportedNotRaised(t *testing.T) {
	var mu sync.Mutex
	var labels []string
	p, log := newTestPipeline(t, Config{
		CaptureRequestBodies:  true,
		CaptureResponseBodies: true,
		OnError: func(err error, label string) {
			mu.Lock()
			labels = append(labels, label)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	req := &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "POST",
		HeaderErr: errors.New("target closed"), PostErr: errors.New("no resource")}
	p.OnRequest(ctx, req)
	p.OnResponse(ctx, &hosttest.Response{Req: req, Code: 500, BodyErr: errors.New("evicted")})

	events := log.All()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d; want 2", len(events))
	}
	if events[0].Request.Headers != nil {
		t.Fatalf("headers = %v; want omitted", events[0].Request.Headers)
	}
	if events[1].Response.Body != nil {
		t.Fatalf("body = %q; want omitted", *events[1].Response.Body)
	}

	want := []string{CtxRequestBody, CtxRequestHeaders, CtxResponseBody}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Fatalf("error labels = %v; want %v", labels, want)
	}
}

func TestPanickingErrorCallbackDoesNotStopCapture(t *testing.T) {
	p, log := newTestPipeline(t, Config{
		OnError: func(error, string) { panic("callback exploded") },
	})
	ctx := context.Background()

	p.OnRequest(ctx, &hosttest.Request{RawURL: "https://a.test/1", HTTPMethod: "GET", HeaderErr: errors.New("boom")})
	p.OnRequest(ctx, &hosttest.Request{RawURL: "https://a.test/2", HTTPMethod: "GET"})

	if got := log.Len(); got != 2 {
		t.Fatalf("log.Len() = %d; want 2", got)
	}
}

func TestRequestFailed(t *testing.T) {
	p, log := newTestPipeline(t, Config{})
	ctx := context.Background()

	req := &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "GET", Failure: "net::ERR_CONNECTION_REFUSED"}
	p.OnRequest(ctx, req)
	p.OnRequestFailed(ctx, req)
	p.OnRequestFailed(ctx, &hosttest.Request{RawURL: "https://b.test", HTTPMethod: "GET"})

	failed := log.ByKind(types.KindFailed)
	if len(failed) != 2 {
		t.Fatalf("failed events = %d; want 2", len(failed))
	}
	if failed[0].Error != "Request failed: net::ERR_CONNECTION_REFUSED" {
		t.Fatalf("error = %q", failed[0].Error)
	}
	if failed[0].Request == nil || failed[0].Request.Timing.Duration == nil {
		t.Fatalf("failed event not correlated: %+v", failed[0].Request)
	}
	if failed[1].Request != nil || failed[1].Error != "Request failed: unknown" {
		t.Fatalf("orphan failure = %+v", failed[1])
	}
}

func TestFilterAppliesToTerminalEventsViaRequest(t *testing.T) {
	p, log := newTestPipeline(t, Config{Filter: NewFilter(Substring("api.example.com"), nil, nil)})
	ctx := context.Background()

	other := &hosttest.Request{RawURL: "https://other.com/x", HTTPMethod: "GET"}
	p.OnRequest(ctx, other)
	p.OnResponse(ctx, &hosttest.Response{Req: other, Code: 200})
	p.OnRequestFailed(ctx, other)

	if got := log.Len(); got != 0 {
		t.Fatalf("log.Len() = %d; want 0", got)
	}
}

func TestLateReadAfterDeactivateIsDropped(t *testing.T) {
	p, log := newTestPipeline(t, Config{CaptureResponseBodies: true})
	ctx := context.Background()

	req := &hosttest.Request{RawURL: "https://a.test/slow", HTTPMethod: "GET"}
	p.OnRequest(ctx, req)

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.OnResponse(ctx, &hosttest.Response{Req: req, Code: 200, Payload: []byte("late"), BodyGate: gate})
	}()

	// Give the handler time to reach the body read.
	time.Sleep(20 * time.Millisecond)
	p.Deactivate()
	close(gate)
	<-done

	if got := len(log.ByKind(types.KindResponse)); got != 0 {
		t.Fatalf("late response appended after deactivate: %d events", got)
	}
}

func TestInterleavedHandlersLogInCompletionOrder(t *testing.T) {
	p, log := newTestPipeline(t, Config{CaptureResponseBodies: true})
	ctx := context.Background()

	slow := &hosttest.Request{RawURL: "https://a.test/slow", HTTPMethod: "GET"}
	fast := &hosttest.Request{RawURL: "https://a.test/fast", HTTPMethod: "GET"}
	p.OnRequest(ctx, slow)
	p.OnRequest(ctx, fast)

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.OnResponse(ctx, &hosttest.Response{Req: slow, Code: 200, Payload: []byte("s"), BodyGate: gate})
	}()
	time.Sleep(20 * time.Millisecond)
	p.OnResponse(ctx, &hosttest.Response{Req: fast, Code: 200, Payload: []byte("f")})
	close(gate)
	<-done

	responses := log.ByKind(types.KindResponse)
	if len(responses) != 2 {
		t.Fatalf("responses = %d; want 2", len(responses))
	}
	if responses[0].Response.URL != fast.RawURL || responses[1].Response.URL != slow.RawURL {
		t.Fatalf("order = %s, %s; want fast then slow", responses[0].Response.URL, responses[1].Response.URL)
	}
	for _, r := range responses {
		if r.Response.Timing.Duration < 0 {
			t.Fatalf("negative duration %d", r.Response.Timing.Duration)
		}
	}
}

func TestActivateResetsSession(t *testing.T) {
	p, log := newTestPipeline(t, Config{})
	ctx := context.Background()
	req := &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "GET"}
	p.OnRequest(ctx, req)
	p.OnRequest(ctx, &hosttest.Request{RawURL: "https://a.test/2", HTTPMethod: "GET"})

	p.Deactivate()
	p.Activate()
	if log.Len() != 0 || p.PendingRequests() != 0 {
		t.Fatalf("Activate left %d events, %d pending", log.Len(), p.PendingRequests())
	}

	p.OnResponse(ctx, &hosttest.Response{Req: req, Code: 200})
	ev := log.All()[0]
	if ev.Request != nil {
		t.Fatal("response correlated with a request from the previous session")
	}
	if ev.ID != 1 {
		t.Fatalf("first id of new session = %d; want 1", ev.ID)
	}
}

func TestSinkReceivesCommittedEvents(t *testing.T) {
	var got []types.NetworkEvent
	p, _ := newTestPipeline(t, Config{Sink: func(ev types.NetworkEvent) { got = append(got, ev) }})
	req := &hosttest.Request{RawURL: "https://a.test", HTTPMethod: "GET"}
	p.OnRequest(context.Background(), req)
	p.OnResponse(context.Background(), &hosttest.Response{Req: req, Code: 200})

	if len(got) != 2 || got[0].Kind != types.KindRequest || got[1].Kind != types.KindResponse {
		t.Fatalf("sink events = %+v", got)
	}
	if got[0].Request.Timing.Duration != nil {
		t.Fatal("sink copy of request event changed after response arrived")
	}
}
