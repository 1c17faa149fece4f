package monitor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/host/hosttest"
	"github.com/dgnsrekt/netmon/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, opts Options) (*Monitor, *hosttest.Host, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	h := hosttest.New()
	m, err := New(h, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, h, clock
}

func TestRequestResponseScenario(t *testing.T) {
	m, h, clock := newTestMonitor(t, DefaultOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	req := &hosttest.Request{RawURL: "https://api.example.com/users", HTTPMethod: "GET", Type: "XHR"}
	h.FireRequest(req)
	clock.Advance(120 * time.Millisecond)
	h.FireResponse(&hosttest.Response{Req: req, Code: 200, Text: "OK",
		Header: map[string]string{"Content-Type": "application/json"}, Payload: []byte(`{"id":1}`)})

	rep := m.Report()
	if rep.Summary.TotalRequests != 1 || rep.Summary.TotalResponses != 1 {
		t.Fatalf("totals = %d/%d; want 1/1", rep.Summary.TotalRequests, rep.Summary.TotalResponses)
	}
	if len(rep.SlowRequests) != 0 {
		t.Fatalf("SlowRequests = %+v; want empty", rep.SlowRequests)
	}
	if rep.Summary.AverageResponseTime != 120 {
		t.Fatalf("AverageResponseTime = %v; want 120", rep.Summary.AverageResponseTime)
	}
	resp := m.EventsByKind(types.KindResponse)
	if len(resp) != 1 || resp[0].Request == nil || resp[0].Response.Body == nil || *resp[0].Response.Body != `{"id":1}` {
		t.Fatalf("response events = %+v", resp)
	}
}

func TestURLFilterRegex(t *testing.T) {
	opts := DefaultOptions()
	opts.URLFilter = capture.Regexp(regexp.MustCompile(`api\.example\.com`))
	m, h, _ := newTestMonitor(t, opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.FireRequest(&hosttest.Request{RawURL: "https://api.example.com/users", HTTPMethod: "GET"})
	h.FireRequest(&hosttest.Request{RawURL: "https://other.com/x", HTTPMethod: "GET"})

	if got := len(m.Events()); got != 1 {
		t.Fatalf("len(Events()) = %d; want 1", got)
	}
}

func TestLifecycleIllegalState(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())

	err := m.Stop()
	if !HasCode(err, CodeIllegalState) {
		t.Fatalf("Stop() before Start error = %v; want %s", err, CodeIllegalState)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !HasCode(m.Start(context.Background()), CodeIllegalState) {
		t.Fatal("second Start() did not fail with illegal state")
	}
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d; want 1", h.Subscribers())
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.Subscribers() != 0 {
		t.Fatalf("Subscribers() after Stop = %d; want 0", h.Subscribers())
	}
	if m.IsActive() {
		t.Fatal("IsActive() = true after Stop")
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())
	h.SubscribeErr = errors.New("target closed")

	err := m.Start(context.Background())
	if !HasCode(err, CodeCDPUnavailable) {
		t.Fatalf("Start() error = %v; want %s", err, CodeCDPUnavailable)
	}
	if m.IsActive() {
		t.Fatal("IsActive() = true after failed Start")
	}
}

func TestStopKeepsEventsAndIgnoresLaterTraffic(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/1", HTTPMethod: "GET"})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/2", HTTPMethod: "GET"})

	if got := len(m.Events()); got != 1 {
		t.Fatalf("len(Events()) = %d; want 1", got)
	}
}

func TestRestartResetsSession(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := m.SessionID()
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/1", HTTPMethod: "GET"})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.SessionID() == first || m.SessionID() == "" {
		t.Fatalf("SessionID() = %q; want a new id (was %q)", m.SessionID(), first)
	}
	if got := len(m.Events()); got != 0 {
		t.Fatalf("len(Events()) after restart = %d; want 0", got)
	}
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/2", HTTPMethod: "GET"})
	if ev := m.Events(); len(ev) != 1 || ev[0].ID != 1 {
		t.Fatalf("events after restart = %+v; want one event with id 1", ev)
	}
}

func TestMonitorDuring(t *testing.T) {
	t.Run("operation error propagates", func(t *testing.T) {
		m, h, _ := newTestMonitor(t, DefaultOptions())
		boom := errors.New("navigation failed")

		err := m.MonitorDuring(context.Background(), func(context.Context) error {
			h.FireRequest(&hosttest.Request{RawURL: "https://a.test/", HTTPMethod: "GET"})
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("MonitorDuring() error = %v; want %v", err, boom)
		}
		if m.IsActive() {
			t.Fatal("IsActive() = true after MonitorDuring")
		}
		if got := len(m.Events()); got != 1 {
			t.Fatalf("len(Events()) = %d; want 1", got)
		}
	})

	t.Run("panic still stops", func(t *testing.T) {
		m, _, _ := newTestMonitor(t, DefaultOptions())
		func() {
			defer func() { _ = recover() }()
			_ = m.MonitorDuring(context.Background(), func(context.Context) error { panic("boom") })
		}()
		if m.IsActive() {
			t.Fatal("IsActive() = true after panicking operation")
		}
	})

	t.Run("start failure skips operation", func(t *testing.T) {
		m, _, _ := newTestMonitor(t, DefaultOptions())
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		ran := false
		err := m.MonitorDuring(context.Background(), func(context.Context) error {
			ran = true
			return nil
		})
		if !HasCode(err, CodeIllegalState) || ran {
			t.Fatalf("MonitorDuring() error = %v, ran = %v; want illegal state, not run", err, ran)
		}
	})
}

func TestMaxEventsRetainsNewest(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEvents = 3
	m, h, _ := newTestMonitor(t, opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 1; i <= 5; i++ {
		h.FireRequest(&hosttest.Request{RawURL: fmt.Sprintf("https://a.test/%d", i), HTTPMethod: "GET"})
	}

	events := m.Events()
	if len(events) != 3 {
		t.Fatalf("len(Events()) = %d; want 3", len(events))
	}
	for i, ev := range events {
		if want := int64(i + 3); ev.ID != want {
			t.Fatalf("events[%d].ID = %d; want %d", i, ev.ID, want)
		}
	}
	st := m.Stats()
	if st.TotalCaptured != 5 || st.TotalEvicted != 2 || st.Capacity != 3 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestEventsByURL(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/api/users", HTTPMethod: "GET"})
	h.FireRequest(&hosttest.Request{RawURL: "https://a.test/static/app.js", HTTPMethod: "GET"})

	if got := len(m.EventsByURL(capture.Substring("/api/"))); got != 1 {
		t.Fatalf("EventsByURL(substring) = %d events; want 1", got)
	}
	if got := len(m.EventsByURL(capture.Regexp(regexp.MustCompile(`\.js$`)))); got != 1 {
		t.Fatalf("EventsByURL(regexp) = %d events; want 1", got)
	}
}

func TestClearKeepsSession(t *testing.T) {
	m, h, _ := newTestMonitor(t, DefaultOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	req := &hosttest.Request{RawURL: "https://a.test/1", HTTPMethod: "GET"}
	h.FireRequest(req)
	m.Clear()

	if !m.IsActive() || len(m.Events()) != 0 || m.Stats().PendingRequests != 0 {
		t.Fatalf("after Clear: active=%v events=%d pending=%d", m.IsActive(), len(m.Events()), m.Stats().PendingRequests)
	}
	// Correlation entries are gone, so the response mints a fresh id.
	h.FireResponse(&hosttest.Response{Req: req, Code: 200})
	ev := m.Events()
	if len(ev) != 1 || ev[0].Request != nil || ev[0].ID != 2 {
		t.Fatalf("events after Clear = %+v; want one uncorrelated response with id 2", ev)
	}
}

func TestExports(t *testing.T) {
	m, h, clock := newTestMonitor(t, DefaultOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	req := &hosttest.Request{RawURL: "https://a.test/img.png", HTTPMethod: "GET", Type: "Image"}
	h.FireRequest(req)
	clock.Advance(10 * time.Millisecond)
	h.FireResponse(&hosttest.Response{Req: req, Code: 200,
		Header: map[string]string{"content-type": "image/png"}, Payload: make([]byte, 64)})
	h.FireFailed(&hosttest.Request{RawURL: "https://a.test/gone", HTTPMethod: "GET", Failure: "net::ERR_ABORTED"})

	csv := m.ExportCSV()
	if lines := strings.Split(csv, "\n"); len(lines) != 4 {
		t.Fatalf("CSV line count = %d; want 4\n%s", len(lines), csv)
	}
	if !strings.Contains(csv, "Request failed: net::ERR_ABORTED") {
		t.Fatalf("CSV missing failure row:\n%s", csv)
	}

	out, err := m.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if !strings.Contains(out, "[binary data: 64 bytes, type: image/png]") {
		t.Fatalf("JSON export missing binary placeholder:\n%s", out)
	}
	if !strings.Contains(out, `"total_failed": 1`) {
		t.Fatalf("JSON export missing failure count:\n%s", out)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, DefaultOptions()); !HasCode(err, CodeValidation) {
		t.Fatalf("New(nil) error = %v; want %s", err, CodeValidation)
	}
	opts := DefaultOptions()
	opts.MaxEvents = -1
	if _, err := New(hosttest.New(), opts); !HasCode(err, CodeValidation) {
		t.Fatalf("New(MaxEvents=-1) error = %v; want %s", err, CodeValidation)
	}
	m, err := New(hosttest.New(), Options{})
	if err != nil {
		t.Fatalf("New(Options{}) error = %v", err)
	}
	if m.Stats().Capacity != DefaultMaxEvents {
		t.Fatalf("Capacity = %d; want %d", m.Stats().Capacity, DefaultMaxEvents)
	}
}
