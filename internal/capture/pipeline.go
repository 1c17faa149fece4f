package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/netmon/internal/eventlog"
	"github.com/dgnsrekt/netmon/internal/host"
	"github.com/dgnsrekt/netmon/internal/metrics"
	"github.com/dgnsrekt/netmon/internal/types"
)

// Context labels passed to Config.OnError.
const (
	CtxRequestHeaders  = "request-headers"
	CtxRequestBody     = "request-body"
	CtxResponseHeaders = "response-headers"
	CtxResponseBody    = "response-body"
	CtxRequestCapture  = "request-capture"
	CtxResponseCapture = "response-capture"
	CtxFailureCapture  = "failure-capture"
)

// Config controls what the pipeline records.
type Config struct {
	CaptureRequestBodies  bool
	CaptureResponseBodies bool
	MaxBodySize           int

	Filter Filter

	// OnError receives capture degradations. A panicking callback is
	// recovered and logged.
	OnError func(err error, context string)

	// Sink, when set, receives a copy of every committed event.
	Sink func(types.NetworkEvent)

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Pipeline turns host events into NetworkEvents. Host reads (headers,
// bodies) happen outside the lock; id allocation, correlation and the log
// append happen inside it, so an event lands in the log in the order its
// handler finished bookkeeping.
type Pipeline struct {
	cfg Config
	log *eventlog.Log

	mu         sync.Mutex
	store      *Store
	active     bool
	generation uint64
	nextID     int64
}

func NewPipeline(cfg Config, log *eventlog.Log) *Pipeline {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		cfg:   cfg,
		log:   log,
		store: NewStore(),
	}
}

// Handlers returns the callbacks to subscribe on a host.
func (p *Pipeline) Handlers() host.Handlers {
	return host.Handlers{
		OnRequest:       p.OnRequest,
		OnResponse:      p.OnResponse,
		OnRequestFailed: p.OnRequestFailed,
	}
}

// Activate opens a fresh session: the log, the store and the id counter are
// reset, and anything still in flight from an earlier session is discarded
// when it tries to commit.
func (p *Pipeline) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Clear()
	p.log.Clear()
	p.nextID = 0
	p.generation++
	p.active = true
	p.cfg.Metrics.EventLogSize.Set(0)
	p.cfg.Metrics.CorrelationStoreSize.Set(0)
}

// Deactivate stops accepting events. Reads already in flight are dropped
// when they finish.
func (p *Pipeline) Deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Clear empties the log and the correlation store without touching the
// session or the id counter.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Clear()
	p.log.Clear()
	p.cfg.Metrics.EventLogSize.Set(0)
	p.cfg.Metrics.CorrelationStoreSize.Set(0)
}

// PendingRequests is the number of requests tracked for correlation.
func (p *Pipeline) PendingRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Len()
}

func (p *Pipeline) OnRequest(ctx context.Context, req host.Request) {
	defer p.recoverCapture(CtxRequestCapture)
	if req == nil {
		return
	}
	gen, ok := p.session()
	if !ok || !p.cfg.Filter.Accept(req.URL(), req.Method(), req.ResourceType()) {
		return
	}

	now := p.cfg.Now()
	p.mu.Lock()
	if !p.currentLocked(gen) {
		p.mu.Unlock()
		return
	}
	p.nextID++
	rec := &types.RequestRecord{
		ID:           p.nextID,
		Timestamp:    now,
		URL:          req.URL(),
		Method:       req.Method(),
		ResourceType: req.ResourceType(),
		Timing:       types.Timing{StartTime: now},
	}
	// Tracked before the slow reads below so a fast response can still
	// correlate.
	p.store.Put(req.Identity(), rec)
	p.mu.Unlock()

	var postData *string
	if p.cfg.CaptureRequestBodies {
		data, err := req.PostData(ctx)
		switch {
		case errors.Is(err, host.ErrNoPostData):
		case err != nil:
			p.reportError(fmt.Errorf("read request body: %w", err), CtxRequestBody)
		case withinLimit(len(data), p.cfg.MaxBodySize):
			postData = &data
		}
	}

	headers, err := req.Headers(ctx)
	if err != nil {
		p.reportError(fmt.Errorf("read request headers: %w", err), CtxRequestHeaders)
		headers = nil
	}

	p.commit(gen, func() types.NetworkEvent {
		p.log.Update(func() {
			rec.Headers = headers
			rec.PostData = postData
		})
		return types.NetworkEvent{
			ID:        rec.ID,
			Timestamp: now,
			Kind:      types.KindRequest,
			Request:   rec,
		}
	})
}

func (p *Pipeline) OnResponse(ctx context.Context, resp host.Response) {
	defer p.recoverCapture(CtxResponseCapture)
	if resp == nil {
		return
	}
	gen, ok := p.session()
	if !ok {
		return
	}
	req := resp.Request()
	if !p.accepts(req, resp.URL()) {
		return
	}

	now := p.cfg.Now()
	var rec *types.RequestRecord
	var duration int64
	if req != nil {
		p.mu.Lock()
		if !p.currentLocked(gen) {
			p.mu.Unlock()
			return
		}
		if found, ok := p.store.Get(req.Identity()); ok {
			rec = found
			duration = p.stampLocked(rec, now)
		}
		p.mu.Unlock()
	}

	headers, err := resp.Headers(ctx)
	if err != nil {
		p.reportError(fmt.Errorf("read response headers: %w", err), CtxResponseHeaders)
		headers = nil
	}

	var body *string
	var binary bool
	if p.cfg.CaptureResponseBodies {
		raw, err := resp.Body(ctx)
		if err != nil {
			p.reportError(fmt.Errorf("read response body: %w", err), CtxResponseBody)
		} else {
			body, binary = bodySnippet(raw, headerValue(headers, "content-type"), p.cfg.MaxBodySize)
		}
	}

	committed := p.commit(gen, func() types.NetworkEvent {
		id := p.idForLocked(rec)
		return types.NetworkEvent{
			ID:        id,
			Timestamp: now,
			Kind:      types.KindResponse,
			Request:   rec,
			Response: &types.ResponseRecord{
				ID:         id,
				Timestamp:  now,
				URL:        resp.URL(),
				Status:     resp.Status(),
				StatusText: resp.StatusText(),
				Headers:    headers,
				Body:       body,
				BinaryBody: binary,
				Timing:     types.ResponseTiming{Duration: duration},
			},
		}
	})
	if !committed {
		return
	}
	if rec == nil {
		p.cfg.Metrics.CorrelationMisses.WithLabelValues(string(types.KindResponse)).Inc()
	} else {
		p.cfg.Metrics.ResponseDuration.Observe(float64(duration) / 1000)
	}
}

func (p *Pipeline) OnRequestFailed(ctx context.Context, req host.Request) {
	defer p.recoverCapture(CtxFailureCapture)
	if req == nil {
		return
	}
	gen, ok := p.session()
	if !ok || !p.cfg.Filter.Accept(req.URL(), req.Method(), req.ResourceType()) {
		return
	}

	reason := req.FailureReason()
	if reason == "" {
		reason = "unknown"
	}
	now := p.cfg.Now()

	var rec *types.RequestRecord
	committed := p.commit(gen, func() types.NetworkEvent {
		if found, ok := p.store.Get(req.Identity()); ok {
			rec = found
			p.stampLocked(rec, now)
		}
		return types.NetworkEvent{
			ID:        p.idForLocked(rec),
			Timestamp: now,
			Kind:      types.KindFailed,
			Request:   rec,
			Error:     "Request failed: " + reason,
		}
	})
	if committed && rec == nil {
		p.cfg.Metrics.CorrelationMisses.WithLabelValues(string(types.KindFailed)).Inc()
	}
}

// accepts re-derives the filter decision for a terminal event from its
// underlying request, falling back to the response URL alone.
func (p *Pipeline) accepts(req host.Request, fallbackURL string) bool {
	if req == nil {
		return p.cfg.Filter.Accept(fallbackURL, "", "")
	}
	return p.cfg.Filter.Accept(req.URL(), req.Method(), req.ResourceType())
}

func (p *Pipeline) session() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation, p.active
}

func (p *Pipeline) currentLocked(gen uint64) bool {
	return p.active && p.generation == gen
}

// idForLocked reuses the correlated request id or mints a fresh one.
func (p *Pipeline) idForLocked(rec *types.RequestRecord) int64 {
	if rec != nil {
		return rec.ID
	}
	p.nextID++
	return p.nextID
}

// stampLocked records the terminal time on rec and returns the duration in
// milliseconds, clamped at zero.
func (p *Pipeline) stampLocked(rec *types.RequestRecord, end time.Time) int64 {
	d := end.Sub(rec.Timing.StartTime).Milliseconds()
	if d < 0 {
		d = 0
	}
	p.log.Update(func() {
		rec.Timing.EndTime = &end
		rec.Timing.Duration = &d
	})
	return d
}

// commit appends the event produced by build if gen is still the active
// session. It reports whether the event was appended.
func (p *Pipeline) commit(gen uint64, build func() types.NetworkEvent) bool {
	p.mu.Lock()
	if !p.currentLocked(gen) {
		p.mu.Unlock()
		slog.Debug("capture finished after session ended, dropping event")
		return false
	}
	ev := build()
	evicted := p.log.Append(ev)
	var tap types.NetworkEvent
	if p.cfg.Sink != nil {
		tap = eventlog.Clone(ev)
	}
	storeLen := p.store.Len()
	logLen := p.log.Len()
	p.mu.Unlock()

	m := p.cfg.Metrics
	m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	m.EventLogSize.Set(float64(logLen))
	m.CorrelationStoreSize.Set(float64(storeLen))
	if evicted {
		m.EventsEvicted.Inc()
	}
	if p.cfg.Sink != nil {
		p.cfg.Sink(tap)
	}
	return true
}

func (p *Pipeline) recoverCapture(label string) {
	if r := recover(); r != nil {
		p.reportError(fmt.Errorf("panic during capture: %v", r), label)
	}
}

func (p *Pipeline) reportError(err error, label string) {
	p.cfg.Metrics.CaptureErrors.WithLabelValues(label).Inc()
	slog.Debug("capture degraded", "context", label, "error", err)
	if p.cfg.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("capture error callback panicked", "context", label, "panic", r)
		}
	}()
	p.cfg.OnError(err, label)
}
