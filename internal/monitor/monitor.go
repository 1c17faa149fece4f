// Package monitor ties a host to the capture pipeline and exposes the
// session lifecycle, queries, reports and exports.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/eventlog"
	"github.com/dgnsrekt/netmon/internal/host"
	"github.com/dgnsrekt/netmon/internal/report"
	"github.com/dgnsrekt/netmon/internal/types"
)

// Monitor records network activity from a host between Start and Stop.
// All methods are safe for concurrent use.
type Monitor struct {
	host     host.Host
	opts     Options
	log      *eventlog.Log
	pipeline *capture.Pipeline

	mu        sync.Mutex
	active    bool
	sub       host.Subscription
	sessionID string
	startTime time.Time
	endTime   time.Time
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Active          bool       `json:"active"`
	SessionID       string     `json:"session_id,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Events          int        `json:"events"`
	Capacity        int        `json:"capacity"`
	PendingRequests int        `json:"pending_requests"`
	TotalCaptured   int64      `json:"total_captured"`
	TotalEvicted    int64      `json:"total_evicted"`
}

func New(h host.Host, opts Options) (*Monitor, error) {
	if h == nil {
		return nil, newError(CodeValidation, "host is required", nil)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	log := eventlog.New(opts.MaxEvents)
	pipeline := capture.NewPipeline(capture.Config{
		CaptureRequestBodies:  opts.CaptureRequestBodies,
		CaptureResponseBodies: opts.CaptureResponseBodies,
		MaxBodySize:           opts.MaxBodySize,
		Filter:                capture.NewFilter(opts.URLFilter, opts.MethodFilter, opts.ResourceTypeFilter),
		OnError:               opts.OnError,
		Sink:                  opts.Sink,
		Metrics:               opts.Metrics,
		Now:                   opts.Now,
	}, log)

	return &Monitor{
		host:     h,
		opts:     opts,
		log:      log,
		pipeline: pipeline,
	}, nil
}

// Start subscribes to the host and opens a new session. Events recorded by
// a previous session are discarded.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return newError(CodeIllegalState, "monitor is already active", nil)
	}

	sub, err := m.host.Subscribe(ctx, m.pipeline.Handlers())
	if err != nil {
		return newError(CodeCDPUnavailable, "subscribe to host events", err)
	}

	m.pipeline.Activate()
	m.sub = sub
	m.active = true
	m.sessionID = uuid.NewString()
	m.startTime = m.opts.Now()
	m.endTime = time.Time{}
	slog.Info("monitor started", "session_id", m.sessionID)
	return nil
}

// Stop unsubscribes from the host. Recorded events remain queryable.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return newError(CodeIllegalState, "monitor is not active", nil)
	}

	m.pipeline.Deactivate()
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	m.active = false
	m.endTime = m.opts.Now()
	slog.Info("monitor stopped", "session_id", m.sessionID, "events", m.log.Len())
	return nil
}

func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SessionID is the id of the current or most recent session, empty before
// the first Start.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Events returns a snapshot of the log in insertion order.
func (m *Monitor) Events() []types.NetworkEvent {
	return m.log.All()
}

func (m *Monitor) EventsByKind(kind types.EventKind) []types.NetworkEvent {
	return m.log.ByKind(kind)
}

// EventsByURL matches pattern against each event's response URL, or its
// request URL when there is no response.
func (m *Monitor) EventsByURL(pattern capture.URLPattern) []types.NetworkEvent {
	return m.log.ByURL(pattern.Match)
}

// Clear empties the log and the correlation store. The session and the id
// counter are left as they are.
func (m *Monitor) Clear() {
	m.pipeline.Clear()
}

func (m *Monitor) Report() report.Report {
	return report.Generate(m.log.All(), m.reportParams())
}

func (m *Monitor) ExportJSON() (string, error) {
	return report.ExportJSON(m.Report(), m.opts.Now())
}

func (m *Monitor) ExportCSV() string {
	return report.ExportCSV(m.log.All())
}

// MonitorDuring starts the monitor, runs op and stops the monitor again,
// even when op fails or panics. op's error is returned as is. If Start
// fails op is not run.
func (m *Monitor) MonitorDuring(ctx context.Context, op func(ctx context.Context) error) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Stop(); err != nil {
			slog.Debug("monitor already stopped after operation", "error", err)
		}
	}()
	return op(ctx)
}

func (m *Monitor) Stats() Status {
	m.mu.Lock()
	st := Status{
		Active:    m.active,
		SessionID: m.sessionID,
	}
	if !m.startTime.IsZero() {
		start := m.startTime
		st.StartTime = &start
	}
	if !m.endTime.IsZero() {
		end := m.endTime
		st.EndTime = &end
	}
	m.mu.Unlock()

	st.Events = m.log.Len()
	st.Capacity = m.log.Cap()
	st.PendingRequests = m.pipeline.PendingRequests()
	st.TotalCaptured, st.TotalEvicted = m.log.Stats()
	return st
}

func (m *Monitor) reportParams() report.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return report.Params{
		SlowThreshold: m.opts.SlowRequestThreshold,
		StartTime:     m.startTime,
		EndTime:       m.endTime,
		Now:           m.opts.Now(),
	}
}
