package monitor

import (
	"time"

	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/eventlog"
	"github.com/dgnsrekt/netmon/internal/metrics"
	"github.com/dgnsrekt/netmon/internal/types"
)

const (
	DefaultMaxBodySize          = 1 << 20
	DefaultSlowRequestThreshold = time.Second
	DefaultMaxEvents            = eventlog.DefaultCapacity
)

// Options configures a Monitor. Zero values for MaxBodySize,
// SlowRequestThreshold and MaxEvents select the defaults; a negative
// MaxBodySize disables the size limit.
type Options struct {
	CaptureRequestBodies  bool
	CaptureResponseBodies bool
	MaxBodySize           int

	URLFilter          capture.URLPattern
	MethodFilter       []string
	ResourceTypeFilter []string

	SlowRequestThreshold time.Duration
	MaxEvents            int

	OnError func(err error, context string)

	// Sink receives a copy of every event appended to the log.
	Sink    func(types.NetworkEvent)
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// DefaultOptions captures request and response bodies up to 1 MiB.
func DefaultOptions() Options {
	return Options{
		CaptureRequestBodies:  true,
		CaptureResponseBodies: true,
		MaxBodySize:           DefaultMaxBodySize,
		SlowRequestThreshold:  DefaultSlowRequestThreshold,
		MaxEvents:             DefaultMaxEvents,
	}
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxEvents < 0 {
		return o, newError(CodeValidation, "max events must not be negative", nil)
	}
	if o.SlowRequestThreshold < 0 {
		return o, newError(CodeValidation, "slow request threshold must not be negative", nil)
	}
	if o.MaxEvents == 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.MaxBodySize == 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.SlowRequestThreshold == 0 {
		o.SlowRequestThreshold = DefaultSlowRequestThreshold
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}
