package types

import "time"

// EventKind tags a NetworkEvent.
type EventKind string

const (
	KindRequest  EventKind = "request"
	KindResponse EventKind = "response"
	KindFailed   EventKind = "failed"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindFailed:
		return true
	}
	return false
}

// Timing holds the lifecycle timestamps of a request. Duration is in
// milliseconds and is only set once the terminal event has been seen.
type Timing struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *int64     `json:"duration,omitempty"`
}

// RequestRecord represents an outbound request captured at request start.
type RequestRecord struct {
	ID           int64             `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	PostData     *string           `json:"post_data,omitempty"`
	ResourceType string            `json:"resource_type"`
	Timing       Timing            `json:"timing"`
}

// ResponseTiming carries the duration copied from the correlated request.
type ResponseTiming struct {
	Duration int64 `json:"duration"`
}

// ResponseRecord represents a received response.
type ResponseRecord struct {
	ID         int64             `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	URL        string            `json:"url"`
	Status     int               `json:"status"`
	StatusText string            `json:"status_text"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       *string           `json:"body,omitempty"`
	BinaryBody bool              `json:"binary_body,omitempty"` // Body is a placeholder, not content
	Timing     ResponseTiming    `json:"timing"`
}

// NetworkEvent is the unit stored in the event log. Request is only set on
// response and failed events when correlation with a prior request succeeded.
type NetworkEvent struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EventKind       `json:"type"`
	Request   *RequestRecord  `json:"request,omitempty"`
	Response  *ResponseRecord `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// URL returns the response URL when present, else the request URL.
func (e NetworkEvent) URL() string {
	if e.Response != nil {
		return e.Response.URL
	}
	if e.Request != nil {
		return e.Request.URL
	}
	return ""
}

// Duration returns the response duration in milliseconds, or 0 when unknown.
func (e NetworkEvent) Duration() int64 {
	if e.Response != nil {
		return e.Response.Timing.Duration
	}
	if e.Request != nil && e.Request.Timing.Duration != nil {
		return *e.Request.Timing.Duration
	}
	return 0
}

// RequestSize is the length of the captured post data, 0 when absent.
func (e NetworkEvent) RequestSize() int {
	if e.Request == nil || e.Request.PostData == nil {
		return 0
	}
	return len(*e.Request.PostData)
}

// ResponseSize is the length of the captured response body. Placeholders for
// binary content count as 0.
func (e NetworkEvent) ResponseSize() int {
	if e.Response == nil || e.Response.Body == nil || e.Response.BinaryBody {
		return 0
	}
	return len(*e.Response.Body)
}
