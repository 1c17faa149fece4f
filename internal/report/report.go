// Package report aggregates a snapshot of the event log into summary
// statistics and renders it for export.
package report

import (
	"sort"
	"time"

	"github.com/dgnsrekt/netmon/internal/types"
)

// TopN bounds every URL analysis list.
const TopN = 10

// Params carries the monitor state a report is computed against.
type Params struct {
	SlowThreshold time.Duration
	StartTime     time.Time
	// EndTime is zero while monitoring is still active; Now is used instead.
	EndTime time.Time
	Now     time.Time
}

type Summary struct {
	TotalRequests        int                 `json:"total_requests"`
	TotalResponses       int                 `json:"total_responses"`
	TotalFailed          int                 `json:"total_failed"`
	AverageResponseTime  float64             `json:"average_response_time_ms"`
	SlowestRequest       *types.NetworkEvent `json:"slowest_request,omitempty"`
	FastestRequest       *types.NetworkEvent `json:"fastest_request,omitempty"`
	TotalDataTransferred int                 `json:"total_data_transferred"`
	MonitoringDuration   int64               `json:"monitoring_duration_ms"`
}

type Performance struct {
	RequestsPerSecond   float64 `json:"requests_per_second"`
	AverageRequestSize  float64 `json:"average_request_size"`
	AverageResponseSize float64 `json:"average_response_size"`
}

type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

type URLSize struct {
	URL  string `json:"url"`
	Size int    `json:"size"`
}

// URLDuration is one slowest-endpoints entry. AverageDuration is taken over
// the Timed responses only; uncorrelated responses have no duration and
// count toward Count but not Timed.
type URLDuration struct {
	URL             string  `json:"url"`
	AverageDuration float64 `json:"average_duration_ms"`
	Count           int     `json:"count"`
	Timed           int     `json:"timed"`
}

type URLAnalysis struct {
	MostFrequent     []URLCount    `json:"most_frequent"`
	LargestResponses []URLSize     `json:"largest_responses"`
	SlowestEndpoints []URLDuration `json:"slowest_endpoints"`
}

// Report is the aggregate view over one event log snapshot.
type Report struct {
	Summary        Summary              `json:"summary"`
	SlowRequests   []types.NetworkEvent `json:"slow_requests"`
	FailedRequests []types.NetworkEvent `json:"failed_requests"`
	Performance    Performance          `json:"performance"`
	URLAnalysis    URLAnalysis          `json:"url_analysis"`
}

// Generate computes a Report. It does not retain events.
func Generate(events []types.NetworkEvent, p Params) Report {
	rep := Report{
		SlowRequests:   []types.NetworkEvent{},
		FailedRequests: []types.NetworkEvent{},
	}
	rep.Summary.MonitoringDuration = monitoringDuration(p)
	thresholdMs := p.SlowThreshold.Milliseconds()

	var durationSum int64
	var timed int
	var reqSizeSum, reqSized int
	var respSizeSum, respSized int

	for i := range events {
		ev := events[i]
		switch ev.Kind {
		case types.KindRequest:
			rep.Summary.TotalRequests++
			if n := ev.RequestSize(); n > 0 {
				reqSizeSum += n
				reqSized++
			}
		case types.KindResponse:
			rep.Summary.TotalResponses++
			d := ev.Duration()
			if d > 0 {
				durationSum += d
				timed++
				if rep.Summary.SlowestRequest == nil || d > rep.Summary.SlowestRequest.Duration() {
					rep.Summary.SlowestRequest = &events[i]
				}
				if rep.Summary.FastestRequest == nil || d < rep.Summary.FastestRequest.Duration() {
					rep.Summary.FastestRequest = &events[i]
				}
			}
			if d > thresholdMs {
				rep.SlowRequests = append(rep.SlowRequests, ev)
			}
			if n := ev.ResponseSize(); n > 0 {
				rep.Summary.TotalDataTransferred += n
				respSizeSum += n
				respSized++
			}
		case types.KindFailed:
			rep.Summary.TotalFailed++
			rep.FailedRequests = append(rep.FailedRequests, ev)
		}
	}

	if timed > 0 {
		rep.Summary.AverageResponseTime = float64(durationSum) / float64(timed)
	}
	if ms := rep.Summary.MonitoringDuration; ms > 0 {
		rep.Performance.RequestsPerSecond = float64(rep.Summary.TotalRequests) / float64(ms) * 1000
	}
	if reqSized > 0 {
		rep.Performance.AverageRequestSize = float64(reqSizeSum) / float64(reqSized)
	}
	if respSized > 0 {
		rep.Performance.AverageResponseSize = float64(respSizeSum) / float64(respSized)
	}
	rep.URLAnalysis = analyzeURLs(events)
	return rep
}

func monitoringDuration(p Params) int64 {
	if p.StartTime.IsZero() {
		return 0
	}
	end := p.EndTime
	if end.IsZero() {
		end = p.Now
	}
	if end.Before(p.StartTime) {
		return 0
	}
	return end.Sub(p.StartTime).Milliseconds()
}

type urlStats struct {
	url         string
	count       int
	maxSize     int
	durationSum int64
	timed       int
}

// analyzeURLs groups response events by URL. Groups keep first-seen order so
// the stable sorts below break ties in favour of the URL seen first.
func analyzeURLs(events []types.NetworkEvent) URLAnalysis {
	index := make(map[string]int)
	var groups []*urlStats
	for _, ev := range events {
		if ev.Kind != types.KindResponse || ev.Response == nil {
			continue
		}
		u := ev.Response.URL
		i, ok := index[u]
		if !ok {
			i = len(groups)
			index[u] = i
			groups = append(groups, &urlStats{url: u})
		}
		g := groups[i]
		g.count++
		if n := ev.ResponseSize(); n > g.maxSize {
			g.maxSize = n
		}
		if d := ev.Duration(); d > 0 {
			g.durationSum += d
			g.timed++
		}
	}

	out := URLAnalysis{
		MostFrequent:     []URLCount{},
		LargestResponses: []URLSize{},
		SlowestEndpoints: []URLDuration{},
	}

	byCount := append([]*urlStats(nil), groups...)
	sort.SliceStable(byCount, func(i, j int) bool { return byCount[i].count > byCount[j].count })
	for _, g := range byCount[:min(TopN, len(byCount))] {
		out.MostFrequent = append(out.MostFrequent, URLCount{URL: g.url, Count: g.count})
	}

	sized := append([]*urlStats(nil), groups...)
	sort.SliceStable(sized, func(i, j int) bool { return sized[i].maxSize > sized[j].maxSize })
	for _, g := range sized[:min(TopN, len(sized))] {
		out.LargestResponses = append(out.LargestResponses, URLSize{URL: g.url, Size: g.maxSize})
	}

	var timed []*urlStats
	for _, g := range groups {
		if g.timed > 0 {
			timed = append(timed, g)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].mean() > timed[j].mean() })
	for _, g := range timed[:min(TopN, len(timed))] {
		out.SlowestEndpoints = append(out.SlowestEndpoints, URLDuration{URL: g.url, AverageDuration: g.mean(), Count: g.count, Timed: g.timed})
	}
	return out
}

func (g *urlStats) mean() float64 {
	if g.timed == 0 {
		return 0
	}
	return float64(g.durationSum) / float64(g.timed)
}
