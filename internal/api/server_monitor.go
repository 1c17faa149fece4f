package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/cdp"
	"github.com/dgnsrekt/netmon/internal/monitor"
	"github.com/dgnsrekt/netmon/internal/report"
	"github.com/dgnsrekt/netmon/internal/types"
)

type statusOutput struct {
	Body struct {
		monitor.Status
		Tabs []cdp.TabInfo `json:"tabs,omitempty"`
	}
}

func statusBody(svc Service, deps Deps) *statusOutput {
	out := &statusOutput{}
	out.Body.Status = svc.Stats()
	if deps.Tabs != nil {
		out.Body.Tabs = deps.Tabs()
	}
	return out
}

func registerHealthHandlers(api huma.API, deps Deps) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			if deps.Tabs != nil {
				out.Body.Tabs = len(deps.Tabs())
			}
			return out, nil
		})
}

func registerMonitorHandlers(api huma.API, svc Service, deps Deps) {
	huma.Register(api, huma.Operation{OperationID: "get-monitor", Method: http.MethodGet, Path: "/api/v1/monitor", Summary: "Monitor status", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return statusBody(svc, deps), nil
		})

	huma.Register(api, huma.Operation{OperationID: "start-monitor", Method: http.MethodPost, Path: "/api/v1/monitor/start", Summary: "Start a monitoring session", Description: "Clears previously recorded events and starts recording. Returns 409 when already active.", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.Start(ctx); err != nil {
				return nil, mapErr(err)
			}
			return statusBody(svc, deps), nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-monitor", Method: http.MethodPost, Path: "/api/v1/monitor/stop", Summary: "Stop the monitoring session", Description: "Recorded events stay queryable. Returns 409 when not active.", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.Stop(); err != nil {
				return nil, mapErr(err)
			}
			return statusBody(svc, deps), nil
		})
}

func registerEventHandlers(api huma.API, svc Service) {
	type eventsInput struct {
		Kind  string `query:"kind" enum:"request,response,failed" doc:"Only events of this kind"`
		URL   string `query:"url" doc:"Substring (or regular expression with regex=true) matched against the response URL, else the request URL"`
		Regex bool   `query:"regex" doc:"Treat url as a regular expression"`
		Limit int    `query:"limit" minimum:"0" doc:"Return only the newest N matching events (0 = all)"`
	}
	type eventsOutput struct {
		Body struct {
			Count  int                  `json:"count"`
			Events []types.NetworkEvent `json:"events"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-events", Method: http.MethodGet, Path: "/api/v1/events", Summary: "List recorded events", Tags: []string{"Events"}},
		func(ctx context.Context, input *eventsInput) (*eventsOutput, error) {
			var pattern capture.URLPattern
			if input.URL != "" {
				p, err := capture.ParseURLPattern(input.URL, input.Regex)
				if err != nil {
					return nil, huma.Error400BadRequest(err.Error())
				}
				pattern = p
			}

			var events []types.NetworkEvent
			switch {
			case input.Kind != "" && !pattern.IsZero():
				for _, ev := range svc.EventsByKind(types.EventKind(input.Kind)) {
					if u := ev.URL(); u != "" && pattern.Match(u) {
						events = append(events, ev)
					}
				}
			case input.Kind != "":
				events = svc.EventsByKind(types.EventKind(input.Kind))
			case !pattern.IsZero():
				events = svc.EventsByURL(pattern)
			default:
				events = svc.Events()
			}
			if input.Limit > 0 && len(events) > input.Limit {
				events = events[len(events)-input.Limit:]
			}
			if events == nil {
				events = []types.NetworkEvent{}
			}

			out := &eventsOutput{}
			out.Body.Count = len(events)
			out.Body.Events = events
			return out, nil
		})

	type clearOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-events", Method: http.MethodDelete, Path: "/api/v1/events", Summary: "Clear recorded events", Description: "Empties the event log and the correlation store without ending the session.", Tags: []string{"Events"}},
		func(ctx context.Context, input *struct{}) (*clearOutput, error) {
			svc.Clear()
			out := &clearOutput{}
			out.Body.Status = "cleared"
			return out, nil
		})
}

type rawOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerReportHandlers(api huma.API, svc Service) {
	type reportOutput struct {
		Body report.Report
	}
	huma.Register(api, huma.Operation{OperationID: "get-report", Method: http.MethodGet, Path: "/api/v1/report", Summary: "Aggregate report over recorded events", Tags: []string{"Reports"}},
		func(ctx context.Context, input *struct{}) (*reportOutput, error) {
			return &reportOutput{Body: svc.Report()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "export-json", Method: http.MethodGet, Path: "/api/v1/export/json", Summary: "Export the report as JSON", Tags: []string{"Reports"}},
		func(ctx context.Context, input *struct{}) (*rawOutput, error) {
			data, err := svc.ExportJSON()
			if err != nil {
				return nil, mapErr(err)
			}
			return &rawOutput{
				ContentType:        "application/json",
				ContentDisposition: attachment("json"),
				Body:               []byte(data),
			}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "export-csv", Method: http.MethodGet, Path: "/api/v1/export/csv", Summary: "Export recorded events as CSV", Tags: []string{"Reports"}},
		func(ctx context.Context, input *struct{}) (*rawOutput, error) {
			return &rawOutput{
				ContentType:        "text/csv; charset=utf-8",
				ContentDisposition: attachment("csv"),
				Body:               []byte(svc.ExportCSV()),
			}, nil
		})
}

func attachment(ext string) string {
	return `attachment; filename="netmon-` + time.Now().UTC().Format("20060102-150405") + "." + ext + `"`
}
