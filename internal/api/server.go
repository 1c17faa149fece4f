// Package api exposes a Monitor over HTTP: lifecycle control, event queries,
// reports, exports, the report archive and live event streams.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/netmon/internal/archive"
	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/cdp"
	"github.com/dgnsrekt/netmon/internal/monitor"
	"github.com/dgnsrekt/netmon/internal/report"
	"github.com/dgnsrekt/netmon/internal/stream"
	"github.com/dgnsrekt/netmon/internal/types"
)

// Service is the monitor surface the API drives. *monitor.Monitor
// implements it.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() monitor.Status
	Events() []types.NetworkEvent
	EventsByKind(kind types.EventKind) []types.NetworkEvent
	EventsByURL(pattern capture.URLPattern) []types.NetworkEvent
	Clear()
	Report() report.Report
	ExportJSON() (string, error)
	ExportCSV() string
}

// Deps wires the optional parts of the API. A nil Archive or Broker leaves
// the corresponding routes unregistered; a nil Gatherer serves the default
// Prometheus registry.
type Deps struct {
	Archive  *archive.Store
	Broker   *stream.Broker
	Gatherer prometheus.Gatherer
	Tabs     func() []cdp.TabInfo
}

func NewServer(svc Service, deps Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("netmon API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if deps.Broker != nil {
		router.Get("/api/v1/stream", stream.WebSocketHandler(deps.Broker))
		router.Get("/api/v1/stream/sse", stream.SSEHandler(deps.Broker))
	}

	registerHealthHandlers(api, deps)
	registerMonitorHandlers(api, svc, deps)
	registerEventHandlers(api, svc)
	registerReportHandlers(api, svc)
	if deps.Archive != nil {
		registerArchiveHandlers(api, svc, deps.Archive)
	}

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *monitor.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case monitor.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case monitor.CodeIllegalState:
			return huma.Error409Conflict(coded.Message)
		case monitor.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, archive.ErrInvalidID):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
