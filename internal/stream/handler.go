package stream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/netmon/internal/types"
)

// parseKinds reads the optional ?kinds=request,response filter. nil means
// accept all.
func parseKinds(r *http.Request) map[types.EventKind]bool {
	q := r.URL.Query().Get("kinds")
	if q == "" {
		return nil
	}
	kinds := make(map[types.EventKind]bool)
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			kinds[types.EventKind(k)] = true
		}
	}
	return kinds
}

// SSEHandler returns an http.HandlerFunc that streams events as SSE, one
// `event: <kind>` frame per NetworkEvent.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		kinds := parseKinds(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if kinds != nil && !kinds[evt.Kind] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

// WebSocketHandler upgrades the connection and writes one JSON text frame
// per NetworkEvent. Client frames are read only to answer pings and notice
// the close.
func WebSocketHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kinds := parseKinds(r)
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("stream: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		slog.Debug("stream: websocket client connected", "subscriber", id, "remote", r.RemoteAddr)

		var writeMu sync.Mutex
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			control := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
			rd := &wsutil.Reader{
				Source: conn,
				State:  ws.StateServerSide,
				OnIntermediate: func(h ws.Header, r io.Reader) error {
					writeMu.Lock()
					defer writeMu.Unlock()
					return control(h, r)
				},
			}
			for {
				hdr, err := rd.NextFrame()
				if err != nil {
					return
				}
				if hdr.OpCode.IsControl() {
					if err := rd.OnIntermediate(hdr, rd); err != nil {
						return
					}
					continue
				}
				if err := rd.Discard(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if kinds != nil && !kinds[evt.Kind] {
					continue
				}
				writeMu.Lock()
				err := wsutil.WriteServerText(conn, evt.Payload)
				writeMu.Unlock()
				if err != nil {
					slog.Debug("stream: websocket write failed", "subscriber", id, "error", err)
					return
				}
			}
		}
	}
}
