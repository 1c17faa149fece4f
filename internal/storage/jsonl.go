// Package storage writes captured events to disk as they are recorded.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/netmon/internal/types"
)

var (
	ErrClosed     = errors.New("writer is closed")
	ErrBufferFull = errors.New("buffer full")
)

// JSONLWriter appends events as JSON lines to a size-rotated file. Writes
// are queued and never block the caller.
type JSONLWriter struct {
	path    string
	writeCh chan types.NetworkEvent
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *lumberjack.Logger
	dropped atomic.Int64

	closeMu sync.RWMutex
	closed  bool
}

// NewJSONLWriter opens path for appending, rotating once it exceeds
// maxSizeMB.
func NewJSONLWriter(path string, bufferSize, maxSizeMB int) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		path:    path,
		writeCh: make(chan types.NetworkEvent, bufferSize),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			LocalTime:  false,
		},
	}
	w.wg.Add(1)
	go w.writeLoop()
	slog.Info("Opened event tap", "file", path)
	return w, nil
}

// Write queues ev. A full buffer drops the event.
func (w *JSONLWriter) Write(ev types.NetworkEvent) error {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.writeCh <- ev:
		return nil
	default:
		w.dropped.Add(1)
		slog.Warn("JSONL write buffer full, dropping event", "file", w.path, "event_id", ev.ID)
		return ErrBufferFull
	}
}

// Sink adapts Write to the monitor's event tap.
func (w *JSONLWriter) Sink() func(types.NetworkEvent) {
	return func(ev types.NetworkEvent) {
		_ = w.Write(ev)
	}
}

// Dropped is the number of events lost to a full buffer.
func (w *JSONLWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Close flushes queued events and closes the file.
func (w *JSONLWriter) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.closeMu.Unlock()

	w.wg.Wait()
	return w.logger.Close()
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.writeCh:
			w.writeRecord(ev)
		case <-w.done:
			for {
				select {
				case ev := <-w.writeCh:
					w.writeRecord(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *JSONLWriter) writeRecord(ev types.NetworkEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "event_id", ev.ID)
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write event", "error", err, "file", w.path)
	}
}
