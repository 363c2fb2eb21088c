package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/trace"
)

// handleStreamEvents streams a job's status changes as server-sent events
// and ends the stream after the terminal status.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	log := trace.Logger(r.Context(), s.logger).With("task_id", id)

	// Subscribe before reading the job so a status change between the two
	// cannot be missed. Subscribe on a finished job returns a closed channel.
	var (
		ch    <-chan model.JobEvent
		unsub = func() {}
	)
	if s.broker != nil {
		ch, unsub = s.broker.Subscribe(id)
	}
	defer unsub()

	j, err := s.router.Poll(r.Context(), id)
	if err != nil {
		status, detail := statusForError(err)
		s.writeError(w, r, status, detail)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if err := writeSSEJSON(w, "status", jobStatus(j)); err != nil {
		return
	}
	flush()

	// Nothing more will happen to a finished job, and without a broker there
	// is nobody publishing.
	if model.IsTerminal(j.Status) || ch == nil {
		_ = writeSSEEvent(w, "done", "stream complete")
		flush()
		return
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			resp := jobStatus(&model.Job{Status: ev.Status, Result: ev.Result, Error: ev.Error})
			if err := writeSSEJSON(w, "status", resp); err != nil {
				return // Client gone.
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEJSON writes v as the data of a named SSE event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, string(b))
}

// writeSSEData writes a data payload. Multi-line strings are split so that
// each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
