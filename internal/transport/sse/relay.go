// Package sse relays streamed chat chunks to HTTP clients as server-sent
// events: one "event: <type>" frame with JSON data per chunk, then a
// "data: [DONE]" frame.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	r3sse "github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"

	"github.com/chative-core/workflow/internal/agent/model"
)

// DoneMarker is the data of the final frame.
const DoneMarker = "[DONE]"

// EventDone names the final frame.
const EventDone = "done"

var doneLine = []byte("data: " + DoneMarker)

// Relay serves chunk streams over a shared SSE server. Streams are keyed by an
// id chosen by the caller, usually the correlation id.
type Relay struct {
	server *r3sse.Server
}

func NewRelay() *Relay {
	server := r3sse.New()
	server.AutoStream = false
	// Chunks published before the client is subscribed are replayed.
	server.AutoReplay = true
	server.EncodeBase64 = false
	server.Headers = map[string]string{"X-Accel-Buffering": "no"}
	return &Relay{server: server}
}

// Close disconnects every subscriber.
func (r *Relay) Close() {
	r.server.Close()
}

// Encode renders a chunk as an SSE event.
func Encode(chunk model.StreamingChatChunk) (*r3sse.Event, error) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode %s chunk: %w", chunk.Type, err)
	}
	return &r3sse.Event{Event: []byte(chunk.Type), Data: data}, nil
}

// Done is the end-of-stream event.
func Done() *r3sse.Event {
	return &r3sse.Event{Event: []byte(EventDone), Data: []byte(DoneMarker)}
}

// Serve writes chunks to w until the end marker has been flushed or the client
// disconnects. The caller cancels the run feeding chunks once Serve returns;
// chunks are drained either way so the producer never blocks on a missing
// subscriber.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, streamID string, chunks <-chan model.StreamingChatChunk) {
	if r.server.StreamExists(streamID) {
		http.Error(w, "stream already active", http.StatusConflict)
		for range chunks {
		}
		return
	}
	r.server.CreateStream(streamID)
	defer r.server.RemoveStream(streamID)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	go r.forward(streamID, chunks)

	q := req.URL.Query()
	q.Set("stream", streamID)
	sub := req.Clone(ctx)
	sub.URL.RawQuery = q.Encode()
	r.server.ServeHTTP(&doneWriter{ResponseWriter: w, cancel: cancel}, sub)
}

func (r *Relay) forward(streamID string, chunks <-chan model.StreamingChatChunk) {
	for chunk := range chunks {
		ev, err := Encode(chunk)
		if err != nil {
			log.Error().Err(err).Str("stream", streamID).Msg("Dropping chunk")
			continue
		}
		r.server.Publish(streamID, ev)
	}
	r.server.Publish(streamID, Done())
}

// doneWriter ends the subscription once the end marker has been flushed.
type doneWriter struct {
	http.ResponseWriter
	cancel context.CancelFunc
	done   bool
}

func (w *doneWriter) Write(p []byte) (int, error) {
	if bytes.Equal(bytes.TrimSpace(p), doneLine) {
		w.done = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *doneWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	if w.done {
		w.cancel()
	}
}
