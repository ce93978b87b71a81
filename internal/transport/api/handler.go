// Package api exposes the workflow engine over HTTP: a JSON endpoint for
// complete replies and an SSE endpoint for streamed ones.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/repo"
	"github.com/chative-core/workflow/internal/agent/workflow"
	errx "github.com/chative-core/workflow/internal/core/error"
	"github.com/chative-core/workflow/internal/transport/sse"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// Request headers.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
)

const maxBodyBytes = 1 << 20

// Handler serves the chat endpoints.
type Handler struct {
	engine    *workflow.Engine
	summaries repo.SummaryStore
	relay     *sse.Relay
	limits    model.WorkflowLimits
}

// NewHandler serves engine. limits are the defaults that per-request limit
// overrides are merged onto.
func NewHandler(engine *workflow.Engine, summaries repo.SummaryStore, relay *sse.Relay, limits model.WorkflowLimits) *Handler {
	return &Handler{engine: engine, summaries: summaries, relay: relay, limits: limits}
}

// Routes registers the endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat", h.chat)
	mux.HandleFunc("POST /v1/chat/stream", h.stream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// LimitsRequest overrides workflow limits for one request. Durations are in
// seconds; zero fields keep the defaults.
type LimitsRequest struct {
	ExecutionTimeout int `json:"execution_timeout,omitempty"`
	StepTimeout      int `json:"step_timeout,omitempty"`
	StreamingTimeout int `json:"streaming_timeout,omitempty"`
	MaxTokens        int `json:"max_tokens,omitempty"`
	MaxMemoryMB      int `json:"max_memory_mb,omitempty"`
	MaxConcurrent    int `json:"max_concurrent,omitempty"`
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	model.ChatRequest
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id,omitempty"`
	Limits         *LimitsRequest `json:"limits,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	ErrorType     string `json:"error_type,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type turnInput struct {
	conv          model.Conversation
	req           model.ChatRequest
	correlationID string
	limits        *model.WorkflowLimits
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*turnInput, bool) {
	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var body ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", CorrelationID: correlationID})
		return nil, false
	}
	if body.UserID == "" {
		body.UserID = r.Header.Get(HeaderUserID)
	}
	if body.ConversationID == "" || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "conversation_id and user_id are required", CorrelationID: correlationID})
		return nil, false
	}
	body.Kind = model.ParseWorkflowKind(string(body.Kind))

	in := &turnInput{
		conv:          model.Conversation{ID: body.ConversationID, UserID: body.UserID},
		req:           body.ChatRequest,
		correlationID: correlationID,
	}
	if body.Limits != nil {
		lim := mergeLimits(h.limits, *body.Limits)
		in.limits = &lim
	}

	summary, err := h.summaries.GetSummary(r.Context(), body.ConversationID)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", body.ConversationID).Msg("Failed to load conversation summary; continuing without it")
	}
	in.conv.Summary = summary
	return in, true
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.engine.Execute(r.Context(), in.conv, in.req, in.correlationID, in.conv.UserID, in.limits)
	if err != nil {
		writeError(w, err, in.correlationID)
		return
	}
	h.saveSummary(r.Context(), in.conv.ID, res.Summary)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks, err := h.engine.ExecuteStreaming(ctx, in.conv, in.req, in.correlationID, in.conv.UserID, in.limits)
	if err != nil {
		writeError(w, err, in.correlationID)
		return
	}

	out := make(chan model.StreamingChatChunk)
	go func() {
		defer close(out)
		for c := range chunks {
			if c.Type == model.ChunkComplete {
				if s, ok := c.Metadata[workflow.MetaSummary].(string); ok {
					h.saveSummary(context.WithoutCancel(ctx), in.conv.ID, s)
				}
			}
			out <- c
		}
	}()
	h.relay.Serve(w, r, in.correlationID, out)
}

func (h *Handler) saveSummary(ctx context.Context, conversationID, summary string) {
	if summary == "" {
		return
	}
	if err := h.summaries.SaveSummary(ctx, conversationID, summary); err != nil {
		logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to save conversation summary")
	}
}

func mergeLimits(base model.WorkflowLimits, o LimitsRequest) model.WorkflowLimits {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	if o.ExecutionTimeout > 0 {
		base.ExecutionTimeout = seconds(o.ExecutionTimeout)
	}
	if o.StepTimeout > 0 {
		base.StepTimeout = seconds(o.StepTimeout)
	}
	if o.StreamingTimeout > 0 {
		base.StreamingTimeout = seconds(o.StreamingTimeout)
	}
	if o.MaxTokens > 0 {
		base.MaxTokens = o.MaxTokens
	}
	if o.MaxMemoryMB > 0 {
		base.MaxMemoryMB = o.MaxMemoryMB
	}
	if o.MaxConcurrent > 0 {
		base.MaxConcurrent = o.MaxConcurrent
	}
	return base
}

func writeError(w http.ResponseWriter, err error, correlationID string) {
	resp := errorResponse{Error: errx.UserMessage(err), CorrelationID: correlationID}
	if kind, ok := errx.KindOf(err); ok {
		resp.ErrorType = string(kind)
	} else {
		var ae *errx.AppError
		if errors.As(err, &ae) && ae.Message != "" {
			resp.Error = ae.Message
		}
	}
	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("correlation_id", correlationID).Msg("Chat request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil && !strings.Contains(err.Error(), "broken pipe") {
		logx.Warn().Err(err).Msg("Failed to write response")
	}
}
