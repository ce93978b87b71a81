package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/graph/conversations"
	"github.com/chative-core/workflow/internal/agent/graph/nodes"
	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/repo"
	"github.com/chative-core/workflow/internal/agent/resources"
	"github.com/chative-core/workflow/internal/agent/strategy"
	"github.com/chative-core/workflow/internal/agent/workflow"
	"github.com/chative-core/workflow/internal/testutil"
	"github.com/chative-core/workflow/internal/transport/api"
	"github.com/chative-core/workflow/internal/transport/sse"
)

type server struct {
	*httptest.Server
	chat      *testutil.ScriptedModel
	summaries *repo.MemorySummaryStore
}

func newServer(t *testing.T, chat *testutil.ScriptedModel) *server {
	t.Helper()
	limits := model.DefaultLimits()
	registry, err := strategy.NewRegistry(limits)
	require.NoError(t, err)
	factory, err := nodes.NewFactory(nodes.Deps{Chat: chat})
	require.NoError(t, err)
	history := conversations.NewMessagesManager(repo.NewMemoryMessageService(), model.MemoryConfig{})
	engine, err := workflow.NewEngine(registry, factory, history, resources.NewManager())
	require.NoError(t, err)

	summaries := repo.NewMemorySummaryStore()
	relay := sse.NewRelay()
	t.Cleanup(relay.Close)

	mux := http.NewServeMux()
	api.NewHandler(engine, summaries, relay, limits).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &server{Server: srv, chat: chat, summaries: summaries}
}

func (s *server) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderCorrelationID, "corr-"+strings.ReplaceAll(t.Name(), "/", "-"))
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatReturnsResult(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel(testutil.Reply{Content: "hello there"}))

	resp := s.post(t, "/v1/chat", `{"conversation_id":"c1","user_id":"u1","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res workflow.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, "c1", res.ConversationID)
	assert.Equal(t, "corr-TestChatReturnsResult", res.CorrelationID)
	assert.NotEmpty(t, res.MessageID)
}

func TestChatPassesStoredSummary(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel(testutil.Reply{Content: "ok"}))
	require.NoError(t, s.summaries.SaveSummary(context.Background(), "c1", "Summary: the user likes tea."))

	resp := s.post(t, "/v1/chat", `{"conversation_id":"c1","user_id":"u1","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := s.chat.Calls()
	require.NotEmpty(t, calls)
	var found bool
	for _, m := range calls[0] {
		if strings.Contains(m.Content, "the user likes tea") {
			found = true
		}
	}
	assert.True(t, found, "summary should reach the model prompt")

	got, err := s.summaries.GetSummary(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Summary: the user likes tea.", got)
}

func TestChatValidation(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel())

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"conversation_id":`},
		{"missing conversation", `{"user_id":"u1","message":"hi"}`},
		{"missing user", `{"conversation_id":"c1","message":"hi"}`},
		{"empty message", `{"conversation_id":"c1","user_id":"u1","message":"  "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.post(t, "/v1/chat", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, s.chat.Calls())
}

func TestChatTimeoutMapsToGatewayTimeout(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel(testutil.Reply{Content: "late", Delay: 5 * time.Second}))

	resp := s.post(t, "/v1/chat", `{"conversation_id":"c1","user_id":"u1","message":"hi","limits":{"execution_timeout":1,"step_timeout":30}}`)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "execution_timeout", body["error_type"])
}

func TestStreamServesSSE(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel(testutil.Reply{Content: "one two"}))

	resp := s.post(t, "/v1/chat/stream", `{"conversation_id":"c1","user_id":"u1","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var (
		data  []string
		types []string
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		data = append(data, payload)
		if payload == sse.DoneMarker {
			break
		}
		var chunk model.StreamingChatChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		types = append(types, string(chunk.Type))
	}

	require.NotEmpty(t, data)
	assert.Equal(t, sse.DoneMarker, data[len(data)-1])
	require.NotEmpty(t, types)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Contains(t, types, "token")
}

func TestHealthz(t *testing.T) {
	s := newServer(t, testutil.NewScriptedModel())
	resp, err := s.Client().Get(s.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
