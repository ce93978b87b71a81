package sse

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/model"
)

type frame struct {
	event string
	data  string
}

func readFrames(t *testing.T, resp *http.Response) []frame {
	t.Helper()
	var (
		frames []frame
		cur    frame
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != "" {
				frames = append(frames, cur)
			}
			cur = frame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestEncode(t *testing.T) {
	ev, err := Encode(model.StreamingChatChunk{Type: model.ChunkToken, Content: "hi", MessageID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "token", string(ev.Event))

	var chunk model.StreamingChatChunk
	require.NoError(t, json.Unmarshal(ev.Data, &chunk))
	assert.Equal(t, "hi", chunk.Content)
	assert.Equal(t, "m1", chunk.MessageID)

	assert.Equal(t, DoneMarker, string(Done().Data))
}

func TestRelayServesChunksThenDone(t *testing.T) {
	relay := NewRelay()
	defer relay.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := make(chan model.StreamingChatChunk, 4)
		chunks <- model.StreamingChatChunk{Type: model.ChunkStart, MessageID: "m1"}
		chunks <- model.StreamingChatChunk{Type: model.ChunkToken, Content: "hello", MessageID: "m1"}
		chunks <- model.StreamingChatChunk{Type: model.ChunkComplete, Content: "hello", MessageID: "m1"}
		close(chunks)
		relay.Serve(w, r, "corr-1", chunks)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	frames := readFrames(t, resp)
	require.Len(t, frames, 4)
	assert.Equal(t, []string{"start", "token", "complete", EventDone}, []string{
		frames[0].event, frames[1].event, frames[2].event, frames[3].event,
	})
	assert.Equal(t, DoneMarker, frames[3].data)

	var tok model.StreamingChatChunk
	require.NoError(t, json.Unmarshal([]byte(frames[1].data), &tok))
	assert.Equal(t, "hello", tok.Content)
}
