package model

// ChunkType tags a streamed chunk.
type ChunkType string

const (
	ChunkStart    ChunkType = "start"
	ChunkToken    ChunkType = "token"
	ChunkComplete ChunkType = "complete"
	ChunkError    ChunkType = "error"
)

// StreamingChatChunk is one unit of streamed output. Token chunks carry only
// the text produced since the previous chunk.
type StreamingChatChunk struct {
	Type           ChunkType      `json:"type"`
	Content        string         `json:"content"`
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	CorrelationID  string         `json:"correlation_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the chunk ends the stream.
func (c StreamingChatChunk) Terminal() bool {
	return c.Type == ChunkComplete || c.Type == ChunkError
}
