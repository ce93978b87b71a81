// Package events mirrors streamed chunks onto a watermill message bus so other
// components can observe conversations without sitting on the request path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/agent/workflow"
)

// DefaultTopic carries every chunk published by the engine.
const DefaultTopic = "chat.chunks"

// Message metadata keys.
const (
	MetaCorrelationID  = "correlation_id"
	MetaConversationID = "conversation_id"
	MetaChunkType      = "chunk_type"
	MetaSequence       = "sequence_number"
)

// ChunkPublisher publishes chunks as JSON watermill messages.
type ChunkPublisher struct {
	publisher message.Publisher
	topic     string
	seq       atomic.Uint64
}

func NewChunkPublisher(publisher message.Publisher, topic string) *ChunkPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &ChunkPublisher{publisher: publisher, topic: topic}
}

// NewGoChannel is the in-process bus used when no broker is configured.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
}

func (p *ChunkPublisher) PublishChunk(ctx context.Context, chunk model.StreamingChatChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaCorrelationID, chunk.CorrelationID)
	msg.Metadata.Set(MetaConversationID, chunk.ConversationID)
	msg.Metadata.Set(MetaChunkType, string(chunk.Type))
	msg.Metadata.Set(MetaSequence, strconv.FormatUint(p.seq.Add(1)-1, 10))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish chunk to %s: %w", p.topic, err)
	}
	log.Trace().Str("topic", p.topic).Str("chunk_type", string(chunk.Type)).Msg("Published chunk")
	return nil
}

// Subscribe decodes chunks from topic until ctx is done. Messages that fail
// to decode are nacked and skipped.
func Subscribe(ctx context.Context, sub message.Subscriber, topic string) (<-chan model.StreamingChatChunk, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan model.StreamingChatChunk)
	go func() {
		defer close(out)
		for msg := range msgs {
			var chunk model.StreamingChatChunk
			if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
				log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable chunk")
				msg.Nack()
				continue
			}
			select {
			case out <- chunk:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

var _ workflow.ChunkSink = (*ChunkPublisher)(nil)
