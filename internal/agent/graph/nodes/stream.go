package nodes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph"
)

// generate calls the model, streaming when the run is streaming. Partial text
// is published after every content delta.
func generate(ctx context.Context, chat einomodel.BaseChatModel, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if !graph.Streaming(ctx) {
		msg, err := chat.Generate(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, errors.New("model returned no message")
		}
		return msg, nil
	}

	sr, err := chat.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var (
		chunks []*schema.Message
		text   strings.Builder
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("receive stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		text.WriteString(chunk.Content)
		if err := graph.EmitPartial(ctx, text.String()); err != nil {
			return nil, err
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("model stream was empty")
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat stream: %w", err)
	}
	return msg, nil
}
