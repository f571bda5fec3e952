package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

var (
	// ErrModelTransient marks completion failures worth retrying:
	// rate limits, overload, and server-side errors.
	ErrModelTransient = errors.New("transient model error")
	// ErrModelFatal marks failures retrying cannot fix, such as bad
	// credentials or an invalid request.
	ErrModelFatal = errors.New("fatal model error")
)

// Request describes one completion turn.
type Request struct {
	System    string
	Messages  []anthropic.MessageParam
	Tools     []anthropic.ToolUnionParam
	MaxTokens int64
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Turn is the fully accumulated assistant message for one completion.
type Turn struct {
	StopReason anthropic.StopReason
	Text       string
	ToolUses   []ToolUse
	// Blocks carries the assistant content in param form, ready to be
	// appended to the conversation history.
	Blocks       []anthropic.ContentBlockParamUnion
	InputTokens  int64
	OutputTokens int64
}

// Completer produces one streamed completion turn at a time. onToken is
// invoked for every text delta as it arrives off the wire.
type Completer interface {
	Stream(ctx context.Context, req Request, onToken func(text string)) (*Turn, error)
}

// Stream runs one streaming completion, forwarding text deltas to
// onToken and returning the accumulated turn.
func (c *Client) Stream(ctx context.Context, req Request, onToken func(string)) (*Turn, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  req.Messages,
		Tools:     req.Tools,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	stream := c.inner.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("%w: accumulate stream event: %v", ErrModelFatal, err)
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok && onToken != nil {
				onToken(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}

	c.tracker.Add(message.Usage.InputTokens, message.Usage.OutputTokens)
	return buildTurn(message), nil
}

// buildTurn flattens an accumulated message into the orchestrator's
// view: concatenated text, tool uses, and history-ready blocks.
func buildTurn(message anthropic.Message) *Turn {
	turn := &Turn{
		StopReason:   message.StopReason,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Text += variant.Text
			turn.Blocks = append(turn.Blocks, anthropic.NewTextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			turn.ToolUses = append(turn.ToolUses, ToolUse{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: variant.Input,
			})
			turn.Blocks = append(turn.Blocks, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
		}
	}

	return turn
}

// classifyError sorts completion failures into transient and fatal.
// Rate limits, conflicts, request timeouts, and server errors are worth
// retrying; auth and request-shape problems are not. Transport-level
// failures without an HTTP status are treated as transient.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		status := apierr.StatusCode
		if status == 408 || status == 409 || status == 429 || status >= 500 {
			return fmt.Errorf("%w: HTTP %d: %v", ErrModelTransient, status, err)
		}
		return fmt.Errorf("%w: HTTP %d: %v", ErrModelFatal, status, err)
	}

	return fmt.Errorf("%w: %v", ErrModelTransient, err)
}
