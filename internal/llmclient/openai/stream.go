package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/turn"
)

// streamMsg is one terminal-or-not unit handed from the SSE reader
// goroutine to eventStream.Next. Exactly one of event/err is meaningful;
// err is only ever set on the final message.
type streamMsg struct {
	event turn.StreamEvent
	err   error
}

// eventStream adapts one SSE response body into a turn.EventStream: a
// background goroutine parses the stream and emits OutputItemDone events
// as items complete, followed by RateLimits (if the response carried
// rate-limit headers) and a terminal Completed event, or a terminal
// error.
type eventStream struct {
	msgs   chan streamMsg
	body   io.Closer
	cancel context.CancelFunc
}

func (s *eventStream) Next(ctx context.Context) (turn.StreamEvent, error) {
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return turn.StreamEvent{}, io.ErrUnexpectedEOF
		}
		return msg.event, msg.err
	case <-ctx.Done():
		return turn.StreamEvent{}, ctx.Err()
	}
}

func (s *eventStream) Close() error {
	s.cancel()
	return s.body.Close()
}

// toolCallAccumulator accumulates one tool call's fragments across SSE
// deltas, keyed by the index OpenAI-compatible backends use to
// disambiguate concurrent tool calls within one assistant turn.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// runSSEReader reads a text/event-stream response body, emitting one
// OutputItemDone per completed message/tool-call item and a terminal
// Completed (or error) event on msgs. Three-tier termination, same as
// the teacher: break on finish_reason without waiting for [DONE] (some
// gateways never send it), a 60s idle-read timeout, and the caller's own
// context deadline.
func runSSEReader(ctx context.Context, body io.Reader, msgs chan<- streamMsg, rateLimits *turn.RateLimitSnapshot, logger *zap.Logger) {
	defer close(msgs)

	idleTimeout := 60 * time.Second
	reader := &timedReader{r: body, timeout: idleTimeout}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	toolCalls := make(map[int]*toolCallAccumulator)
	var tokensUsed int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			msgs <- streamMsg{err: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skipping unparseable SSE chunk", zap.Error(err))
			continue
		}
		if chunk.Usage != nil {
			if t := chunk.Usage.Total(); t > 0 {
				tokensUsed = t
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := toolCalls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				toolCalls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != nil {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout", zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCalls) == 0 {
				msgs <- streamMsg{err: fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)}
				return
			}
		} else {
			msgs <- streamMsg{err: fmt.Errorf("SSE scan error: %w", err)}
			return
		}
	}

	if text := contentBuilder.String(); text != "" {
		msgs <- streamMsg{event: turn.StreamEvent{Kind: turn.EventOutputItemDone, Item: assistantMessageItem(text)}}
	}
	for i := 0; i < len(toolCalls); i++ {
		acc, ok := toolCalls[i]
		if !ok {
			continue
		}
		msgs <- streamMsg{event: turn.StreamEvent{
			Kind: turn.EventOutputItemDone,
			Item: functionCallItem(acc.id, acc.name, acc.args.String()),
		}}
	}

	if rateLimits != nil {
		msgs <- streamMsg{event: turn.StreamEvent{Kind: turn.EventRateLimits, RateLimits: rateLimits}}
	}

	if tokensUsed == 0 && contentBuilder.Len() > 0 {
		tokensUsed = len([]rune(contentBuilder.String()))*3/2 + 50
	}
	msgs <- streamMsg{event: turn.StreamEvent{Kind: turn.EventCompleted, TokenUsage: tokensUsed}}
}

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline, so a
// stalled gateway can't block the scanner forever.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
