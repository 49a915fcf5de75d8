package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/turn"
)

type streamMsg struct {
	event turn.StreamEvent
	err   error
}

// eventStream adapts one Anthropic SSE response body into a
// turn.EventStream, the same shape as the openai provider's eventStream.
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

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// runSSEReader reads Anthropic's event-based SSE format ("event: <type>"
// line followed by "data: <json>") and, once the stream ends, emits one
// OutputItemDone carrying all text deltas joined together (if any), then
// one OutputItemDone per tool_use block in block order, followed by
// RateLimits (if any) and a terminal Completed, matching the event sequence the openai reader
// produces so the turn runner drains both the same way.
func runSSEReader(ctx context.Context, body io.Reader, msgs chan<- streamMsg, rateLimits *turn.RateLimitSnapshot, logger *zap.Logger) {
	defer close(msgs)

	idleTimeout := 60 * time.Second
	reader := &timedReader{r: body, timeout: idleTimeout}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	toolCalls := make(map[int]*toolCallAccumulator)
	var tokensUsed int
	var currentEvent string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			msgs <- streamMsg{err: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err == nil && evt.Message != nil {
				if t := evt.Message.Usage.Total(); t > 0 {
					tokensUsed = t
				}
			}

		case "content_block_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err == nil && evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				toolCalls[evt.Index] = &toolCallAccumulator{id: evt.ContentBlock.ID, name: evt.ContentBlock.Name}
			}

		case "content_block_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil || evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				contentBuilder.WriteString(evt.Delta.Text)
			case "input_json_delta":
				if acc, ok := toolCalls[evt.Index]; ok {
					acc.args.WriteString(evt.Delta.PartialJSON)
				}
			}

		case "message_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err == nil && evt.Usage != nil {
				if t := evt.Usage.Total(); t > 0 {
					tokensUsed = t
				}
			}

		case "message_stop":
			currentEvent = ""
			continue
		}
		currentEvent = ""
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
	blockIndices := make([]int, 0, len(toolCalls))
	for i := range toolCalls {
		blockIndices = append(blockIndices, i)
	}
	sort.Ints(blockIndices)
	for _, i := range blockIndices {
		acc := toolCalls[i]
		msgs <- streamMsg{event: turn.StreamEvent{
			Kind: turn.EventOutputItemDone,
			Item: functionCallItem(acc.id, acc.name, decodeArgs(acc.args.String())),
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

var errIdleTimeout = fmt.Errorf("anthropic SSE read idle timeout")

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
