package gemini

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

type streamMsg struct {
	event turn.StreamEvent
	err   error
}

// eventStream adapts one Gemini SSE-of-full-chunks response body into a
// turn.EventStream, the same shape the openai/anthropic providers use.
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

// runSSEReader reads Gemini's "data: <full GenerateContentResponse json>"
// stream (alt=sse) and emits one OutputItemDone per functionCall part as
// it arrives, then one OutputItemDone carrying all text parts joined
// together (if any), a RateLimits event if any, then a terminal Completed.
func runSSEReader(ctx context.Context, body io.Reader, msgs chan<- streamMsg, rateLimits *turn.RateLimitSnapshot, logger *zap.Logger) {
	defer close(msgs)

	idleTimeout := 60 * time.Second
	reader := &timedReader{r: body, timeout: idleTimeout}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var callSeq int
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

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			logger.Debug("skipping unparseable Gemini SSE chunk", zap.Error(err))
			continue
		}
		if resp.UsageMetadata != nil {
			if t := resp.UsageMetadata.Total(); t > 0 {
				tokensUsed = t
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				contentBuilder.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				msgs <- streamMsg{event: turn.StreamEvent{
					Kind: turn.EventOutputItemDone,
					Item: functionCallItem(part.FunctionCall.Name, part.FunctionCall.Args, callSeq),
				}}
				callSeq++
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout", zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && callSeq == 0 {
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
	if rateLimits != nil {
		msgs <- streamMsg{event: turn.StreamEvent{Kind: turn.EventRateLimits, RateLimits: rateLimits}}
	}
	if tokensUsed == 0 && contentBuilder.Len() > 0 {
		tokensUsed = len([]rune(contentBuilder.String()))*3/2 + 50
	}
	msgs <- streamMsg{event: turn.StreamEvent{Kind: turn.EventCompleted, TokenUsage: tokensUsed}}
}

var errIdleTimeout = fmt.Errorf("gemini SSE read idle timeout")

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
