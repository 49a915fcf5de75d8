package llmclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngoclaw/codexcore/internal/turn"
)

// Session drives one turn's worth of streaming requests through a Router.
// It implements turn.ModelClientSession: the provider chosen on the
// turn's first OpenStream call sticks for every retry the runner makes
// within that same turn (never re-resolved mid-turn, even if the
// provider starts failing -- a fresh turn gets a fresh Session and a
// fresh Resolve), and Sequence increments on every call so a provider
// can tell which attempt within the turn it is serving.
type Session struct {
	router *Router
	model  string
	tools  []ToolDef

	mu       sync.Mutex
	provider Provider
	seq      int64
}

// NewSession creates a turn-scoped session against model, resolved
// lazily against router on the first OpenStream call. tools is the
// turn's fixed toolset, forwarded unchanged on every OpenStream call.
func NewSession(router *Router, model string, tools []ToolDef) *Session {
	return &Session{router: router, model: model, tools: tools}
}

var _ turn.ModelClientSession = (*Session)(nil)

// OpenStream resolves a provider on first use and reuses it for every
// subsequent call on this Session.
func (s *Session) OpenStream(ctx context.Context, req turn.StreamRequest) (turn.EventStream, error) {
	s.mu.Lock()
	provider := s.provider
	s.mu.Unlock()

	if provider == nil {
		resolved, err := s.router.Resolve(ctx, s.model)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.provider == nil {
			s.provider = resolved
		}
		provider = s.provider
		s.mu.Unlock()
	}

	seq := atomic.AddInt64(&s.seq, 1)
	start := time.Now()

	stream, err := provider.OpenStream(ctx, Request{
		Model:        s.model,
		Instructions: req.Instructions,
		Personality:  req.Personality,
		Input:        req.Input,
		Tools:        s.tools,
		Sequence:     seq,
	})
	if err != nil {
		s.router.RecordFailure(provider.Name())
		return nil, err
	}
	return &countingStream{inner: stream, router: s.router, provider: provider, start: start}, nil
}

// countingStream reports a stream's outcome to the router exactly once,
// at the first error or EventCompleted, since latency and pass/fail are
// only known once the stream has actually drained.
type countingStream struct {
	inner    turn.EventStream
	router   *Router
	provider Provider
	start    time.Time

	reported bool
}

func (c *countingStream) Next(ctx context.Context) (turn.StreamEvent, error) {
	ev, err := c.inner.Next(ctx)
	if err != nil {
		c.reportOnce(false)
		return ev, err
	}
	if ev.Kind == turn.EventCompleted {
		c.reportOnce(true)
	}
	return ev, nil
}

func (c *countingStream) reportOnce(success bool) {
	if c.reported {
		return
	}
	c.reported = true
	if success {
		c.router.RecordSuccess(c.provider.Name(), time.Since(c.start))
	} else {
		c.router.RecordFailure(c.provider.Name())
	}
}

func (c *countingStream) Close() error { return c.inner.Close() }
