package turn

import (
	"context"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

// Middleware transforms the prompt before a stream opens and the resulting
// items after it completes. Adapted from the teacher's Middleware
// interface (internal/domain/service/middleware.go), generalized from
// LLMMessage to itemstore.Item.
type Middleware interface {
	Name() string
	BeforeModel(ctx context.Context, items []itemstore.Item, step int) []itemstore.Item
	AfterModel(ctx context.Context, items []itemstore.Item, step int) []itemstore.Item
}

// Pipeline chains middlewares: BeforeModel runs in registration order,
// AfterModel unwinds in reverse, same as the teacher's MiddlewarePipeline.
type Pipeline struct {
	middlewares []Middleware
}

func NewPipeline() *Pipeline { return &Pipeline{} }

func (p *Pipeline) Use(mws ...Middleware) { p.middlewares = append(p.middlewares, mws...) }

func (p *Pipeline) Len() int { return len(p.middlewares) }

func (p *Pipeline) RunBeforeModel(ctx context.Context, items []itemstore.Item, step int) []itemstore.Item {
	for _, mw := range p.middlewares {
		items = mw.BeforeModel(ctx, items, step)
	}
	return items
}

func (p *Pipeline) RunAfterModel(ctx context.Context, items []itemstore.Item, step int) []itemstore.Item {
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		items = p.middlewares[i].AfterModel(ctx, items, step)
	}
	return items
}

// NoOpMiddleware provides pass-through defaults to embed in middlewares
// that only need to override one hook.
type NoOpMiddleware struct{}

func (NoOpMiddleware) BeforeModel(_ context.Context, items []itemstore.Item, _ int) []itemstore.Item {
	return items
}

func (NoOpMiddleware) AfterModel(_ context.Context, items []itemstore.Item, _ int) []itemstore.Item {
	return items
}
