package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/safego"
)

// MethodInitialize and MethodInitialized gate the handshake: no method
// other than MethodInitialize may be served before the client sends the
// MethodInitialized notification.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
)

// HandlerFunc answers one inbound request. A non-nil *RPCError is sent as
// an Error frame instead of a Response; at most one of (result, rpcErr)
// is used.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (result any, rpcErr *RPCError)

// NotificationFunc handles one inbound notification; no reply is sent.
type NotificationFunc func(ctx context.Context, params json.RawMessage)

// Dispatcher owns the method dispatch table for one Conn: it enforces the
// initialize/initialized handshake gate, runs request handlers
// concurrently (each on its own panic-recovering goroutine, per the
// spec's "handlers may be spawned concurrently" concurrency model), and
// lets the server make its own outbound requests/notifications
// interleaved with responses to inbound ones.
//
// Grounded on the teacher's Hub/Handler split
// (internal/interfaces/websocket/handler.go): a registered per-method
// handler table stands in for the teacher's single onMessage callback,
// generalized to dispatch-by-method instead of dispatch-by-MessageType.
type Dispatcher struct {
	conn *Conn

	mu            sync.RWMutex
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationFunc

	initialized atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]chan pendingReply
	nextID    atomic.Int64

	logger *zap.Logger
}

type pendingReply struct {
	result json.RawMessage
	err    *RPCError
}

func NewDispatcher(conn *Conn, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		conn:          conn,
		handlers:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationFunc),
		pending:       make(map[string]chan pendingReply),
		logger:        logger,
	}
}

// Handle registers a handler for a request method, e.g. "thread/start".
func (d *Dispatcher) Handle(method string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

// HandleNotification registers a handler for an inbound notification.
func (d *Dispatcher) HandleNotification(method string, fn NotificationFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications[method] = fn
}

// Notify sends a server-initiated notification, e.g. a fuzzy-search
// session progress update.
func (d *Dispatcher) Notify(method string, params any) error {
	return d.conn.SendNotification(method, params)
}

// Request sends a server-initiated request and blocks until the client
// replies or ctx is cancelled.
func (d *Dispatcher) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := NewIntID(d.nextID.Add(1))
	ch := make(chan pendingReply, 1)

	d.pendingMu.Lock()
	d.pending[id.String()] = ch
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, id.String())
		d.pendingMu.Unlock()
	}()

	if err := d.conn.SendRequest(id, method, params); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the connection until ctx is cancelled or the connection
// closes or hits an unparsable line.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.conn.Run(ctx, Handlers{
		OnRequest:       func(req Request) { d.dispatchRequest(ctx, req) },
		OnNotification:  func(n Notification) { d.dispatchNotification(ctx, n) },
		OnResponse:      func(r Response) { d.resolve(r.ID, r.Result, nil) },
		OnErrorResponse: func(e ErrorResponse) { d.resolve(e.ID, nil, e.Error) },
	})
}

func (d *Dispatcher) resolve(id ID, result json.RawMessage, rpcErr *RPCError) {
	d.pendingMu.Lock()
	ch, ok := d.pending[id.String()]
	d.pendingMu.Unlock()
	if !ok {
		d.logger.Warn("appserver: response for unknown request id", zap.String("id", id.String()))
		return
	}
	ch <- pendingReply{result: result, err: rpcErr}
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, n Notification) {
	if n.Method == MethodInitialized {
		d.initialized.Store(true)
	}
	d.mu.RLock()
	fn, ok := d.notifications[n.Method]
	d.mu.RUnlock()
	if !ok {
		return
	}
	safego.Go(d.logger, "appserver-notification:"+n.Method, func() {
		fn(ctx, n.Params)
	})
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, req Request) {
	if req.Method != MethodInitialize && !d.initialized.Load() {
		d.sendError(req.ID, &RPCError{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("method %q served before the initialize/initialized handshake completed", req.Method),
		})
		return
	}

	d.mu.RLock()
	fn, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		d.sendError(req.ID, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)})
		return
	}

	safego.Go(d.logger, "appserver-request:"+req.Method, func() {
		result, rpcErr := fn(ctx, req.Params)
		if rpcErr != nil {
			d.sendError(req.ID, rpcErr)
			return
		}
		if err := d.conn.SendResponse(req.ID, result); err != nil {
			d.logger.Error("appserver: failed to send response", zap.String("method", req.Method), zap.Error(err))
		}
	})
}

func (d *Dispatcher) sendError(id ID, rpcErr *RPCError) {
	if err := d.conn.SendError(id, rpcErr); err != nil {
		d.logger.Error("appserver: failed to send error response", zap.Error(err))
	}
}
