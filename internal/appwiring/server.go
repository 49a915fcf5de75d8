package appwiring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/appserver"
	"github.com/ngoclaw/codexcore/internal/execevents"
	"github.com/ngoclaw/codexcore/internal/filesearch"
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/layeredconfig"
)

// conversation is the server-side state kept for one thread/conversation,
// mirroring the teacher's per-connection session map in
// internal/interfaces/websocket/handler.go generalized from one-socket-
// per-client to one-history-per-conversation-id.
type conversation struct {
	id        string
	workspace string
	model     string
	history   *itemstore.ContextManager
	cancel    context.CancelFunc
	events    *execevents.Aggregator
}

// Server registers the app-server's JSON-RPC method table against an
// Environment. One Server is built per process; RegisterHandlers wires
// it onto a fresh appserver.Dispatcher per connection.
type Server struct {
	env *Environment

	mu            sync.Mutex
	conversations map[string]*conversation
	searches      map[string]*filesearch.Session
}

// NewServer builds a Server over env.
func NewServer(env *Environment) *Server {
	return &Server{
		env:           env,
		conversations: make(map[string]*conversation),
		searches:      make(map[string]*filesearch.Session),
	}
}

// RegisterHandlers wires the method table covering spec §6's
// initialize/config/thread/turn/fuzzyFileSearch families.
// This is a representative subset, not the full non-exhaustive list in
// spec §6 -- every handler here is fully wired end-to-end; methods not
// named (account/*, review/start, skills/list, …) are callers this
// module's Non-goals (UI, auth/login, telemetry, MCP registry) exclude.
func (s *Server) RegisterHandlers(d *appserver.Dispatcher) {
	d.Handle(appserver.MethodInitialize, s.handleInitialize)

	d.Handle("config/read", s.handleConfigRead)
	d.Handle("config/value/write", s.handleConfigWrite)
	d.Handle("config/batchWrite", s.handleConfigWrite)

	d.Handle("thread/start", s.handleThreadStart)
	d.Handle("thread/archive", s.handleThreadArchive)

	d.Handle("turn/interrupt", s.handleTurnInterrupt)

	d.Handle("fuzzyFileSearch", s.handleFuzzyFileSearchOneShot)
	d.Handle("fuzzyFileSearch/sessionUpdate", s.handleFuzzySessionUpdate)
	d.Handle("fuzzyFileSearch/sessionStop", s.handleFuzzySessionStop)

	// turn/start is wired in RegisterPerConnection: it needs to push
	// thread/event notifications back over the same connection it runs
	// on, the way fuzzyFileSearch/sessionStart already does.
}

func rpcErr(code int, err error) *appserver.RPCError {
	return &appserver.RPCError{Code: code, Message: err.Error()}
}

// --- initialize ---

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	res := initializeResult{ProtocolVersion: "2024-11-05"}
	res.ServerInfo.Name = "codexcore-app-server"
	res.ServerInfo.Version = "0.1.0"
	return res, nil
}

// --- config ---

type configReadResult struct {
	Config  layeredconfig.Table                 `json:"config"`
	Origins map[string]layeredconfig.LayerMetadata `json:"origins"`
}

func (s *Server) handleConfigRead(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	res, err := s.env.ConfigEngine.Read(false)
	if err != nil {
		return nil, rpcErr(appserver.CodeInternalError, err)
	}
	return configReadResult{Config: res.Config, Origins: res.Origins}, nil
}

type configWriteParams struct {
	FilePath        string              `json:"filePath"`
	ExpectedVersion string              `json:"expectedVersion"`
	Edits           []layeredconfig.Edit `json:"edits"`
}

func (s *Server) handleConfigWrite(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p configWriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	result, err := s.env.ConfigEngine.BatchWrite(layeredconfig.WriteRequest{
		FilePath:        p.FilePath,
		Edits:           p.Edits,
		ExpectedVersion: p.ExpectedVersion,
	})
	if err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	return result, nil
}

// --- thread ---

type threadStartParams struct {
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
}

type threadStartResult struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) handleThreadStart(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p threadStartParams
	_ = json.Unmarshal(params, &p)

	conv := &conversation{
		id:        uuid.NewString(),
		workspace: p.Workspace,
		model:     p.Model,
		history:   itemstore.NewContextManager(s.env.Logger, false),
		events:    execevents.New(s.env.Logger),
	}
	s.mu.Lock()
	s.conversations[conv.id] = conv
	s.mu.Unlock()

	return threadStartResult{ThreadID: conv.id}, nil
}

type threadArchiveParams struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) handleThreadArchive(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p threadArchiveParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	s.mu.Lock()
	conv, ok := s.conversations[p.ThreadID]
	if ok {
		if conv.cancel != nil {
			conv.cancel()
		}
		delete(s.conversations, p.ThreadID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, rpcErr(appserver.CodeInvalidParams, fmt.Errorf("unknown threadId %q", p.ThreadID))
	}
	return struct{}{}, nil
}

// --- turn ---

type turnStartParams struct {
	ThreadID string `json:"threadId"`
	Text     string `json:"text"`
}

type turnStartResult struct {
	Completed bool `json:"completed"`
}

// handleTurnStart builds the per-connection turn/start handler. It closes
// over d so the turn's exec/MCP/patch-apply activity and lifecycle, once
// aggregated by conv.events into execevents.ThreadEvent values, can be
// pushed back over this same connection as thread/event notifications --
// the same closure-over-Dispatcher shape RegisterPerConnection already
// uses for fuzzyFileSearch/sessionStart.
func (s *Server) handleTurnStart(d *appserver.Dispatcher) appserver.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
		var p turnStartParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpcErr(appserver.CodeInvalidParams, err)
		}

		s.mu.Lock()
		conv, ok := s.conversations[p.ThreadID]
		s.mu.Unlock()
		if !ok {
			return nil, rpcErr(appserver.CodeInvalidParams, fmt.Errorf("unknown threadId %q", p.ThreadID))
		}

		turnCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		conv.cancel = cancel
		s.mu.Unlock()
		defer cancel()

		runner, err := s.env.NewTurnRunner(TurnDeps{
			History:   conv.history,
			Workspace: conv.workspace,
			Model:     conv.model,
			ThreadEvents: conv.events,
			OnThreadEvent: func(te execevents.ThreadEvent) {
				_ = d.Notify("thread/event", te)
			},
		})
		if err != nil {
			return nil, rpcErr(appserver.CodeInternalError, err)
		}

		userItem := itemstore.Item{
			Kind: itemstore.KindMessage,
			Role: itemstore.RoleUser,
			Content: []itemstore.ContentItem{itemstore.InputText(p.Text)},
		}
		if err := runner.Run(turnCtx, []itemstore.Item{userItem}); err != nil {
			return nil, rpcErr(appserver.CodeInternalError, err)
		}
		return turnStartResult{Completed: true}, nil
	}
}

func (s *Server) handleTurnInterrupt(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p turnStartParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	s.mu.Lock()
	conv, ok := s.conversations[p.ThreadID]
	s.mu.Unlock()
	if !ok {
		return nil, rpcErr(appserver.CodeInvalidParams, fmt.Errorf("unknown threadId %q", p.ThreadID))
	}
	if conv.cancel != nil {
		conv.cancel()
	}
	return struct{}{}, nil
}

// --- fuzzy file search ---

type fuzzySearchParams struct {
	Root    string `json:"root"`
	Pattern string `json:"pattern"`
	Limit   int    `json:"limit"`
}

type fuzzySearchResult struct {
	Matches []filesearch.FileMatch `json:"matches"`
}

// blockingReporter collects exactly one synchronous snapshot, for the
// one-shot fuzzyFileSearch method (as opposed to the session variants,
// which stream snapshots back as notifications).
type blockingReporter struct {
	done chan filesearch.Snapshot
}

func (r *blockingReporter) OnUpdate(snap filesearch.Snapshot) {
	select {
	case r.done <- snap:
	default:
	}
}
func (r *blockingReporter) OnComplete() {
	select {
	case r.done <- filesearch.Snapshot{WalkComplete: true}:
	default:
	}
}

func (s *Server) handleFuzzyFileSearchOneShot(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p fuzzySearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	opts := filesearch.DefaultOptions()
	if p.Limit > 0 {
		opts.Limit = p.Limit
	}
	reporter := &blockingReporter{done: make(chan filesearch.Snapshot, 8)}
	sess, err := filesearch.NewSession(p.Root, opts, reporter, s.env.Logger)
	if err != nil {
		return nil, rpcErr(appserver.CodeInternalError, err)
	}
	defer sess.Close()

	sess.UpdateQuery(p.Pattern)

	var last filesearch.Snapshot
	for {
		select {
		case snap := <-reporter.done:
			last = snap
			if snap.WalkComplete {
				return fuzzySearchResult{Matches: last.Matches}, nil
			}
		case <-ctx.Done():
			return fuzzySearchResult{Matches: last.Matches}, nil
		}
	}
}

// notifyingReporter forwards every snapshot as a server-initiated
// notification, for the streaming session variants.
type notifyingReporter struct {
	d          *appserver.Dispatcher
	sessionID  string
}

func (r *notifyingReporter) OnUpdate(snap filesearch.Snapshot) {
	_ = r.d.Notify("fuzzyFileSearch/sessionUpdate", map[string]any{
		"sessionId": r.sessionID,
		"snapshot":  snap,
	})
}
func (r *notifyingReporter) OnComplete() {
	_ = r.d.Notify("fuzzyFileSearch/sessionComplete", map[string]any{"sessionId": r.sessionID})
}

type fuzzySessionStartParams struct {
	Roots []string `json:"roots"`
	Limit int      `json:"limit"`
}
type fuzzySessionStartResult struct {
	SessionID string `json:"sessionId"`
}

type fuzzySessionUpdateParams struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

func (s *Server) handleFuzzySessionUpdate(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p fuzzySessionUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	s.mu.Lock()
	sess, ok := s.searches[p.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil, rpcErr(appserver.CodeInvalidParams, fmt.Errorf("unknown sessionId %q", p.SessionID))
	}
	sess.UpdateQuery(p.Query)
	return struct{}{}, nil
}

type fuzzySessionStopParams struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFuzzySessionStop(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
	var p fuzzySessionStopParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcErr(appserver.CodeInvalidParams, err)
	}
	s.mu.Lock()
	sess, ok := s.searches[p.SessionID]
	delete(s.searches, p.SessionID)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
	return struct{}{}, nil
}

// RegisterPerConnection wires the Dispatcher-dependent handlers
// (fuzzyFileSearch/sessionStart pushes notifications back on the same
// connection it was started on) after a Dispatcher exists.
func (s *Server) RegisterPerConnection(d *appserver.Dispatcher, logger *zap.Logger) {
	d.Handle("turn/start", s.handleTurnStart(d))

	d.Handle("fuzzyFileSearch/sessionStart", func(ctx context.Context, params json.RawMessage) (any, *appserver.RPCError) {
		var p fuzzySessionStartParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpcErr(appserver.CodeInvalidParams, err)
		}
		opts := filesearch.DefaultOptions()
		if p.Limit > 0 {
			opts.Limit = p.Limit
		}
		sessionID := uuid.NewString()
		reporter := &notifyingReporter{d: d, sessionID: sessionID}
		sess, err := filesearch.NewSessionWithCancel(p.Roots, opts, reporter, nil, logger)
		if err != nil {
			return nil, rpcErr(appserver.CodeInternalError, err)
		}
		s.mu.Lock()
		s.searches[sessionID] = sess
		s.mu.Unlock()
		return fuzzySessionStartResult{SessionID: sessionID}, nil
	})
}
