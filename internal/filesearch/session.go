package filesearch

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Session is one running fuzzy file-search session: a walker goroutine and
// a matcher goroutine communicating over an internal signal channel.
//
// Closing a session shuts down only its own two goroutines. When Options
// share a cancel flag across sibling sessions (NewSessionWithCancel),
// Close never touches that shared flag -- dropping one session must not
// cancel its siblings even though they share a cancel token.
type Session struct {
	workCh   chan workSignal
	shutdown *atomic.Bool
	logger   *zap.Logger
}

// NewSession starts a session rooted at a single directory with its own,
// unshared cancel flag.
func NewSession(root string, opts Options, reporter Reporter, logger *zap.Logger) (*Session, error) {
	return newSession([]string{root}, opts, reporter, nil, logger)
}

// NewSessionWithCancel starts a session over one or more root directories,
// sharing cancelFlag with any sibling sessions the caller also starts with
// it. Setting the flag stops every session sharing it; closing any one of
// them does not.
func NewSessionWithCancel(roots []string, opts Options, reporter Reporter, cancelFlag *atomic.Bool, logger *zap.Logger) (*Session, error) {
	return newSession(roots, opts, reporter, cancelFlag, logger)
}

func newSession(roots []string, opts Options, reporter Reporter, cancelFlag *atomic.Bool, logger *zap.Logger) (*Session, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("filesearch: at least one search directory is required")
	}
	defaults := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.Threads <= 0 {
		opts.Threads = defaults.Threads
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cancelled := cancelFlag
	if cancelled == nil {
		cancelled = new(atomic.Bool)
	}
	shutdownFlag := new(atomic.Bool)

	workCh := make(chan workSignal, 256)
	idx := &fileIndex{}

	go func() {
		runWalker(roots, opts, idx, cancelled, shutdownFlag)
		select {
		case workCh <- workSignal{kind: signalWalkComplete}:
		default:
			logger.Warn("filesearch: dropped walk-complete signal, work channel full")
		}
	}()

	go runMatcher(workCh, idx, roots, opts, reporter, cancelled, shutdownFlag)

	return &Session{workCh: workCh, shutdown: shutdownFlag, logger: logger}, nil
}

// UpdateQuery reparses the session's pattern. Cheap relative to re-walking.
func (s *Session) UpdateQuery(pattern string) {
	select {
	case s.workCh <- workSignal{kind: signalQueryUpdated, query: pattern}:
	default:
		s.logger.Warn("filesearch: dropped query-update signal, work channel full")
	}
}

// Close signals the session's own goroutines to stop. It never touches a
// cancel flag shared with sibling sessions.
func (s *Session) Close() {
	s.shutdown.Store(true)
	select {
	case s.workCh <- workSignal{kind: signalShutdown}:
	default:
	}
}
