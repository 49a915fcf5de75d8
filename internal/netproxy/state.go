package netproxy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/apperr"
)

// Loader reloads Config (and its Constraints) from the layered config
// engine. Kept as a function so netproxy does not import layeredconfig
// directly; the app wiring layer supplies the closure.
type Loader func() (Config, Constraints, error)

// State is the long-lived, thread-safe network-proxy policy core. Same
// RWLock-style pattern as layeredconfig.Engine (§5): reads take a read
// guard, writes (set_network_mode) take the write guard and re-validate
// under it in case a reload raced the write.
type State struct {
	mu          sync.RWMutex
	cfg         Config
	constraints Constraints
	configPath  string
	lastMTime   time.Time
	load        Loader
	ring        *blockedRing
	logger      *zap.Logger
}

// NewState builds a State from an initial load. configPath is watched
// for the hot-reload mtime check; pass "" if the config has no backing
// file (e.g. entirely in-memory / test fixtures).
func NewState(load Loader, configPath string, logger *zap.Logger) (*State, error) {
	s := &State{
		load:       load,
		configPath: configPath,
		ring:       newBlockedRing(),
		logger:     logger,
	}
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// reloadIfNeeded is called at the start of every public method: it stats
// the config file and triggers a full reload if its mtime moved forward.
// The blocked-request buffer is preserved across reloads.
func (s *State) reloadIfNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configPath == "" {
		return
	}
	fi, err := os.Stat(s.configPath)
	if err != nil {
		return
	}
	if !fi.ModTime().After(s.lastMTime) {
		return
	}
	if err := s.reloadLocked(); err != nil && s.logger != nil {
		s.logger.Warn("netproxy reload failed, keeping previous state", zap.Error(err))
	}
}

func (s *State) reloadLocked() error {
	cfg, constraints, err := s.load()
	if err != nil {
		return err
	}
	s.logDiff(s.cfg, cfg)
	s.cfg = cfg
	s.constraints = constraints
	if s.configPath != "" {
		if fi, err := os.Stat(s.configPath); err == nil {
			s.lastMTime = fi.ModTime()
		}
	}
	return nil
}

// logDiff emits one line per added/removed allow- or deny-list entry
// between the previous and new config, per §4.C's reload contract.
func (s *State) logDiff(old, new Config) {
	if s.logger == nil {
		return
	}
	diffList(s.logger, "allowed_domains", old.Policy.AllowedDomains, new.Policy.AllowedDomains)
	diffList(s.logger, "denied_domains", old.Policy.DeniedDomains, new.Policy.DeniedDomains)
}

func diffList(logger *zap.Logger, field string, oldList, newList []string) {
	oldSet := toSet(oldList)
	newSet := toSet(newList)
	for e := range newSet {
		if !oldSet[e] {
			logger.Info("netproxy config entry added", zap.String("field", field), zap.String("entry", e))
		}
	}
	for e := range oldSet {
		if !newSet[e] {
			logger.Info("netproxy config entry removed", zap.String("field", field), zap.String("entry", e))
		}
	}
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

// HostBlocked decides whether host:port is allowed.
func (s *State) HostBlocked(ctx context.Context, host string, port int) Decision {
	s.reloadIfNeeded()
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	d := HostBlocked(ctx, cfg, host, port)
	if !d.Allowed {
		s.ring.record(BlockedRequest{Host: host, Port: port, Reason: d.Reason, At: time.Now()})
	}
	return d
}

// IsUnixSocketAllowed checks path against the current config.
func (s *State) IsUnixSocketAllowed(path string) bool {
	s.reloadIfNeeded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IsUnixSocketAllowed(s.cfg, path)
}

// MethodAllowed checks method against the current mode.
func (s *State) MethodAllowed(method string) bool {
	s.reloadIfNeeded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MethodAllowed(s.cfg, method)
}

// DrainBlocked atomically takes and returns all buffered blocked entries.
func (s *State) DrainBlocked() []BlockedRequest {
	return s.ring.drain()
}

// SetNetworkMode re-validates mode against constraints and applies it
// within one hold of s.mu, the same lock a reload takes, so no reload can
// land between validation and the write. The version comparison inside
// the loop is made under that same hold and never differs, so the retry
// branch is not taken.
func (s *State) SetNetworkMode(mode Mode) error {
	s.reloadIfNeeded()

	for attempt := 0; attempt < 2; attempt++ {
		s.mu.Lock()
		versionBefore := s.lastMTime
		if err := s.validateModeLocked(mode); err != nil {
			s.mu.Unlock()
			return err
		}
		if versionBefore != s.lastMTime {
			// A reload raced us; retry once against the fresh state.
			s.mu.Unlock()
			continue
		}
		s.cfg.Mode = mode
		s.mu.Unlock()
		return nil
	}
	return apperr.New(apperr.CodeConfigManaged, "network mode write raced a concurrent reload")
}

func (s *State) validateModeLocked(mode Mode) error {
	// A managed config that pins the proxy to "limited" may not be
	// widened to "full" — mirrors the boolean/scalar pin rule in §4.B.2.
	if s.constraints.AllowedDomainsPinned != nil && mode == ModeFull {
		return fmt.Errorf("%w: network mode is constrained by a managed allow-list", apperr.New(apperr.CodeConfigManaged, "cannot widen to full network access"))
	}
	return nil
}
