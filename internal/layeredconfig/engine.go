package layeredconfig

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LayerSource describes how to (re)load one named layer.
type LayerSource struct {
	Source Source
	Path   string // file path; empty means this layer is supplied in-memory (session flags)
}

// Engine is the read/write entry point for the layered config stack. It
// is safe for concurrent use: Read and writes take the write lock (Read
// may reload layers from disk); ManagedEffective takes the read lock,
// consistent with the config-engine concurrency
// model in §5 ("an RwLock-style guard wraps the state").
type Engine struct {
	mu       sync.RWMutex
	sources  []LayerSource
	loaded   map[Source]Layer
	pinSpec  map[string]ConstraintKind
	logger   *zap.Logger
	validate func(effective Table) error // round-trips effective config through the typed schema
}

// NewEngine creates an engine over the given sources. pinSpec declares
// which dotted key paths managed layers are allowed to pin and how
// (§4.B.2); validate, if non-nil, is called on the recomputed effective
// config on every read/write to catch schema errors early.
func NewEngine(sources []LayerSource, pinSpec map[string]ConstraintKind, validate func(Table) error, logger *zap.Logger) *Engine {
	return &Engine{
		sources:  sources,
		loaded:   map[Source]Layer{},
		pinSpec:  pinSpec,
		logger:   logger,
		validate: validate,
	}
}

// SetSessionFlags installs the in-memory session-flags layer (no backing
// file, so it never participates in mtime-triggered reload).
func (e *Engine) SetSessionFlags(t Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded[SourceSessionFlags] = Layer{Source: SourceSessionFlags, Table: t, Version: "in-memory"}
}

// ReadResult is the return value of Read.
type ReadResult struct {
	Config  Table
	Origins map[string]LayerMetadata
	Layers  []Layer // populated when requested
}

// Read reloads any layer whose backing file's mtime has moved forward,
// then returns the merged effective config with provenance.
func (e *Engine) Read(includeLayers bool) (*ReadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.reloadIfNeededLocked(); err != nil {
		return nil, err
	}

	bySource := make(map[Source]Layer, len(e.loaded))
	for k, v := range e.loaded {
		bySource[k] = v
	}
	ordered := orderedLayers(bySource)
	effective, origins := mergeLayers(ordered)

	if e.validate != nil {
		if err := e.validate(effective); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
	}

	res := &ReadResult{Config: effective, Origins: origins}
	if includeLayers {
		res.Layers = ordered
	}
	return res, nil
}

// reloadIfNeededLocked stats every file-backed source and reloads any
// layer whose mtime advanced. Failed reloads log and retain the
// previous state (§4.B hot-reload contract). Caller must hold e.mu.
func (e *Engine) reloadIfNeededLocked() error {
	for _, src := range e.sources {
		if src.Path == "" {
			continue
		}
		mtime := statMTime(src.Path)
		existing, ok := e.loaded[src.Source]
		if ok && !mtime.After(existing.ModTime) {
			continue
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			if e.logger != nil {
				e.logger.Warn("layer reload failed, keeping previous state",
					zap.String("source", string(src.Source)), zap.Error(err))
			}
			continue
		}
		parse := ParseTOML
		if strings.HasSuffix(src.Path, ".json") {
			parse = ParseLegacyJSON
		}
		table, err := parse(data)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("layer parse failed, keeping previous state",
					zap.String("source", string(src.Source)), zap.Error(err))
			}
			continue
		}
		e.loaded[src.Source] = Layer{
			Source:  src.Source,
			Path:    src.Path,
			Table:   table,
			Version: fmt.Sprintf("%d", mtime.UnixNano()),
			ModTime: mtime,
		}
	}
	return nil
}

// WriteStatus reports whether a written key remains shadowed by a
// higher-priority layer after the write.
type WriteStatus string

const (
	StatusOK           WriteStatus = "Ok"
	StatusOkOverridden WriteStatus = "OkOverridden"
)

// WriteRequest is one write_value / batch_write call.
type WriteRequest struct {
	FilePath        string // defaults to the user config path when empty
	Edits           []Edit
	ExpectedVersion string // optional optimistic-concurrency check
}

// WriteResult is returned by Write.
type WriteResult struct {
	Status             WriteStatus
	OverriddenMessage  string
	NewVersion         string
}

// userConfigPath returns the expected on-disk path of the user layer, or
// "" if that layer was never configured with a path.
func (e *Engine) userConfigPath() string {
	for _, s := range e.sources {
		if s.Source == SourceUserFile {
			return s.Path
		}
	}
	return ""
}

// Write performs one write_value call per the contract in §4.B: only the
// user layer's default path may be targeted; an expected_version
// mismatch fails fast; edits are validated (as a standalone table and as
// part of the recomputed effective config) and checked against managed
// constraints before anything is persisted.
func (e *Engine) Write(req WriteRequest) (*WriteResult, error) {
	return e.BatchWrite(req)
}

// BatchWrite performs a multi-edit write_value/batchWrite call.
func (e *Engine) BatchWrite(req WriteRequest) (*WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.reloadIfNeededLocked(); err != nil {
		return nil, err
	}

	userPath := e.userConfigPath()
	if req.FilePath != "" && req.FilePath != userPath {
		return nil, ErrLayerReadonly
	}

	existing, ok := e.loaded[SourceUserFile]
	if !ok {
		existing = Layer{Source: SourceUserFile, Path: userPath, Table: Table{}}
	}

	if req.ExpectedVersion != "" && req.ExpectedVersion != existing.Version {
		return nil, ErrVersionConflict
	}

	candidate := cloneTable(existing.Table)
	for _, e2 := range req.Edits {
		if err := applyEdit(candidate, e2); err != nil {
			return nil, err
		}
	}

	// Validate the candidate user table stand-alone.
	if e.validate != nil {
		if err := e.validate(candidate); err != nil {
			return nil, fmt.Errorf("%w (user table): %v", ErrValidationFailed, err)
		}
	}

	// Validate the recomputed effective config.
	bySource := make(map[Source]Layer, len(e.loaded))
	for k, v := range e.loaded {
		bySource[k] = v
	}
	bySource[SourceUserFile] = Layer{Source: SourceUserFile, Path: userPath, Table: candidate}
	ordered := orderedLayers(bySource)
	effective, _ := mergeLayers(ordered)
	if e.validate != nil {
		if err := e.validate(effective); err != nil {
			return nil, fmt.Errorf("%w (effective config): %v", ErrValidationFailed, err)
		}
	}

	// Validate against managed constraints.
	managedEffective := e.managedEffectiveLocked()
	constraints := DeriveConstraints(managedEffective, e.pinSpec)
	if err := ValidateConstraints(candidate, constraints); err != nil {
		return nil, err
	}

	// Persist via the comment-preserving editor.
	var original []byte
	if data, err := os.ReadFile(userPath); err == nil {
		original = data
	}
	newText, err := ApplyEditsPreservingComments(original, req.Edits)
	if err != nil {
		return nil, err
	}
	if userPath != "" {
		if err := os.WriteFile(userPath, newText, 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLayerReadonly, err)
		}
	}

	newMTime := statMTime(userPath)
	newVersion := fmt.Sprintf("%d", newMTime.UnixNano())
	e.loaded[SourceUserFile] = Layer{Source: SourceUserFile, Path: userPath, Table: candidate, Version: newVersion, ModTime: newMTime}

	// overridden_metadata: does a higher layer still shadow an edited key?
	status, msg := e.overriddenStatusLocked(req.Edits)
	return &WriteResult{Status: status, OverriddenMessage: msg, NewVersion: newVersion}, nil
}

// ManagedEffective returns the merged view of only the managed layers
// (MDM, managed system file, legacy managed config), the view a caller
// needs to derive netproxy.Constraints / DeriveConstraints pins from.
func (e *Engine) ManagedEffective() Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.managedEffectiveLocked()
}

func (e *Engine) managedEffectiveLocked() Table {
	bySource := make(map[Source]Layer)
	for src, l := range e.loaded {
		if managedSources[src] {
			bySource[src] = l
		}
	}
	effective, _ := mergeLayers(orderedLayers(bySource))
	return effective
}

func (e *Engine) overriddenStatusLocked(edits []Edit) (WriteStatus, string) {
	bySource := make(map[Source]Layer, len(e.loaded))
	for k, v := range e.loaded {
		bySource[k] = v
	}
	ordered := orderedLayers(bySource)
	_, origins := mergeLayers(ordered)

	for _, ed := range edits {
		origin, ok := origins[ed.KeyPath]
		if ok && origin.Source != SourceUserFile {
			return StatusOkOverridden, fmt.Sprintf("%q is overridden by layer %s", ed.KeyPath, origin.Source)
		}
	}
	return StatusOK, ""
}
