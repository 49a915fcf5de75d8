// Package layeredconfig implements the layered configuration engine:
// a stack of five sources merged right-biased into an effective config
// with per-key provenance, plus an atomic, origin-aware, comment
// preserving write path for the user layer.
//
// Grounded on the teacher's internal/infrastructure/config/config.go,
// which already layers a global file, a project-local file, and
// environment overrides via viper; this package generalizes that
// pattern to the spec's five named sources and adds provenance
// tracking and managed-constraint enforcement that viper does not do.
package layeredconfig

import (
	"os"
	"time"
)

// Source names one of the five ordered configuration layers,
// high-to-low priority.
type Source string

const (
	SourceManagedMDM        Source = "managed_mdm"
	SourceManagedSystemFile Source = "managed_system_file"
	SourceSessionFlags      Source = "session_flags"
	SourceUserFile          Source = "user_file"
	SourceLegacyManaged     Source = "legacy_managed_config"
)

// precedence lists sources from lowest to highest priority, the order the
// right-biased merge applies them in (later entries win).
var precedence = []Source{
	SourceLegacyManaged,
	SourceUserFile,
	SourceSessionFlags,
	SourceManagedSystemFile,
	SourceManagedMDM,
}

// managedSources are the layers whose values pin constraints that the
// user layer may only narrow, never widen (§4.B.2).
var managedSources = map[Source]bool{
	SourceManagedMDM:        true,
	SourceManagedSystemFile: true,
	SourceLegacyManaged:     true,
}

// Table is a parsed configuration document: string keys to values that
// are either scalars, []any, or nested Table.
type Table map[string]any

// Layer is one source's parsed state.
type Layer struct {
	Source  Source
	Path    string // empty for in-memory layers (e.g. session flags)
	Table   Table
	Version string    // file mtime in UnixNano, or "in-memory"; not a hash of Table's content
	ModTime time.Time // zero for layers with no backing file
}

// statMTime stats path and returns its mtime, or the zero time if the
// file does not exist.
func statMTime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
