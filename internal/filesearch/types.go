// Package filesearch implements an incremental fuzzy file-search session:
// one walker goroutine enumerates files under one or more root directories,
// one matcher goroutine owns the query state and reports debounced
// snapshots of the current top-N matches to a caller-supplied reporter.
//
// Grounded on file-search/src/lib.rs's three-actor design (walker / matcher
// / reporter), generalized from crossbeam channels and a nucleo index to
// Go channels and an in-module fuzzy scorer (no Nucleo-equivalent library
// ships in any example repo; see DESIGN.md). The walker's periodic
// cancellation check follows the same check-a-flag-on-a-cadence idiom as
// the teacher's ConfigWatcher polling loop.
package filesearch

// FileMatch is a single scored result.
type FileMatch struct {
	Score int
	Path  string // relative to Root
	Root  string
	// Indices is nil unless Options.ComputeIndices is set; when present it
	// holds the sorted, deduplicated rune offsets into Path that matched.
	Indices []int
}

// Snapshot is the debounced state the matcher reports on each update.
type Snapshot struct {
	Query            string
	Matches          []FileMatch
	TotalMatchCount  int
	ScannedFileCount int
	WalkComplete     bool
}

// Options configures a session.
type Options struct {
	Limit            int
	Exclude          []string
	Threads          int
	ComputeIndices   bool
	RespectGitignore bool
}

// DefaultOptions mirrors the original CLI's defaults.
func DefaultOptions() Options {
	return Options{Limit: 20, Threads: 2, RespectGitignore: true}
}

// Reporter receives debounced snapshots and a completion signal.
type Reporter interface {
	// OnUpdate is called when the debounced top-N changes.
	OnUpdate(snapshot Snapshot)
	// OnComplete is called at least once per UpdateQuery, when the session
	// becomes idle or is cancelled.
	OnComplete()
}
