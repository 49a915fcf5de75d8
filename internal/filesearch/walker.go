package filesearch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	gitignore "github.com/sabhiram/go-gitignore"
)

// scannedEntry is one file the walker has found, queued for the matcher to
// score against the current pattern.
type scannedEntry struct {
	rootIdx  int
	relPath  string
	fullPath string
}

// fileIndex is the shared, append-only, mutex-guarded set of entries the
// walker has discovered so far. The matcher takes a cheap snapshot copy
// before each scoring pass rather than tracking incremental deltas, trading
// some redundant rescoring for a much simpler single-writer/many-reader
// design.
type fileIndex struct {
	mu      sync.Mutex
	entries []scannedEntry
}

func (idx *fileIndex) push(e scannedEntry) {
	idx.mu.Lock()
	idx.entries = append(idx.entries, e)
	idx.mu.Unlock()
}

func (idx *fileIndex) snapshot() []scannedEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]scannedEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// walkCheckInterval mirrors the original's CHECK_INTERVAL: the walker only
// consults the cancellation flags every this-many files, since atomic loads
// on every entry would needlessly contend with the matcher.
const walkCheckInterval = 1024

// runWalker enumerates files under roots, pushing each into idx, and checks
// cancelled/shutdown every walkCheckInterval entries -- the same
// check-a-flag-on-a-cadence idiom the teacher's ConfigWatcher polling loop
// uses for its ticker, adapted from a time-based cadence to a
// file-count-based one since directory traversal has no natural clock.
func runWalker(roots []string, opts Options, idx *fileIndex, cancelled, shutdown *atomic.Bool) {
	matchers := make([]*gitignore.GitIgnore, len(roots))
	for i, root := range roots {
		matchers[i] = buildIgnoreMatcher(root, opts)
	}

	n := 0
	for rootIdx, root := range roots {
		cancelledDuringWalk := false
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == root {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if matchers[rootIdx] != nil && matchers[rootIdx].MatchesPath(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			idx.push(scannedEntry{rootIdx: rootIdx, relPath: rel, fullPath: path})

			n++
			if n >= walkCheckInterval {
				n = 0
				if cancelled.Load() || shutdown.Load() {
					cancelledDuringWalk = true
					return filepath.SkipAll
				}
			}
			return nil
		})
		if cancelledDuringWalk {
			break
		}
	}
}

// buildIgnoreMatcher combines the session's explicit excludes with the
// directory's own .gitignore (unless RespectGitignore is false), plus an
// always-on ".git/" exclusion.
func buildIgnoreMatcher(root string, opts Options) *gitignore.GitIgnore {
	var lines []string
	lines = append(lines, opts.Exclude...)
	lines = append(lines, ".git/")
	if opts.RespectGitignore {
		if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
			lines = append(lines, strings.Split(string(data), "\n")...)
		}
	}
	return gitignore.CompileIgnoreLines(lines...)
}
