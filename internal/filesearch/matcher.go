package filesearch

import (
	"sort"
	"sync/atomic"
	"time"
)

// signalKind tags a workSignal the matcher consumes.
type signalKind int

const (
	signalQueryUpdated signalKind = iota
	signalRescoreRequested
	signalWalkComplete
	signalShutdown
)

type workSignal struct {
	kind  signalKind
	query string
}

// rescoreDebounce is the ~10ms debounce applied to plain rescore requests;
// query changes and walk completion always rescore immediately.
const rescoreDebounce = 10 * time.Millisecond

// idleCheckInterval is how often the matcher loop re-checks the
// cancellation flags even with no signal pending, mirroring the original's
// default(Duration::from_millis(100)) select arm.
const idleCheckInterval = 100 * time.Millisecond

// runMatcher owns all pattern state for one session. It drains workCh,
// debouncing rescores per the ~10ms rule (immediate on query change or walk
// completion), and reports snapshots through reporter until it observes
// signalShutdown or either flag is set.
func runMatcher(workCh <-chan workSignal, idx *fileIndex, roots []string, opts Options, reporter Reporter, cancelled, shutdown *atomic.Bool) {
	var (
		query        string
		walkComplete bool
		pending      bool
		timer        *time.Timer
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}
	scheduleImmediate := func() {
		stopTimer()
		timer = time.NewTimer(0)
		pending = true
	}
	scheduleDebounced := func() {
		if pending {
			return
		}
		stopTimer()
		timer = time.NewTimer(rescoreDebounce)
		pending = true
	}

	defer reporter.OnComplete()

	idleTicker := time.NewTicker(idleCheckInterval)
	defer idleTicker.Stop()

	for {
		select {
		case sig, ok := <-workCh:
			if !ok {
				return
			}
			switch sig.kind {
			case signalQueryUpdated:
				query = sig.query
				scheduleImmediate()
			case signalRescoreRequested:
				scheduleDebounced()
			case signalWalkComplete:
				walkComplete = true
				scheduleImmediate()
			case signalShutdown:
				return
			}
		case <-timerC():
			pending = false
			reportSnapshot(idx, roots, opts, query, walkComplete, reporter)
			if walkComplete {
				reporter.OnComplete()
			}
		case <-idleTicker.C:
		}

		if cancelled.Load() || shutdown.Load() {
			return
		}
	}
}

type scoredEntry struct {
	entry   scannedEntry
	score   int
	indices []int
}

func reportSnapshot(idx *fileIndex, roots []string, opts Options, query string, walkComplete bool, reporter Reporter) {
	entries := idx.snapshot()

	matched := make([]scoredEntry, 0, len(entries))
	for _, e := range entries {
		sc, ok, indices := fuzzyScore(query, e.relPath, opts.ComputeIndices)
		if !ok {
			continue
		}
		matched = append(matched, scoredEntry{entry: e, score: sc, indices: indices})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].entry.relPath < matched[j].entry.relPath
	})

	limit := opts.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	matches := make([]FileMatch, 0, limit)
	for _, m := range matched[:limit] {
		matches = append(matches, FileMatch{
			Score:   m.score,
			Path:    m.entry.relPath,
			Root:    roots[m.entry.rootIdx],
			Indices: m.indices,
		})
	}

	reporter.OnUpdate(Snapshot{
		Query:            query,
		Matches:          matches,
		TotalMatchCount:  len(matched),
		ScannedFileCount: len(entries),
		WalkComplete:     walkComplete,
	})
}
