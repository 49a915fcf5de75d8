package layeredconfig

import (
	"strconv"
	"strings"
)

// splitPath parses "a.b.c" into ["a","b","c"]. Every segment, numeric
// ones ("a.0.b") included, is resolved as a table key; arrays are not
// indexed into.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func isIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MergeStrategy selects how an edit combines with the existing value at
// its key path.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeUpsert  MergeStrategy = "upsert"
)

// Edit is one write operation within write_value / batch_write.
type Edit struct {
	KeyPath  string
	Value    any // nil clears the path
	Strategy MergeStrategy
}

// applyEdit mutates table in place per the write contract (§4.B step 4):
// replace overwrites the whole subtree; upsert deep-merges tables
// element-wise (non-table values still overwrite); a nil value clears
// the path.
func applyEdit(table Table, e Edit) error {
	segs := splitPath(e.KeyPath)
	if len(segs) == 0 {
		return ErrPathNotFound
	}
	if e.Value == nil {
		clearPath(table, segs)
		return nil
	}
	setPath(table, segs, e.Value, e.Strategy)
	return nil
}

func clearPath(table Table, segs []string) {
	if len(segs) == 1 {
		delete(table, segs[0])
		return
	}
	next, ok := table[segs[0]].(Table)
	if !ok {
		return
	}
	clearPath(next, segs[1:])
}

func setPath(table Table, segs []string, value any, strategy MergeStrategy) {
	key := segs[0]
	if len(segs) == 1 {
		if strategy == MergeUpsert {
			if existing, ok := table[key].(Table); ok {
				if incoming, ok := value.(Table); ok {
					deepMergeUpsert(existing, incoming)
					return
				}
			}
		}
		table[key] = value
		return
	}
	next, ok := table[key].(Table)
	if !ok {
		next = Table{}
		table[key] = next
	}
	setPath(next, segs[1:], value, strategy)
}

// deepMergeUpsert merges incoming into existing in place: table values
// merge recursively, everything else overwrites.
func deepMergeUpsert(existing, incoming Table) {
	for k, v := range incoming {
		if incomingTable, ok := v.(Table); ok {
			if existingTable, ok := existing[k].(Table); ok {
				deepMergeUpsert(existingTable, incomingTable)
				continue
			}
		}
		existing[k] = v
	}
}

// cloneTable deep-copies a Table so candidate validation never mutates
// the live layer on failure.
func cloneTable(t Table) Table {
	out := make(Table, len(t))
	for k, v := range t {
		if sub, ok := v.(Table); ok {
			out[k] = cloneTable(sub)
			continue
		}
		out[k] = v
	}
	return out
}
