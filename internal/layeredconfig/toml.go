package layeredconfig

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseTOML decodes raw TOML bytes into a Table, converting the
// generic map[string]interface{} / []interface{} shapes go-toml/v2
// produces into this package's Table type.
func ParseTOML(data []byte) (Table, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return normalizeTable(raw), nil
}

// ParseLegacyJSON decodes the legacy-managed-config layer, which ships
// as an openclaw.json-style JSON document rather than TOML (the teacher's
// loadOpenClawConfig compatibility shim reads the same format).
func ParseLegacyJSON(data []byte) (Table, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return normalizeTable(raw), nil
}

func normalizeTable(raw map[string]any) Table {
	out := Table{}
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return normalizeTable(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// WriteTOML serializes a Table with no regard for prior formatting. The
// engine's writes do not use it: they go through
// ApplyEditsPreservingComments even when the user file does not exist yet.
func WriteTOML(t Table) ([]byte, error) {
	return toml.Marshal(map[string]any(t))
}

// ApplyEditsPreservingComments rewrites original (the current on-disk
// user config, possibly empty) to reflect edits, preserving every
// existing comment and key ordering it does not touch. This stands in
// for a toml_edit-style AST editor, which the available go-toml/v2
// package does not provide: instead of re-serializing the whole
// document, it patches matching "key = value" lines in place and only
// falls back to appending a brand-new "[a.b.c]" table (set_implicit
// false — always written as an explicit header) when the path does not
// already exist in the text.
func ApplyEditsPreservingComments(original []byte, edits []Edit) ([]byte, error) {
	lines := splitLines(original)
	sections := indexSections(lines)

	for _, e := range edits {
		segs := splitPath(e.KeyPath)
		if len(segs) == 0 {
			return nil, ErrPathNotFound
		}
		sectionPath := segs[:len(segs)-1]
		key := segs[len(segs)-1]
		sectionKey := strings.Join(sectionPath, ".")

		start, end, found := sections[sectionKey]
		if !found {
			lines = appendSection(lines, sectionPath)
			sections = indexSections(lines)
			start, end = sections[sectionKey]
		}

		lineIdx := findKeyLine(lines, start, end, key)
		if e.Value == nil {
			if lineIdx >= 0 {
				lines = append(lines[:lineIdx], lines[lineIdx+1:]...)
			}
			continue
		}

		rendered := fmt.Sprintf("%s = %s", key, encodeScalarTOML(e.Value))
		if lineIdx >= 0 {
			lines[lineIdx] = rendered
		} else {
			insertAt := end
			lines = insertLine(lines, insertAt, rendered)
			sections = indexSections(lines)
		}
	}

	return []byte(strings.Join(lines, "\n") + "\n"), nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []string
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

// indexSections maps a dotted section path ("" for the root table) to
// the [start,end) line range of its body, not including the header line.
func indexSections(lines []string) map[string][2]int {
	out := map[string][2]int{}
	cur := ""
	start := 0
	out[cur] = [2]int{0, len(lines)}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") && !strings.HasPrefix(trimmed, "[[") {
			out[cur] = [2]int{start, i}
			cur = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
			start = i + 1
		}
	}
	out[cur] = [2]int{start, len(lines)}
	return out
}

func findKeyLine(lines []string, start, end int, key string) int {
	for i := start; i < end && i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "#") || trimmed == "" {
			continue
		}
		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			continue
		}
		if strings.TrimSpace(trimmed[:eq]) == key {
			return i
		}
	}
	return -1
}

func appendSection(lines []string, sectionPath []string) []string {
	if len(sectionPath) == 0 {
		return lines
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	header := fmt.Sprintf("[%s]", strings.Join(sectionPath, "."))
	return append(lines, header)
}

func insertLine(lines []string, at int, line string) []string {
	if at > len(lines) {
		at = len(lines)
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, line)
	out = append(out, lines[at:]...)
	return out
}

func encodeScalarTOML(v any) string {
	switch vv := v.(type) {
	case string:
		return strconv.Quote(vv)
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case []string:
		parts := make([]string, len(vv))
		copy(parts, vv)
		sort.Strings(parts) // deterministic output for byte-equality tests
		for i, p := range parts {
			parts[i] = strconv.Quote(p)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", vv)
	}
}
