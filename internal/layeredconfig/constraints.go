package layeredconfig

import (
	"fmt"

	"github.com/ngoclaw/codexcore/internal/globmatch"
)

// ConstraintKind tags the narrowing rule a managed pin enforces.
type ConstraintKind int

const (
	ScalarPin ConstraintKind = iota
	AllowListPin
	DenyListPin
	BooleanPin
)

// Constraint is one managed-layer pin on a dotted key path. Constraints
// are derived from whatever managed layers (MDM, managed system file,
// legacy managed config) set that key; the user layer may only narrow
// them, never widen them (§4.B.2).
type Constraint struct {
	KeyPath string
	Kind    ConstraintKind
	Scalar  any      // ScalarPin / BooleanPin
	Allow   []string // AllowListPin: the managed allow patterns
	Deny    []string // DenyListPin: the managed deny entries that must remain present
}

// DeriveConstraints builds the constraint set from the merged managed
// layers (everything in managedSources), for the named pinned keys.
// pinSpec maps a key path to the ConstraintKind it should be validated
// as, since the same raw value (e.g. a string list) can represent either
// an allow-list or a deny-list depending on the key's semantics.
func DeriveConstraints(managedEffective Table, pinSpec map[string]ConstraintKind) []Constraint {
	var out []Constraint
	for keyPath, kind := range pinSpec {
		v, ok := lookupPath(managedEffective, keyPath)
		if !ok {
			continue
		}
		c := Constraint{KeyPath: keyPath, Kind: kind}
		switch kind {
		case ScalarPin, BooleanPin:
			c.Scalar = v
		case AllowListPin:
			c.Allow = toStringSlice(v)
		case DenyListPin:
			c.Deny = toStringSlice(v)
		}
		out = append(out, c)
	}
	return out
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ValidateConstraints checks candidateUserTable against constraints,
// returning the first violation as an error, or nil if the candidate
// only narrows every pin.
func ValidateConstraints(candidateUserTable Table, constraints []Constraint) error {
	for _, c := range constraints {
		v, present := lookupPath(candidateUserTable, c.KeyPath)
		if !present {
			continue // user doesn't set this key; nothing to narrow
		}
		switch c.Kind {
		case ScalarPin:
			if v != c.Scalar {
				return fmt.Errorf("%w: %q is pinned to %v by a managed layer", ErrLayerReadonly, c.KeyPath, c.Scalar)
			}
		case BooleanPin:
			if v != c.Scalar {
				return fmt.Errorf("%w: %q is pinned to %v and cannot be widened", ErrLayerReadonly, c.KeyPath, c.Scalar)
			}
		case AllowListPin:
			user := toStringSlice(v)
			for _, up := range user {
				if err := globmatch.Validate(up); err != nil {
					return fmt.Errorf("%w: %v", ErrValidationFailed, err)
				}
				if !globmatch.CoversAny(c.Allow, up) {
					return fmt.Errorf("%w: %q entry %q widens the managed allow-list %v", ErrLayerReadonly, c.KeyPath, up, c.Allow)
				}
			}
		case DenyListPin:
			user := toStringSlice(v)
			userSet := map[string]bool{}
			for _, u := range user {
				userSet[u] = true
			}
			for _, managedDeny := range c.Deny {
				if !userSet[managedDeny] {
					return fmt.Errorf("%w: %q must still deny %q", ErrLayerReadonly, c.KeyPath, managedDeny)
				}
			}
		}
	}
	return nil
}

// lookupPath resolves a dotted key path ("a.b.c") against a Table,
// descending through nested Tables. Numeric segments are not supported
// for Table lookups (arrays are leaf values, not addressable by index,
// consistent with how constraints pin whole list-valued keys).
func lookupPath(t Table, path string) (any, bool) {
	segs := splitPath(path)
	var cur any = t
	for _, seg := range segs {
		tbl, ok := cur.(Table)
		if !ok {
			return nil, false
		}
		v, ok := tbl[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
