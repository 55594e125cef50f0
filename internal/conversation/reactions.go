package conversation

import (
	"sort"

	"github.com/conduitmsg/conduit/internal/emoji"
)

// DiffReactions compares two reaction snapshots keyed by canonical emoji name
// and returns the emoji whose count grew and the emoji whose count shrank,
// each sorted.
func DiffReactions(old, new map[string]int) (added, removed []string) {
	for e, n := range new {
		if n > old[e] {
			added = append(added, e)
		}
	}
	for e, n := range old {
		if new[e] < n {
			removed = append(removed, e)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// canonicalizeReactions rewrites an upstream snapshot onto canonical names,
// merging counts when two upstream spellings map to one name. Zero and
// negative counts are dropped.
func canonicalizeReactions(raw map[string]int) map[string]int {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for value, count := range raw {
		if count <= 0 {
			continue
		}
		out[emoji.Canonical(value)] += count
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
