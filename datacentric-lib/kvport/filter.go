package kvport

import (
	"sort"
	"strings"

	"github.com/4degrees/datacentric-lib/schema"
)

// Matches reports whether env satisfies filter. Shared by both reference
// backends so the predicate semantics live in exactly one place.
func Matches(env *schema.Envelope, f Filter) bool {
	if f.ID != nil && env.ID != *f.ID {
		return false
	}
	if f.Key != nil && env.Key != *f.Key {
		return false
	}
	if len(f.DataSetIn) > 0 {
		found := false
		for _, ds := range f.DataSetIn {
			if ds == env.DataSet {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IDLessTB != nil && env.ID.Compare(*f.IDLessTB) >= 0 {
		return false
	}
	if f.ImportsLessTB != nil && env.DataSet != f.SelfDataSet && env.ID.Compare(*f.ImportsLessTB) >= 0 {
		return false
	}
	return true
}

// SortEnvelopes sorts envs in place per spec, defaulting to
// (dataSet DESC, id DESC) when spec is empty (the query surface's
// terminal-ordering default).
func SortEnvelopes(envs []*schema.Envelope, spec []SortField) {
	if len(spec) == 0 {
		spec = []SortField{{Field: FieldDataSet, Dir: -1}, {Field: FieldID, Dir: -1}}
	}
	sort.SliceStable(envs, func(i, j int) bool {
		for _, s := range spec {
			var cmp int
			switch s.Field {
			case FieldKey:
				cmp = strings.Compare(envs[i].Key, envs[j].Key)
			case FieldDataSet:
				cmp = envs[i].DataSet.Compare(envs[j].DataSet)
			case FieldID:
				cmp = envs[i].ID.Compare(envs[j].ID)
			}
			if cmp == 0 {
				continue
			}
			if s.Dir < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
