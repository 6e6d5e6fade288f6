package validation

import (
	"sort"

	language "github.com/hanpama/brokergraph/internal/language"
)

// fieldEntry is a selection node and the response path it belongs to.
type fieldEntry struct {
	line, column int
	path         []any
}

// pathIndex maps document positions to response paths. Fields reached from an
// operation get their full path; fields of fragments that no operation
// reaches get a path relative to the fragment.
type pathIndex struct {
	starts  []fieldEntry // definition starts, path unused
	entries []fieldEntry
}

func newPathIndex(doc *language.QueryDocument) *pathIndex {
	idx := &pathIndex{}
	seen := make(map[[2]int]bool)
	add := func(pos *language.Position, path []any) {
		if pos == nil {
			return
		}
		key := [2]int{pos.Line, pos.Column}
		if seen[key] {
			return
		}
		seen[key] = true
		idx.entries = append(idx.entries, fieldEntry{line: pos.Line, column: pos.Column, path: path})
	}

	// Arguments, directives and spreads are indexed too so that a problem
	// reported on one of them maps to its own field, not a preceding sibling.
	addDirectives := func(dirs language.DirectiveList, path []any) {
		for _, d := range dirs {
			add(d.Position, path)
			for _, a := range d.Arguments {
				add(a.Position, path)
			}
		}
	}

	var walk func(set language.SelectionSet, path []any, spreading map[string]bool)
	walk = func(set language.SelectionSet, path []any, spreading map[string]bool) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *language.Field:
				p := append(append([]any(nil), path...), responseName(sel))
				add(sel.Position, p)
				for _, a := range sel.Arguments {
					add(a.Position, p)
				}
				addDirectives(sel.Directives, p)
				walk(sel.SelectionSet, p, spreading)
			case *language.InlineFragment:
				add(sel.Position, path)
				addDirectives(sel.Directives, path)
				walk(sel.SelectionSet, path, spreading)
			case *language.FragmentSpread:
				add(sel.Position, path)
				addDirectives(sel.Directives, path)
				frag := doc.Fragments.ForName(sel.Name)
				if frag == nil || spreading[sel.Name] {
					continue
				}
				spreading[sel.Name] = true
				walk(frag.SelectionSet, path, spreading)
				delete(spreading, sel.Name)
			}
		}
	}
	for _, op := range doc.Operations {
		idx.start(op.Position)
		walk(op.SelectionSet, nil, map[string]bool{})
	}
	for _, frag := range doc.Fragments {
		idx.start(frag.Position)
		walk(frag.SelectionSet, nil, map[string]bool{frag.Name: true})
	}

	sort.Slice(idx.starts, func(i, j int) bool { return less(idx.starts[i], idx.starts[j]) })
	sort.Slice(idx.entries, func(i, j int) bool { return less(idx.entries[i], idx.entries[j]) })
	return idx
}

func (idx *pathIndex) start(pos *language.Position) {
	if pos != nil {
		idx.starts = append(idx.starts, fieldEntry{line: pos.Line, column: pos.Column})
	}
}

// lookup returns the path of the closest indexed node at or before loc within
// the same definition, or nil when loc precedes every selection of it.
func (idx *pathIndex) lookup(loc Location) []any {
	at := fieldEntry{line: loc.Line, column: loc.Column}
	var from *fieldEntry
	for i := range idx.starts {
		if less(at, idx.starts[i]) {
			break
		}
		from = &idx.starts[i]
	}
	var path []any
	for _, e := range idx.entries {
		if less(at, e) {
			break
		}
		if from != nil && less(e, *from) {
			continue
		}
		path = e.path
	}
	return path
}

func less(a, b fieldEntry) bool {
	if a.line != b.line {
		return a.line < b.line
	}
	return a.column < b.column
}
