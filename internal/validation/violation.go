package validation

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/brokergraph/internal/language"
)

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Violation is one problem found in a request. Path is the response path of the
// offending field when the problem is tied to a selection.
type Violation struct {
	Message   string     `json:"message"`
	Path      []any      `json:"path,omitempty"`
	Locations []Location `json:"locations,omitempty"`
}

// PathString renders the path as "me.trades[0].asset".
func (v *Violation) PathString() string {
	var b strings.Builder
	for i, elem := range v.Path {
		switch e := elem.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", e)
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			fmt.Fprint(&b, e)
		}
	}
	return b.String()
}

// ValidationError carries every violation of a rejected request.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "validation failed:\n"
	for _, v := range e {
		line := "- " + v.Message
		if p := v.PathString(); p != "" {
			line += " at " + p
		}
		msg += line + "\n"
	}
	return msg
}

// before orders violations by their first location; ones without a location
// concern the whole document and come first.
func (v *Violation) before(o *Violation) bool {
	if len(o.Locations) == 0 {
		return false
	}
	if len(v.Locations) == 0 {
		return true
	}
	a, b := v.Locations[0], o.Locations[0]
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Column < b.Column
}

// fromError converts a parser or rule error. Rules report locations only, so
// the path is recovered from the document when paths is given.
func fromError(e *language.Error, paths *pathIndex) *Violation {
	v := &Violation{Message: e.Message}
	for _, loc := range e.Locations {
		v.Locations = append(v.Locations, Location{Line: loc.Line, Column: loc.Column})
	}
	switch {
	case len(e.Path) > 0:
		for _, elem := range e.Path {
			switch p := elem.(type) {
			case ast.PathName:
				v.Path = append(v.Path, string(p))
			case ast.PathIndex:
				v.Path = append(v.Path, int(p))
			}
		}
	case paths != nil && len(v.Locations) > 0:
		v.Path = paths.lookup(v.Locations[0])
	}
	return v
}

func fromErrors(list language.ErrorList, paths *pathIndex) ValidationError {
	out := make(ValidationError, 0, len(list))
	for _, e := range list {
		out = append(out, fromError(e, paths))
	}
	return out
}

func violationAt(message string, path []any, pos *language.Position) *Violation {
	v := &Violation{Message: message}
	if len(path) > 0 {
		v.Path = append([]any(nil), path...)
	}
	if pos != nil && pos.Line > 0 {
		v.Locations = []Location{{Line: pos.Line, Column: pos.Column}}
	}
	return v
}

func violationUnknownField(field, typeName string, path []any, pos *language.Position) *Violation {
	return violationAt(fmt.Sprintf("Cannot query field %q on type %q.", field, typeName), path, pos)
}

func violationUnsupportedOperation(op language.Operation, pos *language.Position) *Violation {
	return violationAt(fmt.Sprintf("Schema is not configured for %ss.", op), nil, pos)
}

func violationTooDeep(depth, limit int, path []any, pos *language.Position) *Violation {
	return violationAt(fmt.Sprintf("Query depth %d exceeds the maximum of %d.", depth, limit), path, pos)
}
