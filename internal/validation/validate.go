package validation

import (
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/validator"
	_ "github.com/vektah/gqlparser/v2/validator/rules"

	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// Query is a request that passed validation and may be executed as is.
type Query struct {
	Text          string
	OperationName string
	Document      *language.QueryDocument
	Operation     *language.OperationDefinition
}

type Options struct {
	// MaxDepth rejects selections nested deeper than this. 0 means unlimited.
	MaxDepth int
}

type Option func(*Options)

func WithMaxDepth(n int) Option { return func(o *Options) { o.MaxDepth = n } }

// Validate parses text and checks the document against s with the standard
// GraphQL rules, then applies the gateway's own limits. All violations are
// collected, ordered by location, and tied to a response path when they sit
// inside a selection. Nothing is executed.
func Validate(s *schema.Schema, text, operationName string, opts ...Option) (*Query, error) {
	var opt Options
	for _, f := range opts {
		f(&opt)
	}

	doc, err := language.ParseQuery(text)
	if err != nil {
		return nil, fromErrors(language.AsErrorList(err), nil)
	}

	ast := s.AST
	if ast == nil {
		if ast, err = language.LoadSchema(&language.Source{Name: "schema.graphql", Input: schema.Render(s)}); err != nil {
			return nil, err
		}
	}

	w := &walker{schema: s, doc: doc, opt: opt, seen: make(map[string]struct{}), paths: newPathIndex(doc)}
	for _, e := range validator.Validate(ast, doc) {
		w.report(fromError(e, w.paths))
	}

	op, v := selectOperation(doc, operationName)
	if v != nil {
		w.report(v)
	}
	for _, o := range doc.Operations {
		w.checkOperation(o)
	}

	if len(w.violations) > 0 {
		sort.SliceStable(w.violations, func(i, j int) bool {
			return w.violations[i].before(w.violations[j])
		})
		return nil, w.violations
	}
	return &Query{Text: text, OperationName: operationName, Document: doc, Operation: op}, nil
}

func selectOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, *Violation) {
	if len(doc.Operations) == 0 {
		return nil, &Violation{Message: "Document does not contain any operation."}
	}
	if name == "" {
		if len(doc.Operations) > 1 {
			return nil, &Violation{Message: "Must provide operation name if query contains multiple operations."}
		}
		return doc.Operations[0], nil
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, &Violation{Message: fmt.Sprintf("Unknown operation named %q.", name)}
}

// walker covers what the standard rules leave to the server: a missing root
// type, meta fields the schema does not expose, and the depth limit.
type walker struct {
	schema     *schema.Schema
	doc        *language.QueryDocument
	opt        Options
	paths      *pathIndex
	spreading  map[string]bool
	violations ValidationError
	seen       map[string]struct{}
}

// report drops exact duplicates, which arise when one fragment is spread twice
// into the same selection.
func (w *walker) report(v *Violation) {
	key := v.Message + "@" + v.PathString()
	if _, ok := w.seen[key]; ok {
		return
	}
	w.seen[key] = struct{}{}
	w.violations = append(w.violations, v)
}

func (w *walker) checkOperation(op *language.OperationDefinition) {
	w.spreading = make(map[string]bool)

	var root *schema.Type
	switch op.Operation {
	case language.Query, "":
		root = w.schema.GetQueryType()
	case language.Mutation:
		root = w.schema.GetMutationType()
	case language.Subscription:
		root = w.schema.GetSubscriptionType()
	}
	if root == nil {
		w.report(violationUnsupportedOperation(op.Operation, op.Position))
		return
	}
	w.checkSelectionSet(root, op.SelectionSet, nil, 1)
}

func (w *walker) checkSelectionSet(parent *schema.Type, set language.SelectionSet, path []any, depth int) {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			w.checkField(parent, sel, path, depth)
		case *language.InlineFragment:
			target := parent
			if sel.TypeCondition != "" {
				target = w.schema.Types[sel.TypeCondition]
			}
			if target != nil {
				w.checkSelectionSet(target, sel.SelectionSet, path, depth)
			}
		case *language.FragmentSpread:
			frag := w.doc.Fragments.ForName(sel.Name)
			if frag == nil || w.spreading[sel.Name] {
				continue
			}
			if target := w.schema.Types[frag.TypeCondition]; target != nil {
				w.spreading[sel.Name] = true
				w.checkSelectionSet(target, frag.SelectionSet, path, depth)
				delete(w.spreading, sel.Name)
			}
		}
	}
}

func (w *walker) checkField(parent *schema.Type, sel *language.Field, path []any, depth int) {
	fieldPath := append(append([]any(nil), path...), responseName(sel))

	if w.opt.MaxDepth > 0 && depth > w.opt.MaxDepth {
		w.report(violationTooDeep(depth, w.opt.MaxDepth, fieldPath, sel.Position))
		return
	}
	if sel.Name == "__typename" {
		return
	}
	def := parent.Field(sel.Name)
	if def == nil {
		// Meta fields are known to the standard rules even when the
		// schema does not answer them.
		if isMeta(sel.Name) {
			w.report(violationUnknownField(sel.Name, parent.Name, fieldPath, sel.Position))
		}
		return
	}
	if named := w.schema.Types[def.Type.GetNamedType()]; named != nil && named.IsComposite() {
		w.checkSelectionSet(named, sel.SelectionSet, fieldPath, depth+1)
	}
}

func responseName(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func isMeta(name string) bool { return len(name) > 2 && name[:2] == "__" }
