package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

type Path []PathElement

type PathElement any

type NodeID uint64

// executionState holds the state during query execution
type executionState struct {
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	operation      *language.OperationDefinition
	variableValues map[string]any
	context        context.Context
	asyncTaskGroup []*asyncTask
	errors         []GraphQLError
	// simple incremental id generator
	nextID uint64
	// response tree; nil once a Non-Null violation reached the root
	data     *Object
	dataNull bool
	// prefixes of paths that have been nullified (tombstoned)
	nullifiedPrefix map[string]struct{}
	// response positions whose declared type is Non-Null
	nonNullPaths map[string]struct{}
	// async tasks of the current depth keyed by parent path, field and arguments
	asyncIndex map[string]*asyncTask
}

// asyncTask represents a pending async field resolution. A task may feed
// several response positions when the same field with the same arguments is
// selected more than once under one parent.
type asyncTask struct {
	ID        NodeID
	Task      AsyncResolveTask
	FieldType *schema.TypeRef
	Targets   []asyncTarget
}

type asyncTarget struct {
	ResponsePath Path
	Fields       []*language.Field
}

type asyncPending struct{}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation := getOperation(document, operationName)
	if operation == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: "operation not found"}}}
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		rootType = e.schema.GetSubscriptionType()
	default:
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)}}}
	}

	if rootType == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("root type not found for %s operation", operation.Operation)}}}
	}

	state := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		document:        document,
		operation:       operation,
		variableValues:  coercedVariableValues,
		context:         ctx,
		errors:          []GraphQLError{},
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
		nonNullPaths:    make(map[string]struct{}),
		asyncIndex:      make(map[string]*asyncTask),
	}

	// Root selection set: sync immediate expansion, async queued
	state.data = executeSelectionSet(state, rootType, operation.SelectionSet, initialValue, Path{})
	if state.data == nil {
		state.dataNull = true
	}

	// Depth-wise batch loop
	for len(state.asyncTaskGroup) > 0 {
		if err := ctx.Err(); err != nil {
			abandonAsyncTasks(state, err)
			break
		}
		filtered, results := flushAsyncTasks(state)
		for i, at := range filtered {
			completeAsyncField(state, at, results[i])
		}
	}

	if state.dataNull {
		return &ExecutionResult{Data: nil, Errors: state.errors}
	}
	return &ExecutionResult{Data: state.data, Errors: state.errors}
}

type Node struct {
	ObjectType   *schema.Type
	SelectionSet language.SelectionSet
	SourceValue  any
	ResponsePath Path
}

// executeSelectionSet executes a selection set without flushing. It returns nil
// when a Non-Null field of the object completed to null.
func executeSelectionSet(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, objectValue any, path Path) *Object {
	groupedFields := collectFields(state, objectType, selectionSet)
	result := NewObject(len(groupedFields.fields))

	for _, collectedField := range groupedFields.orderedFields() {
		responseName := collectedField.ResponseName
		fields := collectedField.Fields
		fieldPath := appendPath(path, responseName)

		// Handle __typename special case
		if fields[0].Name == "__typename" {
			result.Set(responseName, objectType.Name)
			continue
		}

		fieldDef := getFieldDefinition(objectType, fields[0].Name)
		if fieldDef != nil && schema.IsNonNull(fieldDef.Type) {
			state.markNonNull(fieldPath)
		}

		fieldResult := executeFieldGroup(state, objectType, objectValue, fields, fieldPath)
		if fieldDef == nil {
			// Unknown field – error was already recorded in executeFieldGroup; do not include it
			continue
		}
		if _, pending := fieldResult.(asyncPending); pending {
			// reserve the position; the batch loop fills it in
			result.Set(responseName, nil)
			continue
		}

		// Handle non-null child behavior with nullish detection
		if schema.IsNonNull(fieldDef.Type) && isNullish(fieldResult) {
			state.markNullifiedPrefix(path)
			return nil
		}

		// For nullable fields, coerce typed-nil to interface-nil
		if isNullish(fieldResult) {
			result.Set(responseName, nil)
		} else {
			result.Set(responseName, fieldResult)
		}
	}

	return result
}

func executeFieldGroup(state *executionState, objectType *schema.Type, objectValue any, fields []*language.Field, path Path) any {
	field := fields[0]
	fieldName := field.Name

	fieldDef := getFieldDefinition(objectType, fieldName)
	if fieldDef == nil {
		state.errors = append(state.errors, GraphQLError{
			Message:   fmt.Sprintf("Cannot query field '%s' on type '%s'", fieldName, objectType.Name),
			Locations: fieldLocations(fields),
			Path:      path,
		})
		return nil
	}

	argumentValues := coerceArgumentValues(fieldDef, field.Arguments, state.variableValues, state, path)

	if !fieldDef.Async {
		resolvedValue := resolveSyncField(state, objectType.Name, fieldName, objectValue, argumentValues, fields, path)
		return completeValue(state, fieldDef.Type, fields, resolvedValue, path)
	}

	target := asyncTarget{ResponsePath: path, Fields: fields}
	key, dedupe := state.asyncKey(objectType.Name, fieldName, argumentValues, path)
	if dedupe {
		if existing, ok := state.asyncIndex[key]; ok {
			existing.Targets = append(existing.Targets, target)
			return asyncPending{}
		}
	}
	at := &asyncTask{
		ID: NodeID(state.nextID),
		Task: AsyncResolveTask{
			ObjectType: objectType.Name,
			Field:      fieldName,
			Source:     objectValue,
			Args:       argumentValues,
			Path:       append(Path(nil), path...),
		},
		FieldType: fieldDef.Type,
		Targets:   []asyncTarget{target},
	}
	state.nextID++
	state.asyncTaskGroup = append(state.asyncTaskGroup, at)
	if dedupe {
		state.asyncIndex[key] = at
	}
	return asyncPending{}
}

// asyncKey identifies an async field instance by parent position, field and
// arguments. Root mutation fields are never merged since each one is a write.
func (s *executionState) asyncKey(objectType, fieldName string, args map[string]any, path Path) (string, bool) {
	parent := path[:len(path)-1]
	if len(parent) == 0 && s.operation.Operation == language.Mutation {
		return "", false
	}
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return pathToString(parent) + "\x00" + objectType + "." + fieldName + "\x00" + string(canonical), true
}

// flushAsyncTasks flushes tasks and returns results (filtered by tombstones)
func flushAsyncTasks(state *executionState) ([]*asyncTask, []AsyncResolveResult) {
	filtered := liveTasks(state)

	tasks := make([]AsyncResolveTask, len(filtered))
	for i, at := range filtered {
		tasks[i] = at.Task
	}

	// Clear group before executing
	state.asyncTaskGroup = nil
	clear(state.asyncIndex)

	if len(tasks) == 0 {
		return nil, nil
	}

	results := state.runtime.BatchResolveAsync(state.context, tasks)
	if len(results) != len(tasks) {
		fixed := make([]AsyncResolveResult, len(tasks))
		copy(fixed, results)
		for i := len(results); i < len(tasks); i++ {
			fixed[i] = AsyncResolveResult{Error: fmt.Errorf("runtime returned no result for %s.%s", tasks[i].ObjectType, tasks[i].Field)}
		}
		results = fixed
	}
	return filtered, results
}

// liveTasks drops targets under nullified prefixes and tasks left without any.
func liveTasks(state *executionState) []*asyncTask {
	filtered := make([]*asyncTask, 0, len(state.asyncTaskGroup))
	for _, at := range state.asyncTaskGroup {
		targets := at.Targets[:0]
		for _, t := range at.Targets {
			if !state.hasNullifiedPrefix(t.ResponsePath) {
				targets = append(targets, t)
			}
		}
		at.Targets = targets
		if len(targets) > 0 {
			filtered = append(filtered, at)
		}
	}
	return filtered
}

// abandonAsyncTasks settles every queued task with err once the request is
// cancelled, so no position is left unresolved.
func abandonAsyncTasks(state *executionState, err error) {
	filtered := liveTasks(state)
	state.asyncTaskGroup = nil
	clear(state.asyncIndex)
	for _, at := range filtered {
		completeAsyncField(state, at, AsyncResolveResult{Error: err})
	}
}

// completeAsyncField completes a single async result for each of its targets,
// with non-null propagation and pruning
func completeAsyncField(state *executionState, at *asyncTask, res AsyncResolveResult) {
	for _, target := range at.Targets {
		path := target.ResponsePath
		// If this path is already nullified by an ancestor, ignore
		if state.hasNullifiedPrefix(path) {
			continue
		}

		if res.Error != nil {
			state.errors = append(state.errors, locatedError(res.Error, target.Fields, path))
			state.propagateNull(path)
			continue
		}

		completed := completeValue(state, at.FieldType, target.Fields, res.Value, path)
		if isNullish(completed) {
			state.propagateNull(path)
			continue
		}
		setValueAtPath(state.data, path, completed)
	}
}

// completeValue completes a value
func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(fieldType) {
		if isNullish(result) {
			if !state.hasErrorAtPath(path) {
				state.errors = append(state.errors, GraphQLError{
					Message:   fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)),
					Locations: fieldLocations(fields),
					Path:      path,
				})
			}
			return nil
		}
		inner := schema.Unwrap(fieldType)
		completed := completeValue(state, inner, fields, result, path)
		if isNullish(completed) {
			// Error already recorded at original path; propagate only
			return nil
		}
		return completed
	}

	if isNullish(result) {
		return nil
	}

	if schema.IsList(fieldType) {
		return completeListValue(state, fieldType, fields, result, path)
	}
	namedType := schema.GetNamedType(fieldType)
	typeObj := state.schema.Types[namedType]
	if typeObj == nil {
		state.addError(fmt.Sprintf("Unknown type: %s", namedType), path)
		return nil
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := state.runtime.SerializeLeafValue(state.context, namedType, result)
		if err != nil {
			state.errors = append(state.errors, locatedError(err, fields, path))
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		return completeObjectValue(state, typeObj, fields, result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return completeAbstractValue(state, typeObj, fields, result, path)
	default:
		state.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", typeObj.Kind), path)
		return nil
	}
}

// completeListValue completes a list value
func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			state.addError(fmt.Sprintf("Expected list value, got %T", result), path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := schema.Unwrap(listType)
	innerNonNull := schema.IsNonNull(inner)
	completed := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		if innerNonNull {
			state.markNonNull(p)
		}
		v := completeValue(state, inner, fields, item, p)
		if innerNonNull && isNullish(v) {
			// Propagate null to the list field; error already recorded by inner completion
			state.markNullifiedPrefix(path)
			return nil
		}
		if isNullish(v) {
			v = nil
		}
		completed[i] = v
	}
	return completed
}

func completeObjectValue(state *executionState, objectType *schema.Type, fields []*language.Field, result any, path Path) any {
	sub := mergeSelectionSets(fields)
	obj := executeSelectionSet(state, objectType, sub, result, path)
	if obj == nil {
		return nil
	}
	return obj
}

func completeAbstractValue(state *executionState, abstractType *schema.Type, fields []*language.Field, result any, path Path) any {
	ctx := state.context
	var err error
	switch abstractType.Kind {
	case schema.TypeKindUnion:
		result, err = state.runtime.ResolveUnionConcreteValue(ctx, abstractType.Name, result)
	case schema.TypeKindInterface:
		result, err = state.runtime.ResolveInterfaceConcreteValue(ctx, abstractType.Name, result)
	}
	if err != nil {
		state.errors = append(state.errors, locatedError(err, fields, path))
		return nil
	}
	typeName, err := state.runtime.ResolveType(ctx, abstractType.Name, result)
	if err != nil {
		state.errors = append(state.errors, locatedError(err, fields, path))
		return nil
	}
	objectType := state.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject {
		state.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstractType.Name, typeName), path)
		return nil
	}
	if !isPossibleType(abstractType, objectType) {
		state.addError(fmt.Sprintf("Runtime Object type %q is not a possible type for %q.", typeName, abstractType.Name), path)
		return nil
	}
	return completeObjectValue(state, objectType, fields, result, path)
}

func pathToString(path Path) string {
	var b strings.Builder
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// Prefix tombstone helpers
func (s *executionState) markNullifiedPrefix(p Path) {
	if len(p) == 0 {
		s.dataNull = true
		return
	}
	s.nullifiedPrefix[pathToString(p)] = struct{}{}
}

func (s *executionState) hasNullifiedPrefix(p Path) bool {
	if s.dataNull {
		return true
	}
	if len(s.nullifiedPrefix) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.nullifiedPrefix[pathToString(p[:i])]; ok {
			return true
		}
	}
	return false
}

func (s *executionState) markNonNull(p Path) {
	s.nonNullPaths[pathToString(p)] = struct{}{}
}

// propagateNull writes null at p, or at its nearest nullable ancestor when p
// is a Non-Null position. Reaching the root nulls the whole response.
func (s *executionState) propagateNull(p Path) {
	cur := p
	for len(cur) > 0 {
		if _, nonNull := s.nonNullPaths[pathToString(cur)]; !nonNull {
			break
		}
		cur = cur[:len(cur)-1]
	}
	if len(cur) == 0 {
		s.dataNull = true
		return
	}
	setValueAtPath(s.data, cur, nil)
	if len(cur) < len(p) {
		s.markNullifiedPrefix(cur)
	}
}

// getOperation retrieves the operation from the document
func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" && len(document.Operations) == 1 {
		return document.Operations[0]
	}
	if operationName == "" {
		return nil
	}
	return document.Operations.ForName(operationName)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return schema.NamedType(t.NamedType)
	}
	if t.Elem != nil {
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return nil
}

// Helper function to add an error to the execution state
func (state *executionState) addError(message string, path Path) {
	state.errors = append(state.errors, GraphQLError{Message: message, Path: path})
}

// hasErrorAtPath reports whether an error with the given path already exists.
func (state *executionState) hasErrorAtPath(path Path) bool {
	for _, err := range state.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

// resolveSyncField resolves a field synchronously
func resolveSyncField(state *executionState, objectType string, fieldName string, source any, args map[string]any, fields []*language.Field, path Path) any {
	value, err := state.runtime.ResolveSync(state.context, objectType, fieldName, source, args)
	if err != nil {
		state.errors = append(state.errors, locatedError(err, fields, path))
		return nil
	}
	return value
}

// CodedError is implemented by errors that choose their extensions.code.
type CodedError interface {
	error
	ErrorCode() string
}

// CodeResolverError is reported for resolver failures that carry no code.
const CodeResolverError = "RESOLVER_ERROR"

// locatedError turns a resolver failure into a GraphQL error at path.
func locatedError(err error, fields []*language.Field, path Path) GraphQLError {
	var gqlErr GraphQLError
	if errors.As(err, &gqlErr) {
		gqlErr.Path = path
		if gqlErr.Locations == nil {
			gqlErr.Locations = fieldLocations(fields)
		}
		return gqlErr
	}
	code := CodeResolverError
	var coded CodedError
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}
	return GraphQLError{
		Message:    err.Error(),
		Locations:  fieldLocations(fields),
		Path:       path,
		Extensions: map[string]any{"code": code},
	}
}

func fieldLocations(fields []*language.Field) []Location {
	if len(fields) == 0 || fields[0].Position == nil {
		return nil
	}
	return []Location{{Line: fields[0].Position.Line, Column: fields[0].Position.Column}}
}

// Helper function to set value at a specific path in response tree
func setValueAtPath(root *Object, path Path, value any) {
	if root == nil || len(path) == 0 {
		return
	}
	var current any = root
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			obj, ok := current.(*Object)
			if !ok || obj == nil {
				return
			}
			next, exists := obj.Get(e)
			if !exists || next == nil {
				return
			}
			current = next
		case int:
			slice, ok := current.([]any)
			if !ok || e >= len(slice) || slice[e] == nil {
				return
			}
			current = slice[e]
		}
	}
	switch fe := path[len(path)-1].(type) {
	case string:
		if obj, ok := current.(*Object); ok && obj != nil {
			obj.Set(fe, value)
		}
	case int:
		if slice, ok := current.([]any); ok && fe < len(slice) {
			slice[fe] = value
		}
	}
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

func isPossibleType(abstractType, objectType *schema.Type) bool {
	if len(abstractType.PossibleTypes) == 0 {
		return true
	}
	for _, name := range abstractType.PossibleTypes {
		if name == objectType.Name {
			return true
		}
	}
	return false
}
