package clientgen

import (
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func fieldName(graphQLName string) protoreflect.Name {
	return protoreflect.Name(snakeCase(graphQLName))
}

// enumValueName prefixes values with the enum name since proto3 enum values
// share the package scope: TradeSide.BUY becomes TRADE_SIDE_BUY.
func enumValueName(enum, value string) protoreflect.Name {
	return protoreflect.Name(strings.ToUpper(snakeCase(enum)) + "_" + strings.ToUpper(value))
}

// methodName is the capitalized root field, prefixed with its root type when
// another root already uses the name.
func methodName(root, field string, taken map[protoreflect.Name]bool) protoreflect.Name {
	name := protoreflect.Name(capitalize(field))
	if taken[name] {
		name = protoreflect.Name(root + capitalize(field))
	}
	return name
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// snakeCase converts a string from CamelCase or PascalCase to snake_case.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func comment(desc string) protobuilder.Comments {
	if desc == "" {
		return protobuilder.Comments{}
	}
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}

// isMeta reports names reserved for introspection.
func isMeta(name string) bool { return strings.HasPrefix(name, "__") }
