package clientgen

import (
	"hash/fnv"
	"sort"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Tag numbers derive from field names so regenerating after a schema change
// keeps the wire numbers of untouched fields.

func allocateFieldNumbers(fields []*protobuilder.FieldBuilder) {
	names := make([]string, len(fields))
	for i, fb := range fields {
		names[i] = string(fb.Name())
	}
	for i, n := range tagNumbers(names) {
		fields[i].SetNumber(protoreflect.FieldNumber(n))
	}
}

func allocateEnumValueNumbers(values []*protobuilder.EnumValueBuilder) {
	names := make([]string, len(values))
	for i, evb := range values {
		names[i] = string(evb.Name())
	}
	for i, n := range tagNumbers(names) {
		values[i].SetNumber(protoreflect.EnumNumber(n))
	}
}

const (
	maxTag           = 31767
	reservedTagStart = 19000
	reservedTagEnd   = 19999
)

// tagNumbers hashes each name with FNV-32a into 1..maxTag, skipping the range
// protobuf reserves and probing linearly on collision. Names are processed in
// sorted order so collisions resolve the same way every time.
func tagNumbers(names []string) []int {
	if len(names) == 0 {
		return nil
	}
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return names[order[i]] < names[order[j]] })

	out := make([]int, len(names))
	used := make(map[int]struct{}, len(names))
	for _, idx := range order {
		start := int(fnv32(names[idx])%maxTag) + 1
		cand := start
		for {
			if cand >= reservedTagStart && cand <= reservedTagEnd {
				cand = reservedTagEnd + 1
			}
			if _, ok := used[cand]; !ok {
				used[cand] = struct{}{}
				out[idx] = cand
				break
			}
			cand++
			if cand > maxTag {
				cand = 1
			}
			if cand == start {
				panic("clientgen: exhausted tag space")
			}
		}
	}
	return out
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
