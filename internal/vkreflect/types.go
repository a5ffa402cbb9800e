// Package vkreflect implements spec.md §4.B: a structural metadata table
// over a closed set of Vulkan struct types, a path parser, and typed
// get/set/assign operating on that path.
//
// Unlike the original C++ layer, which walks raw struct pointers with
// unsafe.Offsetof-style byte arithmetic, this package walks Go's own
// reflect.Value over the structs goki.dev/vulkan already generates
// memory-layout-compatible with the C ABI. That gives the same
// capability (typed path-addressed get/set/assign on a Vk*CreateInfo)
// without hand-rolled pointer arithmetic: reflect.Value.FieldByName is
// exactly the "static table + runtime accessor" spec.md §9 asks for,
// just implemented with the safe primitive Go already ships instead of a
// second, bespoke unsafe layer next to the one in internal/abi.
package vkreflect

import "reflect"

// PrimitiveKind is the set of leaf value shapes get/set can move through
// the reflection boundary.
type PrimitiveKind int

const (
	KindInvalid PrimitiveKind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindEnum
	KindString
)

// Primitive is the only shape get() is allowed to return: "non-primitive
// leaves cannot be returned directly — only descended" (spec.md §4.B).
type Primitive struct {
	Kind     PrimitiveKind
	Int      int64
	Uint     uint64
	Float    float64
	Bool     bool
	S        string
	TypeName string // e.g. "VkCompareOp", "uint32_t", "float", "VkBool32"
}

// FieldDef describes one member of a registered struct.
type FieldDef struct {
	CName       string // Vulkan/C member name, e.g. "pScissors"
	GoName      string // exported Go field name, e.g. "PScissors"
	ElemType    string // static type name of the leaf or element
	IsPointer   bool   // true for "p*"/"pp*" members addressed with "->"
	IsArray     bool   // true when the member is a Vulkan array (possibly behind a pointer)
	LengthField string // for IsArray fields, the CName of the sibling count member
}

// StructDef is the registered layout of one struct type.
type StructDef struct {
	Name   string
	Type   reflect.Type
	Fields map[string]FieldDef
}

func newStructDef(name string, zero interface{}, fields ...FieldDef) *StructDef {
	def := &StructDef{
		Name:   name,
		Type:   reflect.TypeOf(zero),
		Fields: make(map[string]FieldDef, len(fields)),
	}
	for _, f := range fields {
		def.Fields[f.CName] = f
	}
	return def
}

func field(cName, goName, elemType string) FieldDef {
	return FieldDef{CName: cName, GoName: goName, ElemType: elemType}
}

func pointerField(cName, goName, elemType string) FieldDef {
	return FieldDef{CName: cName, GoName: goName, ElemType: elemType, IsPointer: true}
}

func arrayField(cName, goName, elemType, lengthField string) FieldDef {
	return FieldDef{CName: cName, GoName: goName, ElemType: elemType, IsArray: true, LengthField: lengthField}
}
