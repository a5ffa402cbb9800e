// Package eval implements spec.md §4.D: execution of parsed rules at
// interception points, the scoped local/global variable model, and the
// deferred-callback lists keyed by command buffer.
package eval

import (
	"fmt"
	"strconv"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/rules/ast"
)

// Kind is the tag of the polymorphic data_value spec.md §4.C describes.
type Kind int

const (
	KindString Kind = iota
	KindRaw
	KindHandle
	KindNumber
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindRaw:
		return "raw"
	case KindHandle:
		return "handle"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the tagged union every data expression produces and every
// condition/action consumes (spec.md §9: "the polymorphic data_value
// becomes a tagged union of string | bytes | handle | number | list").
type Value struct {
	Kind   Kind
	Str    string
	Raw    []byte
	Handle abi.Handle
	Number float64
	List   []Value
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func RawValue(b []byte) Value     { return Value{Kind: KindRaw, Raw: b} }
func HandleValue(h abi.Handle) Value { return Value{Kind: KindHandle, Handle: h} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func ListValue(v []Value) Value   { return Value{Kind: KindList, List: v} }

// DType reports which ast.DataType this value presents as.
func (v Value) DType() ast.DataType {
	switch v.Kind {
	case KindString:
		return ast.DataString
	case KindRaw:
		return ast.DataRaw
	case KindHandle:
		return ast.DataHandle
	case KindNumber:
		return ast.DataNumber
	case KindList:
		return ast.DataList
	default:
		return ""
	}
}

// Bytes returns the value's byte representation for raw/string values,
// used by concat/write/pack-adjacent paths that are agnostic to which
// of the two produced the bytes (spec.md §4.C: "string supports string
// and raw").
func (v Value) Bytes() ([]byte, error) {
	switch v.Kind {
	case KindRaw:
		return v.Raw, nil
	case KindString:
		return []byte(v.Str), nil
	default:
		return nil, typeErr(ast.DataRaw, v)
	}
}

// AsString renders a value's textual form, used by log()/concat() over
// string-typed operands and by error messages.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindRaw:
		return string(v.Raw)
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindHandle:
		return fmt.Sprintf("0x%x", uint64(v.Handle))
	case KindList:
		return fmt.Sprintf("<list of %d>", len(v.List))
	default:
		return ""
	}
}

// RuleError is the typed error spec.md §4.D/§7 describes: every
// condition/data/action failure is one of these, caught centrally by
// ExecuteRules and logged without aborting the Vulkan call.
type RuleError struct {
	Pos ast.Position
	Msg string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func ruleErrf(pos ast.Position, format string, args ...interface{}) error {
	return &RuleError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// typeErr is the "type mismatch" error spec.md §7 names: "names the
// variant actually present and the one requested".
func typeErr(want ast.DataType, got Value) error {
	return fmt.Errorf("type mismatch: expected %s, got %s", want, got.Kind)
}

func checkType(pos ast.Position, want ast.DataType, v Value) error {
	if v.DType() != want {
		return ruleErrf(pos, "type mismatch: expected %s, got %s", want, v.Kind)
	}
	return nil
}
