package vkreflect

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// cursor tracks descent through a live struct value.
type cursor struct {
	val       reflect.Value // current struct value (not yet a leaf)
	def       *StructDef
	leafField FieldDef // the FieldDef that produced val, for accessor checks
	haveLeaf  bool

	pendingSlice reflect.Value
	pendingField FieldDef
	pendingOwner reflect.Value
	pendingOwnerDef *StructDef
	havePending  bool

	// requireArrow says whether the field token that follows must use
	// "->" (c.val was reached by dereferencing a pointer member) rather
	// than "." (c.val is a plain nested struct value).
	requireArrow bool
}

func newCursor(rootType string, root interface{}) (*cursor, error) {
	def, ok := Lookup(rootType)
	if !ok {
		return nil, fmt.Errorf("vkreflect: unregistered struct type %q", rootType)
	}
	rv := reflect.ValueOf(root)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("vkreflect: root %q pointer is nil", rootType)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("vkreflect: root %q is not a struct", rootType)
	}
	return &cursor{val: rv, def: def}, nil
}

func (c *cursor) step(tok Token) error {
	if tok.Accessor == AccessorIndex {
		return c.stepIndex(tok.Index)
	}
	return c.stepField(tok)
}

func (c *cursor) stepField(tok Token) error {
	if c.havePending {
		return fmt.Errorf("vkreflect: member %q is an array, expected '[' next", c.pendingField.CName)
	}
	if c.def == nil {
		return fmt.Errorf("vkreflect: cannot descend into primitive member %q", c.leafField.CName)
	}
	if tok.Accessor != AccessorBare {
		if c.requireArrow && tok.Accessor != AccessorArrow {
			return fmt.Errorf("vkreflect: %q is reached through a pointer member, use -> instead of .", tok.Field)
		}
		if !c.requireArrow && tok.Accessor == AccessorArrow {
			return fmt.Errorf("vkreflect: %q is not reached through a pointer member, use . instead of ->", tok.Field)
		}
	}

	fd, ok := c.def.Fields[tok.Field]
	if !ok {
		return fmt.Errorf("vkreflect: %s has no member %q", c.def.Name, tok.Field)
	}

	fv := c.val.FieldByName(fd.GoName)
	if !fv.IsValid() {
		return fmt.Errorf("vkreflect: %s has no Go field %q backing member %q", c.def.Name, fd.GoName, tok.Field)
	}

	if fd.IsArray {
		c.havePending = true
		c.pendingSlice = fv
		c.pendingField = fd
		c.pendingOwner = c.val
		c.pendingOwnerDef = c.def
		return nil
	}
	if fd.IsPointer {
		if fv.IsNil() {
			return fmt.Errorf("vkreflect: member %q is a nil pointer", tok.Field)
		}
		c.val = fv.Elem()
		c.requireArrow = true
	} else {
		c.val = fv
		c.requireArrow = false
	}
	c.leafField = fd
	c.haveLeaf = true
	c.def, _ = Lookup(fd.ElemType)
	return nil
}

func (c *cursor) stepIndex(idx int) error {
	if !c.havePending {
		return fmt.Errorf("vkreflect: '[' not preceded by an array member")
	}
	lengthFd, ok := c.pendingOwnerDef.Fields[c.pendingField.LengthField]
	if !ok {
		return fmt.Errorf("vkreflect: array member %q has no registered length field", c.pendingField.CName)
	}
	lengthVal := c.pendingOwner.FieldByName(lengthFd.GoName)
	length := int(lengthVal.Uint())
	if idx < 0 || idx >= length {
		return fmt.Errorf("vkreflect: array index %d for member %q exceeds its length of %d which can be found in member %q",
			idx, c.pendingField.CName, length, c.pendingField.LengthField)
	}
	if idx >= c.pendingSlice.Len() {
		return fmt.Errorf("vkreflect: array index %d for member %q exceeds the backing slice length of %d",
			idx, c.pendingField.CName, c.pendingSlice.Len())
	}
	c.val = c.pendingSlice.Index(idx)
	c.leafField = c.pendingField
	c.haveLeaf = true
	c.def, _ = Lookup(c.pendingField.ElemType)
	c.havePending = false
	c.requireArrow = false
	return nil
}

func (c *cursor) finish() (reflect.Value, FieldDef, error) {
	if c.havePending {
		return reflect.Value{}, FieldDef{}, fmt.Errorf("vkreflect: member %q is an array, expected '[' next", c.pendingField.CName)
	}
	if !c.haveLeaf {
		return reflect.Value{}, FieldDef{}, fmt.Errorf("vkreflect: empty path")
	}
	return c.val, c.leafField, nil
}

func walk(rootType string, root interface{}, path string) (reflect.Value, FieldDef, error) {
	tokens, err := ParsePath(path)
	if err != nil {
		return reflect.Value{}, FieldDef{}, err
	}
	cur, err := newCursor(rootType, root)
	if err != nil {
		return reflect.Value{}, FieldDef{}, err
	}
	for _, tok := range tokens {
		if err := cur.step(tok); err != nil {
			return reflect.Value{}, FieldDef{}, err
		}
	}
	return cur.finish()
}

// Get resolves path against root (a pointer to a registered rootType
// struct) and returns the primitive leaf value.
func Get(rootType string, root interface{}, path string) (Primitive, error) {
	fv, fd, err := walk(rootType, root, path)
	if err != nil {
		return Primitive{}, err
	}
	return readPrimitive(fv, fd.ElemType)
}

// GetString is Get followed by canonical textual rendering, e.g. an
// enum value renders as its VK_* identifier rather than a number.
func GetString(rootType string, root interface{}, path string) (string, error) {
	p, err := Get(rootType, root, path)
	if err != nil {
		return "", err
	}
	return FormatPrimitive(p), nil
}

// GetType returns the static leaf type name for path without requiring
// live data (spec.md §4.B get_type: "tells a rule author the static type
// of a path so assign literals can be checked before a match ever
// fires").
func GetType(rootType string, path string) (string, error) {
	tokens, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	def, ok := Lookup(rootType)
	if !ok {
		return "", fmt.Errorf("vkreflect: unregistered struct type %q", rootType)
	}
	var leaf FieldDef
	havePending := false
	var pendingField FieldDef
	for _, tok := range tokens {
		if tok.Accessor == AccessorIndex {
			if !havePending {
				return "", fmt.Errorf("vkreflect: '[' not preceded by an array member")
			}
			leaf = pendingField
			havePending = false
			def, _ = Lookup(pendingField.ElemType)
			continue
		}
		if havePending {
			return "", fmt.Errorf("vkreflect: member %q is an array, expected '[' next", pendingField.CName)
		}
		if def == nil {
			return "", fmt.Errorf("vkreflect: cannot descend into primitive member %q", leaf.CName)
		}
		fd, ok := def.Fields[tok.Field]
		if !ok {
			return "", fmt.Errorf("vkreflect: %s has no member %q", def.Name, tok.Field)
		}
		if fd.IsArray {
			havePending = true
			pendingField = fd
			continue
		}
		leaf = fd
		def, _ = Lookup(fd.ElemType)
	}
	if havePending {
		return "", fmt.Errorf("vkreflect: member %q is an array, expected '[' next", pendingField.CName)
	}
	return leaf.ElemType, nil
}

// Set resolves path against root and overwrites the leaf with p.
func Set(rootType string, root interface{}, path string, p Primitive) error {
	fv, fd, err := walk(rootType, root, path)
	if err != nil {
		return err
	}
	return writePrimitive(fv, fd.ElemType, p)
}

// Assign resolves path's static type, parses rhsText as a literal of
// that type (integer, float, VK_TRUE/VK_FALSE, a single enum
// identifier, or a "|"-joined flag bit chain with integer fallback for
// unrecognised tokens) and writes the result (spec.md §4.C assign
// action).
func Assign(rootType string, root interface{}, path, rhsText string) error {
	fv, fd, err := walk(rootType, root, path)
	if err != nil {
		return err
	}
	p, err := ParseLiteral(fd.ElemType, rhsText)
	if err != nil {
		return fmt.Errorf("vkreflect: assign %q: %w", path, err)
	}
	return writePrimitive(fv, fd.ElemType, p)
}

func readPrimitive(fv reflect.Value, elemType string) (Primitive, error) {
	switch fv.Kind() {
	case reflect.Bool:
		return Primitive{Kind: KindBool, Bool: fv.Bool(), TypeName: elemType}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if _, isEnum := enumRegistry[elemType]; isEnum {
			return Primitive{Kind: KindEnum, Int: fv.Int(), TypeName: elemType}, nil
		}
		return Primitive{Kind: KindInt, Int: fv.Int(), TypeName: elemType}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if elemType == "VkBool32" {
			return Primitive{Kind: KindBool, Bool: fv.Uint() != 0, TypeName: elemType}, nil
		}
		if _, isEnum := enumRegistry[elemType]; isEnum {
			return Primitive{Kind: KindEnum, Int: int64(fv.Uint()), TypeName: elemType}, nil
		}
		return Primitive{Kind: KindUint, Uint: fv.Uint(), TypeName: elemType}, nil
	case reflect.Float32, reflect.Float64:
		return Primitive{Kind: KindFloat, Float: fv.Float(), TypeName: elemType}, nil
	case reflect.String:
		return Primitive{Kind: KindString, S: fv.String(), TypeName: elemType}, nil
	default:
		return Primitive{}, fmt.Errorf("vkreflect: member of kind %s is not a primitive leaf", fv.Kind())
	}
}

func writePrimitive(fv reflect.Value, elemType string, p Primitive) error {
	if !fv.CanSet() {
		return fmt.Errorf("vkreflect: member is not addressable/settable")
	}
	switch fv.Kind() {
	case reflect.Bool:
		fv.SetBool(p.Bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(valueAsInt(p))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if elemType == "VkBool32" {
			if p.Bool {
				fv.SetUint(1)
			} else {
				fv.SetUint(0)
			}
			return nil
		}
		fv.SetUint(valueAsUint(p))
	case reflect.Float32, reflect.Float64:
		fv.SetFloat(valueAsFloat(p))
	case reflect.String:
		fv.SetString(p.S)
	default:
		return fmt.Errorf("vkreflect: member of kind %s is not a settable primitive leaf", fv.Kind())
	}
	return nil
}

func valueAsInt(p Primitive) int64 {
	switch p.Kind {
	case KindUint:
		return int64(p.Uint)
	case KindFloat:
		return int64(p.Float)
	case KindBool:
		if p.Bool {
			return 1
		}
		return 0
	default:
		return p.Int
	}
}

func valueAsUint(p Primitive) uint64 {
	switch p.Kind {
	case KindInt, KindEnum:
		return uint64(p.Int)
	case KindFloat:
		return uint64(p.Float)
	case KindBool:
		if p.Bool {
			return 1
		}
		return 0
	default:
		return p.Uint
	}
}

func valueAsFloat(p Primitive) float64 {
	switch p.Kind {
	case KindInt, KindEnum:
		return float64(p.Int)
	case KindUint:
		return float64(p.Uint)
	default:
		return p.Float
	}
}

// FormatPrimitive renders p the way get_string does: enums and VkBool32
// as their canonical VK_* identifier, flag bitmasks with no exact match
// as the names of their recognised set bits joined by " | " (any
// unrecognised remainder in hex), everything else as a plain number.
func FormatPrimitive(p Primitive) string {
	switch p.Kind {
	case KindBool:
		if p.Bool {
			return "VK_TRUE"
		}
		return "VK_FALSE"
	case KindEnum:
		if name, ok := lookupEnumName(p.TypeName, p.Int); ok {
			return name
		}
		if isFlagsType(p.TypeName) {
			return formatFlagChain(p.TypeName, p.Int)
		}
		return strconv.FormatInt(p.Int, 10)
	case KindInt:
		return strconv.FormatInt(p.Int, 10)
	case KindUint:
		return strconv.FormatUint(p.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(p.Float, 'g', -1, 64)
	case KindString:
		return p.S
	default:
		return ""
	}
}

// formatFlagChain renders a multi-bit flags value as the "|"-joined
// names of every set bit it recognises, falling back to hex for the
// remainder.
func formatFlagChain(typeName string, value int64) string {
	table := enumRegistry[typeName]
	var names []string
	remaining := value
	for name, bit := range table {
		if bit != 0 && remaining&bit == bit {
			names = append(names, name)
			remaining &^= bit
		}
	}
	if remaining != 0 || len(names) == 0 {
		names = append(names, fmt.Sprintf("0x%x", uint64(remaining)))
	}
	return strings.Join(names, " | ")
}

// ParseLiteral parses rhsText as a literal of elemType for assign.
func ParseLiteral(elemType, rhsText string) (Primitive, error) {
	text := strings.TrimSpace(rhsText)

	if elemType == "VkBool32" {
		switch text {
		case "VK_TRUE":
			return Primitive{Kind: KindBool, Bool: true, TypeName: elemType}, nil
		case "VK_FALSE":
			return Primitive{Kind: KindBool, Bool: false, TypeName: elemType}, nil
		}
		if b, err := strconv.ParseBool(text); err == nil {
			return Primitive{Kind: KindBool, Bool: b, TypeName: elemType}, nil
		}
		return Primitive{}, fmt.Errorf("cannot parse %q as VkBool32", text)
	}

	if isFlagsType(elemType) {
		var acc int64
		for _, part := range strings.Split(text, "|") {
			part = strings.TrimSpace(part)
			if v, ok := lookupEnumValue(elemType, part); ok {
				acc |= v
				continue
			}
			n, err := strconv.ParseInt(part, 0, 64)
			if err != nil {
				return Primitive{}, fmt.Errorf("unrecognised flag bit %q in %q", part, text)
			}
			acc |= n
		}
		return Primitive{Kind: KindEnum, Int: acc, TypeName: elemType}, nil
	}

	if _, isEnum := enumRegistry[elemType]; isEnum {
		if v, ok := lookupEnumValue(elemType, text); ok {
			return Primitive{Kind: KindEnum, Int: v, TypeName: elemType}, nil
		}
		if n, err := strconv.ParseInt(text, 0, 64); err == nil {
			return Primitive{Kind: KindEnum, Int: n, TypeName: elemType}, nil
		}
		return Primitive{}, fmt.Errorf("unrecognised %s identifier %q", elemType, text)
	}

	switch elemType {
	case "float", "double":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Primitive{}, fmt.Errorf("cannot parse %q as %s", text, elemType)
		}
		return Primitive{Kind: KindFloat, Float: f, TypeName: elemType}, nil
	case "int32_t", "int64_t":
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Primitive{}, fmt.Errorf("cannot parse %q as %s", text, elemType)
		}
		return Primitive{Kind: KindInt, Int: n, TypeName: elemType}, nil
	case "char*":
		return Primitive{Kind: KindString, S: strings.Trim(text, `"`), TypeName: elemType}, nil
	default:
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return Primitive{}, fmt.Errorf("cannot parse %q as %s", text, elemType)
		}
		return Primitive{Kind: KindUint, Uint: n, TypeName: elemType}, nil
	}
}
