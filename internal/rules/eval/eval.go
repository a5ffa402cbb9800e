package eval

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/rules/ast"
	"github.com/glasslayer/vkhook/internal/vkreflect"
)

// ExecuteRules runs every rule in program against ctx, in declaration
// order, firing the action of each rule whose selector type matches
// ctx.SelectorType and whose conditions all hold (spec.md §4.D). A
// condition or action error is logged through ctx.Logger and does not
// stop evaluation of the remaining rules — one bad rule must not take
// down the whole program.
func ExecuteRules(program *ast.Program, ctx *Context) error {
	for _, rule := range program.Rules {
		if rule.Disabled {
			continue
		}
		matched, err := matchSelector(rule.Selector, ctx)
		if err != nil {
			ctx.logWarn(err)
			continue
		}
		if !matched {
			continue
		}
		if err := execAction(rule.Action, ctx); err != nil {
			ctx.logWarn(err)
		}
	}
	return nil
}

func (c *Context) logWarn(err error) {
	if c.Logger != nil {
		c.Logger.Warnf("rule error: %s", err)
	}
}

// matchSelector reports whether sel applies to ctx: its type must match
// the event's selector type and every condition in its body must hold.
func matchSelector(sel *ast.Selector, ctx *Context) (bool, error) {
	if sel.Type != ctx.SelectorType {
		return false, nil
	}
	for _, cond := range sel.Conditions {
		ok, err := evalCondition(cond, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCondition(cond ast.Condition, ctx *Context) (bool, error) {
	switch c := cond.(type) {
	case *ast.HashCondition:
		hash, ok := ctx.Global.Hash(ctx.Handle)
		return ok && hash == c.Hash, nil

	case *ast.MarkCondition:
		return ctx.Global.HasMark(ctx.Handle, c.Mark), nil

	case *ast.WithCondition:
		return matchWith(c.Inner, ctx)

	case *ast.NotCondition:
		inner, err := evalCondition(c.Inner, ctx)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case *ast.OrCondition:
		for _, sub := range c.Inner {
			ok, err := evalCondition(sub, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case *ast.CompareCondition:
		return evalCompare(c, ctx)

	case *ast.CustomCondition:
		tag, err := evalDataExpr(c.Tag, ctx)
		if err != nil {
			return false, err
		}
		return tag.AsString() == ctx.CustomTag, nil

	default:
		return false, ruleErrf(cond.Pos(), "unhandled condition type %T", cond)
	}
}

// matchWith checks inner against every handle related to ctx's primary
// selector (a draw's images/buffers/shaders, or a pipeline's shader
// stages), per spec.md §4.C with().
func matchWith(inner *ast.Selector, ctx *Context) (bool, error) {
	related := relatedHandles(ctx)
	if len(related) == 0 {
		return false, nil
	}
	for _, h := range related {
		sub := *ctx
		sub.Handle = h
		sub.SelectorType = inner.Type
		ok, err := matchSelector(inner, &sub)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func relatedHandles(ctx *Context) []abi.Handle {
	switch info := ctx.AdditionalInfo.(type) {
	case *DrawInfo:
		all := make([]abi.Handle, 0, len(info.Images)+len(info.Buffers)+len(info.Shaders))
		all = append(all, info.Images...)
		all = append(all, info.Buffers...)
		all = append(all, info.Shaders...)
		return all
	case *PipelineInfo:
		return info.ShaderStages
	default:
		return nil
	}
}

func evalCompare(c *ast.CompareCondition, ctx *Context) (bool, error) {
	lhs, err := evalDataExpr(c.LHS, ctx)
	if err != nil {
		return false, err
	}
	rhs, err := evalDataExpr(c.RHS, ctx)
	if err != nil {
		return false, err
	}
	if err := checkType(c.Pos(), c.DType, lhs); err != nil {
		return false, err
	}
	if err := checkType(c.Pos(), c.DType, rhs); err != nil {
		return false, err
	}
	switch c.DType {
	case ast.DataNumber:
		return compareNumbers(lhs.Number, c.Op, rhs.Number), nil
	case ast.DataString:
		return compareStrings(lhs.Str, c.Op, rhs.Str), nil
	case ast.DataHandle:
		if c.Op != ast.OpEq && c.Op != ast.OpNe {
			return false, ruleErrf(c.Pos(), "handle compare only supports = and ≠")
		}
		eq := lhs.Handle == rhs.Handle
		if c.Op == ast.OpNe {
			return !eq, nil
		}
		return eq, nil
	case ast.DataRaw:
		lb, _ := lhs.Bytes()
		rb, _ := rhs.Bytes()
		eq := string(lb) == string(rb)
		if c.Op == ast.OpEq {
			return eq, nil
		}
		if c.Op == ast.OpNe {
			return !eq, nil
		}
		return false, ruleErrf(c.Pos(), "raw compare only supports = and ≠")
	default:
		return false, ruleErrf(c.Pos(), "compare() does not support dtype %s", c.DType)
	}
}

func compareNumbers(l float64, op ast.CompareOp, r float64) bool {
	switch op {
	case ast.OpEq:
		return l == r
	case ast.OpNe:
		return l != r
	case ast.OpLt:
		return l < r
	case ast.OpLe:
		return l <= r
	case ast.OpGt:
		return l > r
	case ast.OpGe:
		return l >= r
	}
	return false
}

func compareStrings(l string, op ast.CompareOp, r string) bool {
	switch op {
	case ast.OpEq:
		return l == r
	case ast.OpNe:
		return l != r
	case ast.OpLt:
		return l < r
	case ast.OpLe:
		return l <= r
	case ast.OpGt:
		return l > r
	case ast.OpGe:
		return l >= r
	}
	return false
}

// ---- data expressions ----

func evalDataExpr(expr ast.DataExpr, ctx *Context) (Value, error) {
	switch e := expr.(type) {
	case *ast.StringLit:
		return StringValue(e.Value), nil

	case *ast.NumberLit:
		return NumberValue(e.Value), nil

	case *ast.Concat:
		var b strings.Builder
		for _, arg := range e.Args {
			v, err := evalDataExpr(arg, ctx)
			if err != nil {
				return Value{}, err
			}
			b.WriteString(v.AsString())
		}
		return StringValue(b.String()), nil

	case *ast.Convert:
		return evalConvert(e, ctx)

	case *ast.StrClean:
		inner, err := evalDataExpr(e.Inner, ctx)
		if err != nil {
			return Value{}, err
		}
		s := inner.AsString()
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return StringValue(strings.TrimSpace(s)), nil

	case *ast.Split:
		inner, err := evalDataExpr(e.Inner, ctx)
		if err != nil {
			return Value{}, err
		}
		parts := strings.Split(inner.AsString(), e.Delimiter)
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = StringValue(p)
		}
		return ListValue(out), nil

	case *ast.At:
		return evalAt(e, ctx)

	case *ast.MapExpr:
		return evalMap(e, ctx)

	case *ast.ReduceExpr:
		return evalReduce(e, ctx)

	case *ast.CurrentElement:
		return ctx.currentElement(e.Pos())

	case *ast.CurrentIndex:
		return ctx.currentIndex(e.Pos())

	case *ast.CurrentReduction:
		return ctx.currentReduction(e.Pos())

	case *ast.PackExpr:
		return evalPack(e, ctx)

	case *ast.UnpackExpr:
		return evalUnpack(e, ctx)

	case *ast.VkStruct:
		return evalVkStruct(e, ctx)

	case *ast.VkDescriptor:
		return evalVkDescriptor(e, ctx)

	case *ast.VkHandle:
		return HandleValue(ctx.Handle), nil

	case *ast.Received:
		if info, ok := ctx.AdditionalInfo.(*ReceiveInfo); ok {
			return RawValue(info.Data), nil
		}
		return Value{}, ruleErrf(e.Pos(), "received() used outside a receive selector")

	case *ast.GlobalVar:
		v, ok := ctx.Global.Global(e.Name)
		if !ok {
			return Value{}, ruleErrf(e.Pos(), "no global variable %q, have: %s", e.Name, strings.Join(ctx.Global.GlobalNames(), ", "))
		}
		return v, nil

	case *ast.LocalVar:
		v, ok := ctx.local(e.Name)
		if !ok {
			return Value{}, ruleErrf(e.Pos(), "no local variable %q, have: %s", e.Name, strings.Join(ctx.localNames(), ", "))
		}
		return v, nil

	case *ast.MathExpr:
		return evalMathExpr(e, ctx)

	case *ast.CallExpr:
		return evalCallExpr(e, ctx)

	default:
		return Value{}, ruleErrf(expr.Pos(), "unhandled data expression type %T", expr)
	}
}

func evalConvert(e *ast.Convert, ctx *Context) (Value, error) {
	inner, err := evalDataExpr(e.Inner, ctx)
	if err != nil {
		return Value{}, err
	}
	if inner.DType() != e.SrcType {
		return Value{}, ruleErrf(e.Pos(), "convert(): expected source type %s, got %s", e.SrcType, inner.Kind)
	}
	switch e.DstType {
	case ast.DataString:
		return StringValue(inner.AsString()), nil
	case ast.DataRaw:
		b, err := inner.Bytes()
		if err != nil {
			return Value{}, err
		}
		return RawValue(b), nil
	case ast.DataNumber:
		switch inner.Kind {
		case KindString:
			n, err := strconv.ParseFloat(strings.TrimSpace(inner.Str), 64)
			if err != nil {
				return Value{}, ruleErrf(e.Pos(), "convert(): %q is not a number", inner.Str)
			}
			return NumberValue(n), nil
		case KindHandle:
			return NumberValue(float64(inner.Handle)), nil
		default:
			return Value{}, ruleErrf(e.Pos(), "convert(): cannot convert %s to number", inner.Kind)
		}
	case ast.DataHandle:
		if inner.Kind == KindNumber {
			return HandleValue(abi.Handle(uint64(inner.Number))), nil
		}
		return Value{}, ruleErrf(e.Pos(), "convert(): cannot convert %s to handle", inner.Kind)
	default:
		return Value{}, ruleErrf(e.Pos(), "convert(): unsupported destination type %s", e.DstType)
	}
}

func evalAt(e *ast.At, ctx *Context) (Value, error) {
	idxVal, err := evalDataExpr(e.Index, ctx)
	if err != nil {
		return Value{}, err
	}
	if err := checkType(e.Pos(), ast.DataNumber, idxVal); err != nil {
		return Value{}, err
	}
	inner, err := evalDataExpr(e.Inner, ctx)
	if err != nil {
		return Value{}, err
	}
	idx := int(idxVal.Number)
	var result Value
	switch inner.Kind {
	case KindList:
		if idx < 0 || idx >= len(inner.List) {
			return Value{}, ruleErrf(e.Pos(), "at(): index %d out of range for list of length %d", idx, len(inner.List))
		}
		result = inner.List[idx]
	case KindRaw:
		if idx < 0 || idx >= len(inner.Raw) {
			return Value{}, ruleErrf(e.Pos(), "at(): index %d out of range for raw of length %d", idx, len(inner.Raw))
		}
		result = NumberValue(float64(inner.Raw[idx]))
	case KindString:
		if idx < 0 || idx >= len(inner.Str) {
			return Value{}, ruleErrf(e.Pos(), "at(): index %d out of range for string of length %d", idx, len(inner.Str))
		}
		result = StringValue(string(inner.Str[idx]))
	default:
		return Value{}, ruleErrf(e.Pos(), "at(): cannot index a %s value", inner.Kind)
	}
	if result.DType() != e.DType {
		return Value{}, ruleErrf(e.Pos(), "at(): element type %s does not match declared type %s", result.Kind, e.DType)
	}
	return result, nil
}

func evalMap(e *ast.MapExpr, ctx *Context) (Value, error) {
	src, err := evalDataExpr(e.Src, ctx)
	if err != nil {
		return Value{}, err
	}
	if src.Kind != KindList {
		return Value{}, ruleErrf(e.Pos(), "map(): source must be a list, got %s", src.Kind)
	}
	out := make([]Value, len(src.List))
	for i, elem := range src.List {
		restore := ctx.pushElement(elem, i)
		v, err := evalDataExpr(e.Mapper, ctx)
		restore()
		if err != nil {
			return Value{}, err
		}
		out[i] = v
	}
	return ListValue(out), nil
}

func evalReduce(e *ast.ReduceExpr, ctx *Context) (Value, error) {
	src, err := evalDataExpr(e.Src, ctx)
	if err != nil {
		return Value{}, err
	}
	if src.Kind != KindList {
		return Value{}, ruleErrf(e.Pos(), "reduce(): source must be a list, got %s", src.Kind)
	}
	acc, err := evalDataExpr(e.Init, ctx)
	if err != nil {
		return Value{}, err
	}
	for i, elem := range src.List {
		restoreElem := ctx.pushElement(elem, i)
		restoreRed := ctx.pushReduction(acc)
		next, err := evalDataExpr(e.Accumulator, ctx)
		restoreRed()
		restoreElem()
		if err != nil {
			return Value{}, err
		}
		acc = next
	}
	return acc, nil
}

func evalPack(e *ast.PackExpr, ctx *Context) (Value, error) {
	value, err := evalDataExpr(e.Value, ctx)
	if err != nil {
		return Value{}, err
	}
	if e.RawType == ast.RawArray {
		if value.Kind != KindList {
			return Value{}, ruleErrf(e.Pos(), "pack(Array): value must be a list")
		}
		var b []byte
		for _, elem := range value.List {
			enc, err := packScalar(e.Pos(), e.ElemType, elem)
			if err != nil {
				return Value{}, err
			}
			b = append(b, enc...)
		}
		return RawValue(b), nil
	}
	b, err := packScalar(e.Pos(), e.RawType, value)
	if err != nil {
		return Value{}, err
	}
	return RawValue(b), nil
}

func packScalar(pos ast.Position, rt ast.RawType, v Value) ([]byte, error) {
	if v.Kind != KindNumber {
		return nil, ruleErrf(pos, "pack(%s): value must be a number, got %s", rt, v.Kind)
	}
	n := v.Number
	switch rt {
	case ast.RawSInt8, ast.RawUInt8:
		return packLE(int64(n), 1), nil
	case ast.RawSInt16, ast.RawUInt16:
		return packLE(int64(n), 2), nil
	case ast.RawSInt32, ast.RawUInt32:
		return packLE(int64(n), 4), nil
	case ast.RawSInt64, ast.RawUInt64:
		return packLE(int64(n), 8), nil
	case ast.RawFloat:
		return packLE(math.Float32bits(float32(n)), 4), nil
	case ast.RawDouble:
		return packLE(math.Float64bits(n), 8), nil
	default:
		return nil, ruleErrf(pos, "pack(): unsupported raw type %s", rt)
	}
}

func evalUnpack(e *ast.UnpackExpr, ctx *Context) (Value, error) {
	rawVal, err := evalDataExpr(e.Raw, ctx)
	if err != nil {
		return Value{}, err
	}
	raw, err := rawVal.Bytes()
	if err != nil {
		return Value{}, err
	}
	offVal, err := evalDataExpr(e.Offset, ctx)
	if err != nil {
		return Value{}, err
	}
	if err := checkType(e.Pos(), ast.DataNumber, offVal); err != nil {
		return Value{}, err
	}
	offset := int(offVal.Number)

	if e.RawType == ast.RawArray {
		countVal, err := evalDataExpr(e.Count, ctx)
		if err != nil {
			return Value{}, err
		}
		if err := checkType(e.Pos(), ast.DataNumber, countVal); err != nil {
			return Value{}, err
		}
		count := int(countVal.Number)
		out := make([]Value, 0, count)
		width := rawWidth(e.ElemType)
		for i := 0; i < count; i++ {
			v, err := unpackScalar(e.Pos(), e.ElemType, raw, offset+i*width)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return ListValue(out), nil
	}
	return unpackScalar(e.Pos(), e.RawType, raw, offset)
}

func unpackScalar(pos ast.Position, rt ast.RawType, raw []byte, offset int) (Value, error) {
	width := rawWidth(rt)
	if offset < 0 || offset+width > len(raw) {
		return Value{}, ruleErrf(pos, "unpack(%s): offset %d exceeds raw length %d", rt, offset, len(raw))
	}
	switch rt {
	case ast.RawSInt8:
		return NumberValue(float64(int8(raw[offset]))), nil
	case ast.RawUInt8:
		return NumberValue(float64(raw[offset])), nil
	case ast.RawSInt16:
		u := unpackLEUnsigned[uint16](raw[offset : offset+2])
		return NumberValue(float64(int16(u))), nil
	case ast.RawUInt16:
		return NumberValue(float64(unpackLEUnsigned[uint16](raw[offset : offset+2]))), nil
	case ast.RawSInt32:
		u := le32(raw[offset:])
		return NumberValue(float64(int32(u))), nil
	case ast.RawUInt32:
		return NumberValue(float64(le32(raw[offset:]))), nil
	case ast.RawSInt64:
		u := le64(raw[offset:])
		return NumberValue(float64(int64(u))), nil
	case ast.RawUInt64:
		return NumberValue(float64(le64(raw[offset:]))), nil
	case ast.RawFloat:
		return NumberValue(float64(math.Float32frombits(le32(raw[offset:])))), nil
	case ast.RawDouble:
		return NumberValue(math.Float64frombits(le64(raw[offset:]))), nil
	default:
		return Value{}, ruleErrf(pos, "unpack(): unsupported raw type %s", rt)
	}
}

func rawWidth(rt ast.RawType) int {
	switch rt {
	case ast.RawSInt8, ast.RawUInt8:
		return 1
	case ast.RawSInt16, ast.RawUInt16:
		return 2
	case ast.RawSInt32, ast.RawUInt32, ast.RawFloat:
		return 4
	case ast.RawSInt64, ast.RawUInt64, ast.RawDouble:
		return 8
	default:
		return 0
	}
}

func le32(b []byte) uint32 { return unpackLEUnsigned[uint32](b[:4]) }

func le64(b []byte) uint64 { return unpackLEUnsigned[uint64](b[:8]) }

// reflectRoot resolves the (rootType, root) pair the currently matched
// selector exposes for vk_struct()/get()/assign(), per spec.md §4.B:
// every selector that carries structured creation/record info registers
// one with vkreflect.
func reflectRoot(ctx *Context) (string, interface{}, error) {
	switch info := ctx.AdditionalInfo.(type) {
	case *DrawInfo:
		return info.ReflectRootType, info.ReflectRoot, nil
	case *PipelineInfo:
		return info.ReflectRootType, info.ReflectRoot, nil
	case *SwapchainInfo:
		return info.ReflectRootType, info.ReflectRoot, nil
	default:
		return "", nil, fmt.Errorf("vk_struct(): no structured info available for selector %q", ctx.SelectorType)
	}
}

func evalVkStruct(e *ast.VkStruct, ctx *Context) (Value, error) {
	rootType, root, err := reflectRoot(ctx)
	if err != nil {
		return Value{}, ruleErrf(e.Pos(), "%s", err)
	}
	s, err := vkreflect.GetString(rootType, root, e.Path)
	if err != nil {
		return Value{}, ruleErrf(e.Pos(), "vk_struct(%q): %s", e.Path, err)
	}
	return StringValue(s), nil
}

func evalVkDescriptor(e *ast.VkDescriptor, ctx *Context) (Value, error) {
	info, ok := ctx.AdditionalInfo.(*DrawInfo)
	if !ok || info.DescriptorLookup == nil {
		return Value{}, ruleErrf(e.Pos(), "vk_descriptor(): not available outside a draw selector")
	}
	setV, err := evalDataExpr(e.Set, ctx)
	if err != nil {
		return Value{}, err
	}
	bindingV, err := evalDataExpr(e.Binding, ctx)
	if err != nil {
		return Value{}, err
	}
	arrIdxV, err := evalDataExpr(e.ArrIdx, ctx)
	if err != nil {
		return Value{}, err
	}
	if err := checkType(e.Pos(), ast.DataHandle, setV); err != nil {
		return Value{}, err
	}
	if err := checkType(e.Pos(), ast.DataNumber, bindingV); err != nil {
		return Value{}, err
	}
	if err := checkType(e.Pos(), ast.DataNumber, arrIdxV); err != nil {
		return Value{}, err
	}
	results, err := info.DescriptorLookup(setV.Handle, int(bindingV.Number), int(arrIdxV.Number))
	if err != nil {
		return Value{}, ruleErrf(e.Pos(), "vk_descriptor(): %s", err)
	}
	return ListValue(results), nil
}

func evalMathExpr(e *ast.MathExpr, ctx *Context) (Value, error) {
	vars := make(map[string]float64, len(e.Vars))
	for name, expr := range e.Vars {
		v, err := evalDataExpr(expr, ctx)
		if err != nil {
			return Value{}, err
		}
		if err := checkType(e.Pos(), ast.DataNumber, v); err != nil {
			return Value{}, err
		}
		vars[name] = v.Number
	}
	result, err := evalArith(e.Expr, vars)
	if err != nil {
		return Value{}, ruleErrf(e.Pos(), "math(%q): %s", e.Expr, err)
	}
	return NumberValue(result), nil
}

// evalCallExpr dispatches to the small set of named builtin helpers a
// rule program can reach through call(name, args...): arithmetic and
// string helpers that don't warrant their own factory.
func evalCallExpr(e *ast.CallExpr, ctx *Context) (Value, error) {
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := evalDataExpr(a, ctx)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	switch e.Name {
	case "len":
		if len(args) != 1 {
			return Value{}, ruleErrf(e.Pos(), "call(len, ...): expects 1 argument")
		}
		switch args[0].Kind {
		case KindList:
			return NumberValue(float64(len(args[0].List))), nil
		case KindRaw:
			return NumberValue(float64(len(args[0].Raw))), nil
		case KindString:
			return NumberValue(float64(len(args[0].Str))), nil
		default:
			return Value{}, ruleErrf(e.Pos(), "call(len, ...): cannot take the length of a %s", args[0].Kind)
		}
	case "upper":
		if len(args) != 1 {
			return Value{}, ruleErrf(e.Pos(), "call(upper, ...): expects 1 argument")
		}
		return StringValue(strings.ToUpper(args[0].AsString())), nil
	case "lower":
		if len(args) != 1 {
			return Value{}, ruleErrf(e.Pos(), "call(lower, ...): expects 1 argument")
		}
		return StringValue(strings.ToLower(args[0].AsString())), nil
	case "min", "max":
		if len(args) == 0 {
			return Value{}, ruleErrf(e.Pos(), "call(%s, ...): expects at least 1 argument", e.Name)
		}
		best := args[0].Number
		for _, a := range args[1:] {
			if (e.Name == "min" && a.Number < best) || (e.Name == "max" && a.Number > best) {
				best = a.Number
			}
		}
		return NumberValue(best), nil
	default:
		return Value{}, ruleErrf(e.Pos(), "call(): unknown function %q", e.Name)
	}
}

// ---- actions ----

func execAction(action ast.Action, ctx *Context) error {
	switch a := action.(type) {
	case *ast.MarkAction:
		ctx.Global.Mark(ctx.Handle, a.Mark)
		return nil

	case *ast.UnmarkAction:
		if a.Clear {
			ctx.Global.ClearMarks(ctx.Handle)
			return nil
		}
		ctx.Global.Unmark(ctx.Handle, a.Mark)
		return nil

	case *ast.VerboseAction:
		if ctx.Verbose != nil {
			ctx.Verbose("rule matched")
		}
		return nil

	case *ast.SeqAction:
		for _, inner := range a.Args {
			if err := execAction(inner, ctx); err != nil {
				return err
			}
		}
		return nil

	case *ast.OnAction:
		ctx.Global.QueueCallback(a.Event, ctx.CommandBuffer, DeferredCallback{Action: a.Inner, Ctx: ctx})
		return nil

	case *ast.EachAction:
		return execEach(a, ctx)

	case *ast.DisableAction:
		if ctx.Disable != nil {
			ctx.Disable()
		}
		return nil

	case *ast.CancelAction:
		ctx.Canceled = true
		return nil

	case *ast.LogAction:
		text, err := evalDataExpr(a.Text, ctx)
		if err != nil {
			return err
		}
		if ctx.Logger != nil {
			ctx.Logger.Log(text.AsString())
		}
		return nil

	case *ast.OverrideAction:
		return execOverride(a, ctx)

	case *ast.WriteAction:
		return execWrite(a, ctx)

	case *ast.SocketAction:
		return execSocketAction(a.Pos(), a.FD, a.Args, ctx, false)

	case *ast.ServerSocketAction:
		return execSocketAction(a.Pos(), a.FD, a.Args, ctx, true)

	case *ast.CloseAction:
		return execClose(a, ctx)

	default:
		return ruleErrf(action.Pos(), "unhandled action type %T", action)
	}
}

func execEach(a *ast.EachAction, ctx *Context) error {
	for _, h := range relatedHandles(ctx) {
		sub := *ctx
		sub.Handle = h
		sub.SelectorType = a.Inner.Type
		ok, err := matchSelector(a.Inner, &sub)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := execAction(a.Action, &sub); err != nil {
			return err
		}
		if sub.Canceled {
			ctx.Canceled = true
		}
	}
	return nil
}

func execOverride(a *ast.OverrideAction, ctx *Context) error {
	rootType, root, err := reflectRoot(ctx)
	if err != nil {
		return ruleErrf(a.Pos(), "override(): %s", err)
	}
	value, err := evalDataExpr(a.Value, ctx)
	if err != nil {
		return err
	}
	if err := vkreflect.Assign(rootType, root, a.Key, value.AsString()); err != nil {
		return ruleErrf(a.Pos(), "override(%q): %s", a.Key, err)
	}
	ctx.Overrides = append(ctx.Overrides, a.Key)
	return nil
}

func execWrite(a *ast.WriteAction, ctx *Context) error {
	if ctx.IPC == nil {
		return ruleErrf(a.Pos(), "write(): no ipc sink attached to this context")
	}
	fdVal, err := evalDataExpr(a.FD, ctx)
	if err != nil {
		return err
	}
	dataVal, err := evalDataExpr(a.Data, ctx)
	if err != nil {
		return err
	}
	data, err := dataVal.Bytes()
	if err != nil {
		return err
	}
	if err := ctx.IPC.Write(int64(fdVal.Number), data); err != nil {
		return ruleErrf(a.Pos(), "write(): %s", err)
	}
	return nil
}

func execSocketAction(pos ast.Position, fdExpr ast.DataExpr, argExprs []ast.DataExpr, ctx *Context, server bool) error {
	if ctx.IPC == nil {
		return ruleErrf(pos, "socket(): no ipc sink attached to this context")
	}
	fdVal, err := evalDataExpr(fdExpr, ctx)
	if err != nil {
		return err
	}
	args := make([]Value, len(argExprs))
	for i, e := range argExprs {
		v, err := evalDataExpr(e, ctx)
		if err != nil {
			return err
		}
		args[i] = v
	}
	if server {
		return ctx.IPC.ServerSocket(int64(fdVal.Number), args)
	}
	return ctx.IPC.Socket(int64(fdVal.Number), args)
}

func execClose(a *ast.CloseAction, ctx *Context) error {
	if ctx.IPC == nil {
		return ruleErrf(a.Pos(), "close(): no ipc sink attached to this context")
	}
	fdVal, err := evalDataExpr(a.FD, ctx)
	if err != nil {
		return err
	}
	if err := ctx.IPC.Close(int64(fdVal.Number)); err != nil {
		return ruleErrf(a.Pos(), "close(): %s", err)
	}
	return nil
}
