// Package parser implements spec.md §4.C's rule-file grammar:
// `selector { conditions } -> action`, where every condition, action and
// data expression is a named construct — "a factory registered at
// program start" — that owns parsing of its own argument list.
package parser

import (
	"fmt"
	"strings"

	"github.com/glasslayer/vkhook/internal/rules/ast"
)

// ParseError carries a source position the way spec.md §6 requires:
// "line:col: message".
type ParseError struct {
	Pos ast.Position
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func errf(pos ast.Position, format string, args ...interface{}) error {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Parser holds one token of lookahead over a lexer.
type Parser struct {
	lex  *lexer
	cur  token
	err  error
}

// Parse parses a complete rule program. Parsing stops at the first
// error: "subsequent rules are not loaded" (spec.md §6).
func Parse(src string) (*ast.Program, error) {
	p := &Parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	prog := &ast.Program{}
	for p.cur.kind != tokEOF {
		rule, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		prog.Rules = append(prog.Rules, rule)
	}
	return prog, nil
}

func (p *Parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *Parser) expect(kind tokenKind, what string) (token, error) {
	if p.cur.kind != kind {
		return token{}, errf(p.cur.pos, "expected %s, got %q", what, p.cur.text)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *Parser) expectIdent() (string, ast.Position, error) {
	if p.cur.kind != tokIdent {
		return "", p.cur.pos, errf(p.cur.pos, "expected identifier, got %q", p.cur.text)
	}
	text, pos := p.cur.text, p.cur.pos
	if err := p.advance(); err != nil {
		return "", pos, err
	}
	return text, pos, nil
}

func (p *Parser) parseRule() (*ast.Rule, error) {
	sel, err := p.parseSelector()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokArrow, "'->'"); err != nil {
		return nil, err
	}
	action, err := p.parseAction()
	if err != nil {
		return nil, err
	}
	return &ast.Rule{Selector: sel, Action: action, Pos: sel.Pos()}, nil
}

// parseSelector reads `typeName` optionally followed by a `{
// conditions }` block. Used both for the rule's own selector and for
// with()/each()'s inner selector, which may omit the block entirely
// when it carries no conditions.
func (p *Parser) parseSelector() (*ast.Selector, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	st := ast.SelectorType(name)
	if !ast.ValidSelectorTypes[st] {
		return nil, errf(pos, "unknown selector type %q", name)
	}
	sel := &ast.Selector{Type: st}
	sel.P = pos
	if p.cur.kind == tokLBrace {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.cur.kind != tokRBrace {
			if p.cur.kind == tokEOF {
				return nil, errf(p.cur.pos, "unterminated condition block for selector %q", name)
			}
			cond, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			sel.Conditions = append(sel.Conditions, cond)
		}
		if _, err := p.expect(tokRBrace, "'}'"); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

// ---- conditions ----

type conditionFactory func(p *Parser, pos ast.Position) (ast.Condition, error)

// conditionFactories is filled in init from conditionFactoryTable: the
// table's entries call back into parseCondition, which reads this map, so
// a direct initializer would be an initialization cycle.
var conditionFactories map[string]conditionFactory

func init() { conditionFactories = conditionFactoryTable }

var conditionFactoryTable = map[string]conditionFactory{
	"hash":   parseHashCondition,
	"mark":    parseMarkCondition,
	"with":    parseWithCondition,
	"not":     parseNotCondition,
	"or":      parseOrCondition,
	"compare": parseCompareCondition,
	"custom":  parseCustomCondition,
}

func (p *Parser) parseCondition() (ast.Condition, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	factory, ok := conditionFactories[name]
	if !ok {
		return nil, errf(pos, "unknown condition %q", name)
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	return factory(p, pos)
}

func parseHashCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	hash, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.HashCondition{Hash: hash}
	c.P = pos
	return c, nil
}

func parseMarkCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	mark, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.MarkCondition{Mark: mark}
	c.P = pos
	return c, nil
}

func parseWithCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	inner, err := p.parseSelector()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.WithCondition{Inner: inner}
	c.P = pos
	return c, nil
}

func parseNotCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	inner, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.NotCondition{Inner: inner}
	c.P = pos
	return c, nil
}

func parseOrCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	var conds []ast.Condition
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.OrCondition{Inner: conds}
	c.P = pos
	return c, nil
}

func parseCompareCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	lhs, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	if p.cur.kind != tokOp {
		return nil, errf(p.cur.pos, "expected a comparison operator, got %q", p.cur.text)
	}
	op := ast.CompareOp(p.cur.text)
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	dtype, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	rhs, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.CompareCondition{LHS: lhs, Op: op, DType: ast.DataType(dtype), RHS: rhs}
	c.P = pos
	return c, nil
}

func parseCustomCondition(p *Parser, pos ast.Position) (ast.Condition, error) {
	tag, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	c := &ast.CustomCondition{Tag: tag}
	c.P = pos
	return c, nil
}

// parseIdentOrStringArg accepts either a bare identifier or a quoted
// string as a single-token argument (rule text writes both
// `mark(hero)` and `mark("hero")` in the wild).
func (p *Parser) parseIdentOrStringArg() (string, ast.Position, error) {
	pos := p.cur.pos
	switch p.cur.kind {
	case tokIdent:
		text := p.cur.text
		return text, pos, p.advance()
	case tokString:
		text := p.cur.text
		return text, pos, p.advance()
	default:
		return "", pos, errf(pos, "expected an identifier or string, got %q", p.cur.text)
	}
}

// parseReflectPath reads a vkreflect path written as bare rule text —
// `pDepthStencilState->depthCompareOp`, `pViewportState->pScissors[2].
// extent.width` — and reconstructs its canonical string form. Paths are
// never quoted in rule text (spec.md §4.C's own examples write them
// bare), so the parser stitches the token stream back into the textual
// form vkreflect.ParsePath expects rather than taking a single string
// token.
func (p *Parser) parseReflectPath() (string, ast.Position, error) {
	startPos := p.cur.pos
	name, _, err := p.expectIdent()
	if err != nil {
		return "", startPos, err
	}
	var b strings.Builder
	b.WriteString(name)
	for {
		switch p.cur.kind {
		case tokArrow:
			b.WriteString("->")
			if err := p.advance(); err != nil {
				return "", startPos, err
			}
			field, _, err := p.expectIdent()
			if err != nil {
				return "", startPos, err
			}
			b.WriteString(field)
		case tokDot:
			b.WriteString(".")
			if err := p.advance(); err != nil {
				return "", startPos, err
			}
			field, _, err := p.expectIdent()
			if err != nil {
				return "", startPos, err
			}
			b.WriteString(field)
		case tokLBracket:
			if err := p.advance(); err != nil {
				return "", startPos, err
			}
			if p.cur.kind != tokNumber {
				return "", startPos, errf(p.cur.pos, "expected an array index, got %q", p.cur.text)
			}
			idxText := p.cur.text
			if err := p.advance(); err != nil {
				return "", startPos, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return "", startPos, err
			}
			b.WriteString("[")
			b.WriteString(idxText)
			b.WriteString("]")
		default:
			return b.String(), startPos, nil
		}
	}
}

// ---- data expressions ----

type dataExprFactory func(p *Parser, pos ast.Position) (ast.DataExpr, error)

// dataExprFactories is filled in init for the same reason as
// conditionFactories: many entries parse nested data expressions.
var dataExprFactories map[string]dataExprFactory

func init() { dataExprFactories = dataExprFactoryTable }

var dataExprFactoryTable = map[string]dataExprFactory{
	"string":           parseStringLit,
	"number":           parseNumberLit,
	"concat":           parseConcat,
	"convert":          parseConvert,
	"strclean":         parseStrClean,
	"split":             parseSplit,
	"at":               parseAt,
	"map":              parseMapExpr,
	"reduce":           parseReduceExpr,
	"current_element":  parseCurrentElement,
	"current_index":    parseCurrentIndex,
	"current_reduction": parseCurrentReduction,
	"pack":             parsePack,
	"unpack":           parseUnpack,
	"vkstruct":         parseVkStruct,
	"vkdescriptor":     parseVkDescriptor,
	"vkhandle":         parseVkHandle,
	"received":         parseReceived,
	"global":           parseGlobalVar,
	"local":            parseLocalVar,
	"math":             parseMathExpr,
	"call":             parseCallExpr,
}

func (p *Parser) parseDataExpr() (ast.DataExpr, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	factory, ok := dataExprFactories[name]
	if !ok {
		return nil, errf(pos, "unknown data expression %q", name)
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	return factory(p, pos)
}

func (p *Parser) parseDataExprList() ([]ast.DataExpr, error) {
	var exprs []ast.DataExpr
	for {
		e, err := p.parseDataExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return exprs, nil
}

func (p *Parser) expectRParen() error {
	_, err := p.expect(tokRParen, "')'")
	return err
}

func (p *Parser) expectComma() error {
	_, err := p.expect(tokComma, "','")
	return err
}

func parseStringLit(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if p.cur.kind != tokString {
		return nil, errf(p.cur.pos, "expected a string literal, got %q", p.cur.text)
	}
	text := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.StringLit{Value: text}
	e.P = pos
	return e, nil
}

func parseNumberLit(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if p.cur.kind != tokNumber {
		return nil, errf(p.cur.pos, "expected a number literal, got %q", p.cur.text)
	}
	v := p.cur.num
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.NumberLit{Value: v}
	e.P = pos
	return e, nil
}

func parseConcat(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	args, err := p.parseDataExprList()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.Concat{Args: args}
	e.P = pos
	return e, nil
}

func (p *Parser) expectDataType() (ast.DataType, error) {
	name, _, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	return ast.DataType(name), nil
}

func parseConvert(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	src, err := p.expectDataType()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	dst, err := p.expectDataType()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	inner, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.Convert{SrcType: src, DstType: dst, Inner: inner}
	e.P = pos
	return e, nil
}

func parseStrClean(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	inner, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.StrClean{Inner: inner}
	e.P = pos
	return e, nil
}

func parseSplit(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	inner, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokString {
		return nil, errf(p.cur.pos, "expected a string delimiter, got %q", p.cur.text)
	}
	delim := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.Split{Inner: inner, Delimiter: delim}
	e.P = pos
	return e, nil
}

// parseAt reads `at(dtype, index, inner)`: dtype first, the same
// position convert gives its type argument (compare takes its dtype
// third, after lhs and the operator).
func parseAt(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	dtype, err := p.expectDataType()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	idx, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	inner, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.At{Index: idx, Inner: inner, DType: dtype}
	e.P = pos
	return e, nil
}

func parseMapExpr(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	src, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	elemType, err := p.expectDataType()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	mapper, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.MapExpr{Src: src, ElemType: elemType, Mapper: mapper}
	e.P = pos
	return e, nil
}

func parseReduceExpr(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	src, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	dtype, err := p.expectDataType()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	init, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	accum, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.ReduceExpr{Src: src, DType: dtype, Init: init, Accumulator: accum}
	e.P = pos
	return e, nil
}

func parseCurrentElement(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.CurrentElement{}
	e.P = pos
	return e, nil
}

func parseCurrentIndex(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.CurrentIndex{}
	e.P = pos
	return e, nil
}

func parseCurrentReduction(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.CurrentReduction{}
	e.P = pos
	return e, nil
}

// parseRawType reads pack/unpack's leading raw-type identifier.
func (p *Parser) parseRawType() (ast.RawType, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	rt := ast.RawType(name)
	switch rt {
	case ast.RawSInt8, ast.RawSInt16, ast.RawSInt32, ast.RawSInt64,
		ast.RawUInt8, ast.RawUInt16, ast.RawUInt32, ast.RawUInt64,
		ast.RawFloat, ast.RawDouble, ast.RawArray:
		return rt, nil
	default:
		return "", errf(pos, "unknown raw type %q", name)
	}
}

// parseArrayElemType reads the scalar raw-type token that follows
// "Array," in pack()/unpack() (e.g. "unpack(Array, UInt16, 4, 0, raw)"),
// rejecting a nested Array since no rule program needs arrays of arrays.
func (p *Parser) parseArrayElemType() (ast.RawType, error) {
	pos := p.cur.pos
	elem, err := p.parseRawType()
	if err != nil {
		return "", err
	}
	if elem == ast.RawArray {
		return "", errf(pos, "pack/unpack: Array element type cannot itself be Array")
	}
	return elem, nil
}

func parsePack(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	rt, err := p.parseRawType()
	if err != nil {
		return nil, err
	}
	var elemType ast.RawType
	var count ast.DataExpr
	if rt == ast.RawArray {
		if err := p.expectComma(); err != nil {
			return nil, err
		}
		elemType, err = p.parseArrayElemType()
		if err != nil {
			return nil, err
		}
		if err := p.expectComma(); err != nil {
			return nil, err
		}
		count, err = p.parseDataExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	value, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.PackExpr{RawType: rt, ElemType: elemType, Count: count, Value: value}
	e.P = pos
	return e, nil
}

func parseUnpack(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	rt, err := p.parseRawType()
	if err != nil {
		return nil, err
	}
	var elemType ast.RawType
	var count ast.DataExpr
	if rt == ast.RawArray {
		if err := p.expectComma(); err != nil {
			return nil, err
		}
		elemType, err = p.parseArrayElemType()
		if err != nil {
			return nil, err
		}
		if err := p.expectComma(); err != nil {
			return nil, err
		}
		count, err = p.parseDataExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	offset, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	raw, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.UnpackExpr{RawType: rt, ElemType: elemType, Count: count, Offset: offset, Raw: raw}
	e.P = pos
	return e, nil
}

func parseVkStruct(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	path, _, err := p.parseReflectPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.VkStruct{Path: path}
	e.P = pos
	return e, nil
}

func parseVkDescriptor(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	set, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	binding, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	arrIdx, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.VkDescriptor{Set: set, Binding: binding, ArrIdx: arrIdx}
	e.P = pos
	return e, nil
}

func parseVkHandle(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.VkHandle{}
	e.P = pos
	return e, nil
}

func parseReceived(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.Received{}
	e.P = pos
	return e, nil
}

func parseGlobalVar(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	name, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.GlobalVar{Name: name}
	e.P = pos
	return e, nil
}

func parseLocalVar(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	name, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.LocalVar{Name: name}
	e.P = pos
	return e, nil
}

func parseMathExpr(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	if p.cur.kind != tokString {
		return nil, errf(p.cur.pos, "expected the math expression as a string literal, got %q", p.cur.text)
	}
	expr := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	vars := map[string]ast.DataExpr{}
	for p.cur.kind == tokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokFatArrow, "'=>'"); err != nil {
			return nil, err
		}
		val, err := p.parseDataExpr()
		if err != nil {
			return nil, err
		}
		vars[name] = val
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.MathExpr{Expr: expr, Vars: vars}
	e.P = pos
	return e, nil
}

func parseCallExpr(p *Parser, pos ast.Position) (ast.DataExpr, error) {
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var args []ast.DataExpr
	if p.cur.kind == tokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		args, err = p.parseDataExprList()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	e := &ast.CallExpr{Name: name, Args: args}
	e.P = pos
	return e, nil
}

// ---- actions ----

type actionFactory func(p *Parser, pos ast.Position) (ast.Action, error)

// actionFactories is filled in init for the same reason as
// conditionFactories: seq and on parse nested actions.
var actionFactories map[string]actionFactory

func init() { actionFactories = actionFactoryTable }

var actionFactoryTable = map[string]actionFactory{
	"mark":          parseMarkAction,
	"unmark":        parseUnmarkAction,
	"verbose":       parseVerboseAction,
	"seq":           parseSeqAction,
	"on":            parseOnAction,
	"each":          parseEachAction,
	"disable":       parseDisableAction,
	"cancel":        parseCancelAction,
	"log":           parseLogAction,
	"override":      parseOverrideAction,
	"write":         parseWriteAction,
	"socket":        parseSocketAction,
	"server_socket": parseServerSocketAction,
	"close":         parseCloseAction,
}

func (p *Parser) parseAction() (ast.Action, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	factory, ok := actionFactories[name]
	if !ok {
		return nil, errf(pos, "unknown action %q", name)
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	return factory(p, pos)
}

func parseMarkAction(p *Parser, pos ast.Position) (ast.Action, error) {
	mark, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.MarkAction{Mark: mark}
	a.P = pos
	return a, nil
}

func parseUnmarkAction(p *Parser, pos ast.Position) (ast.Action, error) {
	val, _, err := p.parseIdentOrStringArg()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.UnmarkAction{}
	if val == "--clear" {
		a.Clear = true
	} else {
		a.Mark = val
	}
	a.P = pos
	return a, nil
}

func parseVerboseAction(p *Parser, pos ast.Position) (ast.Action, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.VerboseAction{}
	a.P = pos
	return a, nil
}

func parseSeqAction(p *Parser, pos ast.Position) (ast.Action, error) {
	var args []ast.Action
	for {
		act, err := p.parseAction()
		if err != nil {
			return nil, err
		}
		args = append(args, act)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.SeqAction{Args: args}
	a.P = pos
	return a, nil
}

func parseOnAction(p *Parser, pos ast.Position) (ast.Action, error) {
	event, epos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if event != "EndCommandBuffer" && event != "QueueSubmit" {
		return nil, errf(epos, "on() event must be EndCommandBuffer or QueueSubmit, got %q", event)
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	inner, err := p.parseAction()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.OnAction{Event: event, Inner: inner}
	a.P = pos
	return a, nil
}

func parseEachAction(p *Parser, pos ast.Position) (ast.Action, error) {
	inner, err := p.parseSelector()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	act, err := p.parseAction()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.EachAction{Inner: inner, Action: act}
	a.P = pos
	return a, nil
}

func parseDisableAction(p *Parser, pos ast.Position) (ast.Action, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.DisableAction{}
	a.P = pos
	return a, nil
}

func parseCancelAction(p *Parser, pos ast.Position) (ast.Action, error) {
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.CancelAction{}
	a.P = pos
	return a, nil
}

func parseLogAction(p *Parser, pos ast.Position) (ast.Action, error) {
	text, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.LogAction{Text: text}
	a.P = pos
	return a, nil
}

// parseOverrideAction reads `override(path, value)`, matching spec.md's
// own example (`override(pDepthStencilState->depthCompareOp,
// VK_COMPARE_OP_ALWAYS)`): path and value are separated by a comma; a
// '=' separator is not accepted.
func parseOverrideAction(p *Parser, pos ast.Position) (ast.Action, error) {
	key, _, err := p.parseReflectPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	value, err := p.parseOverrideValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.OverrideAction{Key: key, Value: value}
	a.P = pos
	return a, nil
}

// parseOverrideValue accepts either a full data expression or a bare
// enum/flag identifier chain (VK_COMPARE_OP_ALWAYS, or
// VK_SHADER_STAGE_VERTEX_BIT|VK_SHADER_STAGE_FRAGMENT_BIT), wrapping the
// latter in a StringLit so the evaluator hands it straight to
// vkreflect.Assign, which already knows how to parse enum/flag literals.
func (p *Parser) parseOverrideValue() (ast.DataExpr, error) {
	if p.cur.kind == tokIdent {
		// Look ahead textually: a data-expr factory call always has an
		// identifier immediately followed by '(', a bare literal never
		// does (VK_TRUE, VK_COMPARE_OP_ALWAYS, A_BIT|B_BIT, 5).
		save := *p.lex
		savedCur := p.cur
		if err := p.advance(); err == nil && p.cur.kind == tokLParen {
			*p.lex = save
			p.cur = savedCur
			return p.parseDataExpr()
		}
		*p.lex = save
		p.cur = savedCur
	}
	pos := p.cur.pos
	var b strings.Builder
	for {
		switch p.cur.kind {
		case tokIdent:
			b.WriteString(p.cur.text)
		case tokNumber:
			b.WriteString(p.cur.text)
		default:
			if b.Len() == 0 {
				return nil, errf(pos, "expected an override value, got %q", p.cur.text)
			}
			e := &ast.StringLit{Value: b.String()}
			e.P = pos
			return e, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokOp && p.cur.text == "|" {
			b.WriteString("|")
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
	}
}

func parseWriteAction(p *Parser, pos ast.Position) (ast.Action, error) {
	fd, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectComma(); err != nil {
		return nil, err
	}
	data, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.WriteAction{FD: fd, Data: data}
	a.P = pos
	return a, nil
}

func parseSocketAction(p *Parser, pos ast.Position) (ast.Action, error) {
	fd, args, err := p.parseFDAndArgs()
	if err != nil {
		return nil, err
	}
	a := &ast.SocketAction{FD: fd, Args: args}
	a.P = pos
	return a, nil
}

func parseServerSocketAction(p *Parser, pos ast.Position) (ast.Action, error) {
	fd, args, err := p.parseFDAndArgs()
	if err != nil {
		return nil, err
	}
	a := &ast.ServerSocketAction{FD: fd, Args: args}
	a.P = pos
	return a, nil
}

func (p *Parser) parseFDAndArgs() (ast.DataExpr, []ast.DataExpr, error) {
	fd, err := p.parseDataExpr()
	if err != nil {
		return nil, nil, err
	}
	var args []ast.DataExpr
	for p.cur.kind == tokComma {
		if err := p.advance(); err != nil {
			return nil, nil, err
		}
		arg, err := p.parseDataExpr()
		if err != nil {
			return nil, nil, err
		}
		args = append(args, arg)
	}
	if err := p.expectRParen(); err != nil {
		return nil, nil, err
	}
	return fd, args, nil
}

func parseCloseAction(p *Parser, pos ast.Position) (ast.Action, error) {
	fd, err := p.parseDataExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	a := &ast.CloseAction{FD: fd}
	a.P = pos
	return a, nil
}
