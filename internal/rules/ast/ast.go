// Package ast defines the typed rule syntax tree spec.md §4.C describes:
// a rule is `selector { conditions } -> action`, where conditions,
// actions and data expressions are all named constructs resolved
// against the factory tables in the sibling parser package.
package ast

// Position is a 1-based line/column source location, used on every node
// so parse and evaluation errors can be reported as "line:col: message".
type Position struct {
	Line int
	Col  int
}

func (p Position) String() string {
	if p.Line == 0 {
		return "?:?"
	}
	return itoa(p.Line) + ":" + itoa(p.Col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SelectorType is the closed set of event classes a rule can attach to.
type SelectorType string

const (
	SelectorImage           SelectorType = "image"
	SelectorBuffer          SelectorType = "buffer"
	SelectorShader          SelectorType = "shader"
	SelectorDraw            SelectorType = "draw"
	SelectorPipeline        SelectorType = "pipeline"
	SelectorInit            SelectorType = "init"
	SelectorReceive         SelectorType = "receive"
	SelectorDeviceCreate    SelectorType = "device_create"
	SelectorDeviceDestroy   SelectorType = "device_destroy"
	SelectorPresent         SelectorType = "present"
	SelectorSwapchainCreate SelectorType = "swapchain_create"
	SelectorCustom          SelectorType = "custom"
)

// ValidSelectorTypes is the closed set of selector types, used by the
// parser to validate an identifier names a real selector.
var ValidSelectorTypes = map[SelectorType]bool{
	SelectorImage: true, SelectorBuffer: true, SelectorShader: true,
	SelectorDraw: true, SelectorPipeline: true, SelectorInit: true,
	SelectorReceive: true, SelectorDeviceCreate: true, SelectorDeviceDestroy: true,
	SelectorPresent: true, SelectorSwapchainCreate: true, SelectorCustom: true,
}

// DataType is one of the polymorphic value kinds data expressions
// produce and conditions/compare operate over.
type DataType string

const (
	DataString DataType = "string"
	DataRaw    DataType = "raw"
	DataHandle DataType = "handle"
	DataNumber DataType = "number"
	DataList   DataType = "list"
)

// RawType is the element type for pack/unpack.
type RawType string

const (
	RawSInt8   RawType = "SInt8"
	RawSInt16  RawType = "SInt16"
	RawSInt32  RawType = "SInt32"
	RawSInt64  RawType = "SInt64"
	RawUInt8   RawType = "UInt8"
	RawUInt16  RawType = "UInt16"
	RawUInt32  RawType = "UInt32"
	RawUInt64  RawType = "UInt64"
	RawFloat   RawType = "Float"
	RawDouble  RawType = "Double"
	RawArray   RawType = "Array"
)

// CompareOp is the operator set compare() accepts.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "≠"
	OpLt CompareOp = "<"
	OpLe CompareOp = "≤"
	OpGt CompareOp = ">"
	OpGe CompareOp = "≥"
)

// Node is implemented by every AST node so callers can report a source
// position regardless of node kind.
type Node interface {
	Pos() Position
}

// base embeds a Position and gives every concrete node its Pos() method
// for free.
type base struct{ P Position }

func (b base) Pos() Position { return b.P }

// Selector is a selector reference together with the conditions that
// narrow it: `image { hash(H) }`. Used both at the top of a rule and
// recursively inside with()/each() inner selectors.
type Selector struct {
	base
	Type       SelectorType
	Conditions []Condition
}

// Condition is implemented by every condition node.
type Condition interface {
	Node
	conditionNode()
}

type condBase struct{ base }

func (condBase) conditionNode() {}

type HashCondition struct {
	condBase
	Hash string
}

type MarkCondition struct {
	condBase
	Mark string
}

// WithCondition matches if Inner matches at least one of the outer
// selector's related handles (draw's images/buffers/shaders, or a
// pipeline's shader stages).
type WithCondition struct {
	condBase
	Inner *Selector
}

type NotCondition struct {
	condBase
	Inner Condition
}

type OrCondition struct {
	condBase
	Inner []Condition
}

type CompareCondition struct {
	condBase
	LHS   DataExpr
	Op    CompareOp
	DType DataType
	RHS   DataExpr
}

type CustomCondition struct {
	condBase
	Tag DataExpr
}

// DataExpr is implemented by every data-expression node.
type DataExpr interface {
	Node
	dataExprNode()
}

type dataBase struct{ base }

func (dataBase) dataExprNode() {}

type StringLit struct {
	dataBase
	Value string
}

type NumberLit struct {
	dataBase
	Value float64
}

type Concat struct {
	dataBase
	Args []DataExpr
}

type Convert struct {
	dataBase
	SrcType DataType
	DstType DataType
	Inner   DataExpr
}

type StrClean struct {
	dataBase
	Inner DataExpr
}

type Split struct {
	dataBase
	Inner     DataExpr
	Delimiter string
}

type At struct {
	dataBase
	Index DataExpr
	Inner DataExpr
	DType DataType
}

// MapExpr evaluates Mapper once per element of Src, with CurrentElement
// and CurrentIndex bound within Mapper's subtree.
type MapExpr struct {
	dataBase
	Src      DataExpr
	ElemType DataType
	Mapper   DataExpr
}

// ReduceExpr folds Src left-to-right through Accumulator, with
// CurrentReduction and CurrentElement bound within Accumulator's
// subtree.
type ReduceExpr struct {
	dataBase
	Src         DataExpr
	DType       DataType
	Init        DataExpr
	Accumulator DataExpr
}

type CurrentElement struct{ dataBase }
type CurrentIndex struct{ dataBase }
type CurrentReduction struct{ dataBase }

type PackExpr struct {
	dataBase
	RawType  RawType
	ElemType RawType  // only for RawArray: the scalar type packed per element
	Count    DataExpr // only for RawArray
	Value    DataExpr
}

type UnpackExpr struct {
	dataBase
	RawType  RawType
	ElemType RawType  // only for RawArray: the scalar type unpacked per element
	Count    DataExpr // only for RawArray
	Offset   DataExpr
	Raw      DataExpr
}

type VkStruct struct {
	dataBase
	Path string
}

type VkDescriptor struct {
	dataBase
	Set     DataExpr
	Binding DataExpr
	ArrIdx  DataExpr
}

type VkHandle struct{ dataBase }
type Received struct{ dataBase }

type GlobalVar struct {
	dataBase
	Name string
}

type LocalVar struct {
	dataBase
	Name string
}

type MathExpr struct {
	dataBase
	Expr string
	Vars map[string]DataExpr
}

type CallExpr struct {
	dataBase
	Name string
	Args []DataExpr
}

// Action is implemented by every action node.
type Action interface {
	Node
	actionNode()
}

type actionBase struct{ base }

func (actionBase) actionNode() {}

type MarkAction struct {
	actionBase
	Mark string
}

type UnmarkAction struct {
	actionBase
	Mark  string
	Clear bool
}

type VerboseAction struct{ actionBase }

type SeqAction struct {
	actionBase
	Args []Action
}

type OnAction struct {
	actionBase
	Event string // "EndCommandBuffer" or "QueueSubmit"
	Inner Action
}

type EachAction struct {
	actionBase
	Inner  *Selector
	Action Action
}

type DisableAction struct{ actionBase }
type CancelAction struct{ actionBase }

type LogAction struct {
	actionBase
	Text DataExpr
}

type OverrideAction struct {
	actionBase
	Key   string
	Value DataExpr
}

type WriteAction struct {
	actionBase
	FD   DataExpr
	Data DataExpr
}

type SocketAction struct {
	actionBase
	FD   DataExpr
	Args []DataExpr
}

type ServerSocketAction struct {
	actionBase
	FD   DataExpr
	Args []DataExpr
}

type CloseAction struct {
	actionBase
	FD DataExpr
}

// Rule is one top-level `selector { conditions } -> action` statement.
type Rule struct {
	Selector *Selector
	Action   Action
	Pos      Position
	Disabled bool
}

// Program is a fully parsed rule file.
type Program struct {
	Rules []*Rule
}
