package eval

import (
	"sync"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/rules/ast"
)

// GlobalState is spec.md §3's per-Instance "global rule context": marks,
// content hashes, global variables and the deferred-callback lists. It
// is owned by instance.Instance but lives in this package (rather than
// the reverse) so eval never has to import instance, which in turn
// needs to import eval to call ExecuteRules — avoiding an import cycle.
//
// Every method here takes its own lock in addition to whatever coarser
// instance-wide mutex the caller already holds (spec.md §5): the extra
// lock is cheap, uncontended defense-in-depth, not a substitute for the
// single instance mutex that also serialises the rest of rule
// evaluation.
type GlobalState struct {
	mu      sync.Mutex
	marks   map[abi.Handle]map[string]bool
	hashes  map[abi.Handle]string
	globals map[string]Value

	onEndCommandBuffer map[abi.Handle][]DeferredCallback
	onQueueSubmit      map[abi.Handle][]DeferredCallback
}

// DeferredCallback is one action registered via on(event, action)
// (spec.md §4.C), stored until the matching event drains it.
type DeferredCallback struct {
	Action ast.Action
	Ctx    *Context
}

// NewGlobalState returns an empty global rule context for a freshly
// created instance.
func NewGlobalState() *GlobalState {
	return &GlobalState{
		marks:              make(map[abi.Handle]map[string]bool),
		hashes:             make(map[abi.Handle]string),
		globals:            make(map[string]Value),
		onEndCommandBuffer: make(map[abi.Handle][]DeferredCallback),
		onQueueSubmit:      make(map[abi.Handle][]DeferredCallback),
	}
}

func (g *GlobalState) Mark(h abi.Handle, mark string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.marks[h]
	if !ok {
		set = make(map[string]bool)
		g.marks[h] = set
	}
	set[mark] = true
}

func (g *GlobalState) Unmark(h abi.Handle, mark string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.marks[h], mark)
}

func (g *GlobalState) ClearMarks(h abi.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.marks, h)
}

func (g *GlobalState) HasMark(h abi.Handle, mark string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marks[h][mark]
}

// SetHash records the content hash most recently attached to h. Per
// spec.md §3: "append-only within a device's lifetime; no rehashing of
// previously-hashed handles" — callers are expected to only call this
// once per handle, but SetHash itself does not enforce that since some
// legitimate paths (e.g. a buffer reused by the application after
// destroy/recreate under the same native handle value) can legitimately
// rehash.
func (g *GlobalState) SetHash(h abi.Handle, hash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hashes[h] = hash
}

func (g *GlobalState) Hash(h abi.Handle) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hash, ok := g.hashes[h]
	return hash, ok
}

func (g *GlobalState) SetGlobal(name string, v Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.globals[name] = v
}

func (g *GlobalState) Global(name string) (Value, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.globals[name]
	return v, ok
}

// GlobalNames returns the known global variable names, for the "missing
// variables ... hard errors ... with a message listing available names"
// contract in spec.md §4.C.
func (g *GlobalState) GlobalNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.globals))
	for n := range g.globals {
		names = append(names, n)
	}
	return names
}

// QueueCallback registers cb to run the next time event fires for
// commandBuffer (spec.md §4.C on()).
func (g *GlobalState) QueueCallback(event string, commandBuffer abi.Handle, cb DeferredCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch event {
	case "EndCommandBuffer":
		g.onEndCommandBuffer[commandBuffer] = append(g.onEndCommandBuffer[commandBuffer], cb)
	case "QueueSubmit":
		g.onQueueSubmit[commandBuffer] = append(g.onQueueSubmit[commandBuffer], cb)
	}
}

// DrainEndCommandBuffer and DrainQueueSubmit remove and return every
// callback queued for commandBuffer, clearing the list (spec.md §4.D:
// "a list drained once at the corresponding event").
func (g *GlobalState) DrainEndCommandBuffer(commandBuffer abi.Handle) []DeferredCallback {
	g.mu.Lock()
	defer g.mu.Unlock()
	cbs := g.onEndCommandBuffer[commandBuffer]
	delete(g.onEndCommandBuffer, commandBuffer)
	return cbs
}

func (g *GlobalState) DrainQueueSubmit(commandBuffer abi.Handle) []DeferredCallback {
	g.mu.Lock()
	defer g.mu.Unlock()
	cbs := g.onQueueSubmit[commandBuffer]
	delete(g.onQueueSubmit, commandBuffer)
	return cbs
}

// InitCommandBuffer and ClearCommandBuffer back
// AllocateCommandBuffers/FreeCommandBuffers (spec.md §4.G).
func (g *GlobalState) InitCommandBuffer(cb abi.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onEndCommandBuffer[cb] = nil
	g.onQueueSubmit[cb] = nil
}

func (g *GlobalState) ClearCommandBuffer(cb abi.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.onEndCommandBuffer, cb)
	delete(g.onQueueSubmit, cb)
}

// ---- per-call context ----

// DrawInfo is the additional_info payload for a `draw` selector
// (spec.md §4.D). Built fresh by internal/intercept for every
// CmdDraw/CmdDrawIndexed so eval never needs to know about
// internal/shadow's record shapes.
type DrawInfo struct {
	Images          []abi.Handle
	Buffers         []abi.Handle
	Shaders         []abi.Handle
	DescriptorSets  []abi.Handle
	Pipeline        abi.Handle
	Indexed         bool
	ReflectRootType string      // "CmdDrawInfo" or "CmdDrawIndexedInfo"
	ReflectRoot     interface{} // pointer to the synthetic vkreflect struct
	DescriptorLookup func(set abi.Handle, binding, arrIdx int) ([]Value, error)
}

// PipelineInfo is the additional_info payload for a `pipeline` selector.
type PipelineInfo struct {
	ShaderStages    []abi.Handle
	ReflectRootType string // "VkGraphicsPipelineCreateInfo"
	ReflectRoot     interface{}
}

// SwapchainInfo is the additional_info payload for a `swapchain_create`
// selector.
type SwapchainInfo struct {
	ReflectRootType string
	ReflectRoot     interface{}
}

// PresentInfo is the additional_info payload for a `present` selector.
type PresentInfo struct {
	ImageIndices []uint32
}

// ReceiveInfo is the additional_info payload for a `receive` selector.
type ReceiveInfo struct {
	Data []byte
	// ConnectionID is the uuid of the socket/file descriptor that
	// produced this frame, correlating it back to internal/ipc's own
	// per-descriptor log lines.
	ConnectionID string
}

// Context bundles everything one execute_rules call threads through
// condition/data/action evaluation (spec.md §4.D).
type Context struct {
	Global         *GlobalState
	Logger         Logger
	Instance       abi.Handle
	Device         abi.Handle
	CommandBuffer  abi.Handle
	SelectorType   ast.SelectorType
	Handle         abi.Handle // the selector's primary handle
	AdditionalInfo interface{}

	Canceled          bool
	Overrides         []string
	CreationCallbacks []func(handle abi.Handle)
	CustomTag         string
	Disable           func() // set by the firing rule's owner so disable() can flip it off

	Locals map[string]Value

	elemStack      []Value
	idxStack       []int
	reductionStack []Value

	Verbose func(string) // set when the local context has a verbose printer attached

	// IPC is the optional hook into internal/ipc's descriptor table for
	// write()/socket()/server_socket()/close(); nil contexts (e.g. unit
	// tests of pure data expressions) simply fail those actions.
	IPC IPCActions
}

// Logger is the minimal surface eval needs from internal/logging,
// expressed as an interface so this package never imports it directly.
type Logger interface {
	Log(text string)
	Warnf(format string, args ...interface{})
}

// IPCActions is the minimal surface eval needs from internal/ipc.
type IPCActions interface {
	Write(fd int64, data []byte) error
	Socket(fd int64, args []Value) error
	ServerSocket(fd int64, args []Value) error
	Close(fd int64) error
}

// NewContext builds a fresh per-call context. selectorType/handle are
// set by the caller's first execute_rules invocation for this event.
func NewContext(global *GlobalState, logger Logger) *Context {
	return &Context{
		Global: global,
		Logger: logger,
		Locals: map[string]Value{},
	}
}

// pushLocal saves name's prior value (and presence) so it can be
// restored, implementing the "standard restore-on-exit discipline"
// spec.md §4.D requires of every call-style action that introduces new
// locals.
func (c *Context) pushLocal(name string, v Value) (restore func()) {
	old, had := c.Locals[name]
	c.Locals[name] = v
	return func() {
		if had {
			c.Locals[name] = old
		} else {
			delete(c.Locals, name)
		}
	}
}

func (c *Context) local(name string) (Value, bool) {
	v, ok := c.Locals[name]
	return v, ok
}

func (c *Context) localNames() []string {
	names := make([]string, 0, len(c.Locals))
	for n := range c.Locals {
		names = append(names, n)
	}
	return names
}

func (c *Context) pushElement(v Value, idx int) (restore func()) {
	c.elemStack = append(c.elemStack, v)
	c.idxStack = append(c.idxStack, idx)
	return func() {
		c.elemStack = c.elemStack[:len(c.elemStack)-1]
		c.idxStack = c.idxStack[:len(c.idxStack)-1]
	}
}

func (c *Context) currentElement(pos ast.Position) (Value, error) {
	if len(c.elemStack) == 0 {
		return Value{}, ruleErrf(pos, "current_element() used outside map()/reduce()")
	}
	return c.elemStack[len(c.elemStack)-1], nil
}

func (c *Context) currentIndex(pos ast.Position) (Value, error) {
	if len(c.idxStack) == 0 {
		return Value{}, ruleErrf(pos, "current_index() used outside map()")
	}
	return NumberValue(float64(c.idxStack[len(c.idxStack)-1])), nil
}

func (c *Context) pushReduction(v Value) (restore func()) {
	c.reductionStack = append(c.reductionStack, v)
	return func() {
		c.reductionStack = c.reductionStack[:len(c.reductionStack)-1]
	}
}

func (c *Context) currentReduction(pos ast.Position) (Value, error) {
	if len(c.reductionStack) == 0 {
		return Value{}, ruleErrf(pos, "current_reduction() used outside reduce()")
	}
	return c.reductionStack[len(c.reductionStack)-1], nil
}
