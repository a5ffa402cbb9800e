// Package instance implements the Instance half of spec.md §3: the
// per-VkInstance aggregate owning configuration, the rule program, the
// override cache, the global rule context and every Device created
// under it. spec.md §9: "Global mutable state ... lives inside the
// Instance struct and is reached through the dispatch-key lookup; no
// true globals are needed except the instance-map itself" — that
// instance-map is internal/dispatch.Global plus the Registry below.
package instance

import (
	"sync"
	"sync/atomic"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/assets"
	"github.com/glasslayer/vkhook/internal/config"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/dispatch"
	"github.com/glasslayer/vkhook/internal/hashcache"
	"github.com/glasslayer/vkhook/internal/ipc"
	"github.com/glasslayer/vkhook/internal/logging"
	"github.com/glasslayer/vkhook/internal/plugins"
	"github.com/glasslayer/vkhook/internal/rules/ast"
	"github.com/glasslayer/vkhook/internal/rules/eval"
)

var nextID uint64

// Capabilities is spec.md §3's "computed capability flags": a
// per-selector-type bit cached at load time (and recomputed whenever a
// rule disables itself) so hot paths like CmdDraw can skip rule
// evaluation entirely when no rule could possibly match.
type Capabilities struct {
	mu            sync.RWMutex
	hasRules      map[ast.SelectorType]bool
	hookDrawCalls bool
}

func newCapabilities(program *ast.Program, hookDraw bool) *Capabilities {
	c := &Capabilities{hasRules: make(map[ast.SelectorType]bool), hookDrawCalls: hookDraw}
	c.Recompute(program)
	return c
}

// Recompute rescans program (e.g. after a rule's disable() action
// fires) and updates the per-selector-type flags.
func (c *Capabilities) Recompute(program *ast.Program) {
	fresh := make(map[ast.SelectorType]bool, len(ast.ValidSelectorTypes))
	for _, r := range program.Rules {
		if r.Disabled {
			continue
		}
		fresh[r.Selector.Type] = true
	}
	c.mu.Lock()
	c.hasRules = fresh
	c.mu.Unlock()
}

func (c *Capabilities) HasRules(t ast.SelectorType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasRules[t]
}

func (c *Capabilities) HookDrawCalls() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hookDrawCalls
}

// Instance is spec.md §3's per-VkInstance record.
type Instance struct {
	// Mu is the single instance-wide mutex spec.md §5 mandates: it
	// serialises shadow-map mutations, the entire rule-evaluation path,
	// and the reader-thread's dispatch into ExecuteRules. internal/
	// intercept holds it for the duration of every hooked entry point
	// that touches shadow state or rules.
	Mu sync.Mutex

	ID     uint64
	Native abi.Handle
	Table  *dispatch.InstanceTable

	Config  *config.Config
	Program *ast.Program
	Caps    *Capabilities

	Overrides    *hashcache.Cache
	Global       *eval.GlobalState
	Logger       *logging.Logger
	IPC          *ipc.Table
	CompileCache *assets.CompileCache
	Disassembler assets.Disassembler
	Plugins      *plugins.Loader

	devicesMu sync.RWMutex
	devices   map[abi.Handle]*device.Device
}

// New allocates a fresh Instance with an auto-incrementing id (spec.md
// §3: "Unique integer id").
func New(native abi.Handle, table *dispatch.InstanceTable, cfg *config.Config, program *ast.Program) *Instance {
	id := atomic.AddUint64(&nextID, 1)
	return &Instance{
		ID:           id,
		Native:       native,
		Table:        table,
		Config:       cfg,
		Program:      program,
		Caps:         newCapabilities(program, cfg.HookDraw),
		Global:       eval.NewGlobalState(),
		CompileCache: assets.NewCompileCache(nil),
		devices:      make(map[abi.Handle]*device.Device),
	}
}

// AddDevice records a freshly created Device under its native handle.
func (inst *Instance) AddDevice(native abi.Handle, d *device.Device) {
	inst.devicesMu.Lock()
	defer inst.devicesMu.Unlock()
	inst.devices[native] = d
}

// Device looks up a previously created Device by native handle.
func (inst *Instance) Device(native abi.Handle) (*device.Device, bool) {
	inst.devicesMu.RLock()
	defer inst.devicesMu.RUnlock()
	d, ok := inst.devices[native]
	return d, ok
}

// RemoveDevice drops native from this instance's child set, called from
// DestroyDevice.
func (inst *Instance) RemoveDevice(native abi.Handle) {
	inst.devicesMu.Lock()
	defer inst.devicesMu.Unlock()
	delete(inst.devices, native)
}

// Devices returns a snapshot of every live child Device, used by
// DestroyInstance to tear each one down before the instance itself goes
// away.
func (inst *Instance) Devices() []*device.Device {
	inst.devicesMu.RLock()
	defer inst.devicesMu.RUnlock()
	out := make([]*device.Device, 0, len(inst.devices))
	for _, d := range inst.devices {
		out = append(out, d)
	}
	return out
}

// Registry is the process-wide id -> Instance map spec.md §9 calls for:
// "represent Instance/Device as owned structs kept in a process-wide
// map indexed by the dispatch key". Instances are additionally indexed
// by dispatch key via internal/dispatch.Global (which stores the PFN
// tables); this registry stores the richer Instance/Device aggregates
// dispatch.Registry intentionally knows nothing about, keeping F (pure
// function-pointer plumbing) decoupled from L (lifecycle state).
type Registry struct {
	mu        sync.RWMutex
	instances map[uintptr]*Instance
}

// Global is the single process-wide instance registry.
var Global = &Registry{instances: make(map[uintptr]*Instance)}

func (r *Registry) Put(dispatchKey uintptr, inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[dispatchKey] = inst
}

func (r *Registry) Get(dispatchKey uintptr) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[dispatchKey]
	return inst, ok
}

func (r *Registry) Delete(dispatchKey uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, dispatchKey)
}

// Snapshot returns every live Instance. layer.go's CreateDevice/
// DestroyDevice trampolines use this to find the Instance owning a
// VkPhysicalDevice/VkDevice the loader handed them, since neither carries
// its owning VkInstance directly.
func (r *Registry) Snapshot() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}
