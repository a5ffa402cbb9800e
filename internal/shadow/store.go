package shadow

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
)

// Store is spec.md §3's per-Device collection of shadow maps, all keyed
// by native Vulkan handle, plus the §4.G record-policy mutators every
// hooked entry point in internal/intercept calls. Callers already hold
// the instance-wide mutex (spec.md §5) while calling into Store; the
// mutex here is the same cheap defense-in-depth internal/rules/eval's
// GlobalState carries, not a substitute for it.
type Store struct {
	mu sync.Mutex

	buffers      map[abi.Handle]*BufferRecord
	images       map[abi.Handle]*ImageRecord
	imageViewToImage map[abi.Handle]abi.Handle
	memoryMappings   map[abi.Handle]*MemoryMapping
	framebuffers map[abi.Handle]*FramebufferRecord
	swapchains   map[abi.Handle]*SwapchainRecord
	pipelineLayouts map[abi.Handle]*PipelineLayoutRecord
	pipelines    map[abi.Handle]*PipelineState
	descriptorUpdateTemplates map[abi.Handle]*UpdateTemplate
	descriptorSets map[abi.Handle]*DescriptorSetState
	commandBuffers map[abi.Handle]*CommandBufferState

	// nextShaderID/freeShaderIDs are the "custom" shader id allocator
	// (spec.md §3 Device): a free-list over small integers so ids stay
	// compact. An id released by ReleaseShaderID is handed out again, so
	// ids are not monotonic over a device's lifetime. Modeled after the
	// teacher's engine/core/identifier.go slot-reusing allocator.
	nextShaderID abi.Handle
	freeShaderIDs []abi.Handle
	nativeToCustom map[abi.Handle]abi.Handle
	customToNative map[abi.Handle]abi.Handle
}

// NewStore returns an empty shadow store for a freshly created device.
func NewStore() *Store {
	return &Store{
		buffers:                   make(map[abi.Handle]*BufferRecord),
		images:                    make(map[abi.Handle]*ImageRecord),
		imageViewToImage:          make(map[abi.Handle]abi.Handle),
		memoryMappings:            make(map[abi.Handle]*MemoryMapping),
		framebuffers:              make(map[abi.Handle]*FramebufferRecord),
		swapchains:                make(map[abi.Handle]*SwapchainRecord),
		pipelineLayouts:           make(map[abi.Handle]*PipelineLayoutRecord),
		pipelines:                 make(map[abi.Handle]*PipelineState),
		descriptorUpdateTemplates: make(map[abi.Handle]*UpdateTemplate),
		descriptorSets:            make(map[abi.Handle]*DescriptorSetState),
		commandBuffers:            make(map[abi.Handle]*CommandBufferState),
		nativeToCustom:            make(map[abi.Handle]abi.Handle),
		customToNative:            make(map[abi.Handle]abi.Handle),
	}
}

// ---- buffers ----

func (s *Store) AddBuffer(h abi.Handle, rec *BufferRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[h] = rec
}

func (s *Store) Buffer(h abi.Handle) (*BufferRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.buffers[h]
	return r, ok
}

// BindBufferMemory updates the record's memory/offset fields, per
// spec.md §4.G. A missing record is a warning, not an error: the
// application could have bound memory to a handle this layer never saw
// created (should not happen, but destruction races are the host's to
// avoid, not ours to validate).
func (s *Store) BindBufferMemory(h abi.Handle, memory abi.Handle, offset vk.DeviceSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.buffers[h]
	if !ok {
		return fmt.Errorf("shadow: BindBufferMemory on unknown buffer %#x", h)
	}
	r.Memory = memory
	r.MemoryOffset = offset
	return nil
}

func (s *Store) RemoveBuffer(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buffers[h]
	delete(s.buffers, h)
	return ok
}

// ---- images ----

func (s *Store) AddImage(h abi.Handle, rec *ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[h] = rec
}

func (s *Store) Image(h abi.Handle) (*ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.images[h]
	return r, ok
}

func (s *Store) BindImageMemory(h abi.Handle, memory abi.Handle, offset vk.DeviceSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.images[h]
	if !ok {
		return fmt.Errorf("shadow: BindImageMemory on unknown image %#x", h)
	}
	r.Memory = memory
	r.MemoryOffset = offset
	return nil
}

// SetImageCache records the decoded top-mip RGBA for an overridden
// texture (spec.md §3 Image record, §4.H CmdCopyBufferToImage mip
// re-encode path).
func (s *Store) SetImageCache(h abi.Handle, rgba []byte, w, h2 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.images[h]
	if !ok {
		return
	}
	r.CachedRGBA = rgba
	r.CachedWidth = w
	r.CachedHeight = h2
}

func (s *Store) RemoveImage(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images[h]
	delete(s.images, h)
	return ok
}

// ---- image views ----

func (s *Store) AddImageView(view, image abi.Handle, record *ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageViewToImage[view] = image
	if record != nil {
		record.View = view
	}
}

func (s *Store) ImageForView(view abi.Handle) (abi.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.imageViewToImage[view]
	return img, ok
}

func (s *Store) RemoveImageView(view abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.imageViewToImage[view]
	delete(s.imageViewToImage, view)
	return ok
}

// ---- memory mappings ----

func (s *Store) AddMapping(memory abi.Handle, m *MemoryMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryMappings[memory] = m
}

func (s *Store) Mapping(memory abi.Handle) (*MemoryMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memoryMappings[memory]
	return m, ok
}

func (s *Store) RemoveMapping(memory abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.memoryMappings[memory]
	delete(s.memoryMappings, memory)
	return ok
}

// ---- framebuffers / swapchains / pipeline layouts ----

func (s *Store) AddFramebuffer(h abi.Handle, rec *FramebufferRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framebuffers[h] = rec
}

func (s *Store) Framebuffer(h abi.Handle) (*FramebufferRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.framebuffers[h]
	return r, ok
}

func (s *Store) RemoveFramebuffer(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.framebuffers[h]
	delete(s.framebuffers, h)
	return ok
}

func (s *Store) AddSwapchain(h abi.Handle, rec *SwapchainRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapchains[h] = rec
}

func (s *Store) Swapchain(h abi.Handle) (*SwapchainRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.swapchains[h]
	return r, ok
}

func (s *Store) RemoveSwapchain(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.swapchains[h]
	delete(s.swapchains, h)
	return ok
}

func (s *Store) AddPipelineLayout(h abi.Handle, rec *PipelineLayoutRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelineLayouts[h] = rec
}

func (s *Store) PipelineLayout(h abi.Handle) (*PipelineLayoutRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pipelineLayouts[h]
	return r, ok
}

func (s *Store) RemovePipelineLayout(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pipelineLayouts[h]
	delete(s.pipelineLayouts, h)
	return ok
}

// ---- pipelines ----

func (s *Store) AddPipeline(h abi.Handle, state *PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[h] = state
}

func (s *Store) Pipeline(h abi.Handle) (*PipelineState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pipelines[h]
	return r, ok
}

func (s *Store) RemovePipeline(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pipelines[h]
	delete(s.pipelines, h)
	return ok
}

// ---- descriptor update templates / sets ----

func (s *Store) AddUpdateTemplate(h abi.Handle, t *UpdateTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptorUpdateTemplates[h] = t
}

func (s *Store) UpdateTemplate(h abi.Handle) (*UpdateTemplate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.descriptorUpdateTemplates[h]
	return t, ok
}

func (s *Store) RemoveUpdateTemplate(h abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.descriptorUpdateTemplates[h]
	delete(s.descriptorUpdateTemplates, h)
	return ok
}

// DescriptorSet returns (creating if absent) the live binding map for
// set, so UpdateDescriptorSetWithTemplate always has something to write
// into even for sets allocated before this layer started tracking
// descriptor writes.
func (s *Store) DescriptorSet(set abi.Handle) *DescriptorSetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.descriptorSets[set]
	if !ok {
		st = &DescriptorSetState{Bindings: make(map[uint32]*DescriptorBinding)}
		s.descriptorSets[set] = st
	}
	return st
}

func (s *Store) RemoveDescriptorSet(set abi.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.descriptorSets[set]
	delete(s.descriptorSets, set)
	return ok
}

// ---- command buffers ----

// InitCommandBufferState creates empty tracking state for a freshly
// allocated command buffer (spec.md §4.G AllocateCommandBuffers).
func (s *Store) InitCommandBufferState(cb abi.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandBuffers[cb] = &CommandBufferState{}
}

func (s *Store) CommandBufferState(cb abi.Handle) (*CommandBufferState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.commandBuffers[cb]
	return st, ok
}

// FreeCommandBufferState removes the state for cb (spec.md §4.G
// FreeCommandBuffers); the caller is also responsible for clearing the
// deferred-callback lists via eval.GlobalState.ClearCommandBuffer.
func (s *Store) FreeCommandBufferState(cb abi.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.commandBuffers, cb)
}

// ---- custom shader ids ----

// AllocateShaderID assigns a fresh or recycled custom shader id for a
// newly created native shader module (spec.md §3 "Shader bookkeeping").
func (s *Store) AllocateShaderID(native abi.Handle) abi.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id abi.Handle
	if n := len(s.freeShaderIDs); n > 0 {
		id = s.freeShaderIDs[n-1]
		s.freeShaderIDs = s.freeShaderIDs[:n-1]
	} else {
		s.nextShaderID++
		id = s.nextShaderID
	}
	s.nativeToCustom[native] = id
	s.customToNative[id] = native
	return id
}

// ReleaseShaderID frees id back to the pool and drops the native
// association, called at DestroyShaderModule.
func (s *Store) ReleaseShaderID(native abi.Handle) (abi.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.nativeToCustom[native]
	if !ok {
		return 0, false
	}
	delete(s.nativeToCustom, native)
	delete(s.customToNative, id)
	s.freeShaderIDs = append(s.freeShaderIDs, id)
	return id, true
}

func (s *Store) CustomShaderID(native abi.Handle) (abi.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.nativeToCustom[native]
	return id, ok
}

// ---- command-buffer field mutators (spec.md §4.G Cmd* policies) ----

func (s *Store) BindPipeline(cb, pipeline abi.Handle) {
	s.withCB(cb, func(st *CommandBufferState) { st.BoundPipeline = pipeline })
}

func (s *Store) BindDescriptorSets(cb abi.Handle, sets []abi.Handle, dynamicOffsets []uint32) {
	s.withCB(cb, func(st *CommandBufferState) {
		st.DescriptorSets = sets
		st.DynamicOffsets = dynamicOffsets
	})
}

func (s *Store) BindVertexBuffers(cb abi.Handle, buffers []BoundVertexBuffer) {
	s.withCB(cb, func(st *CommandBufferState) { st.VertexBuffers = buffers })
}

func (s *Store) BindIndexBuffer(cb, buffer abi.Handle, offset vk.DeviceSize, indexType vk.IndexType) {
	s.withCB(cb, func(st *CommandBufferState) {
		st.IndexBuffer = buffer
		st.IndexOffset = offset
		st.IndexType = indexType
	})
}

func (s *Store) SetScissor(cb abi.Handle, scissors []vk.Rect2D) {
	s.withCB(cb, func(st *CommandBufferState) { st.Scissors = scissors })
}

func (s *Store) BeginRenderPass(cb, renderPass, framebuffer abi.Handle) {
	s.withCB(cb, func(st *CommandBufferState) {
		st.RenderPass = renderPass
		st.Framebuffer = framebuffer
	})
}

func (s *Store) EndRenderPass(cb abi.Handle) {
	s.withCB(cb, func(st *CommandBufferState) {
		st.RenderPass = 0
		st.Framebuffer = 0
	})
}

func (s *Store) BeginTransformFeedback(cb abi.Handle) {
	s.withCB(cb, func(st *CommandBufferState) { st.XfbActive = true })
}

func (s *Store) EndTransformFeedback(cb abi.Handle) {
	s.withCB(cb, func(st *CommandBufferState) { st.XfbActive = false })
}

func (s *Store) BindTransformFeedbackBuffers(cb abi.Handle, buffers []BoundVertexBuffer) {
	s.withCB(cb, func(st *CommandBufferState) { st.XfbBuffers = buffers })
}

func (s *Store) withCB(cb abi.Handle, fn func(*CommandBufferState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.commandBuffers[cb]
	if !ok {
		// A Cmd* call against a command buffer this layer never saw
		// allocated means AllocateCommandBuffers was missed (loader
		// bug, or secondary buffers not yet forwarded through this
		// path) — create state lazily so rules still see something
		// sane rather than panicking the host's draw loop.
		st = &CommandBufferState{}
		s.commandBuffers[cb] = st
	}
	fn(st)
}
