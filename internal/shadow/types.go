// Package shadow implements spec.md §3's per-device shadow object store
// and §4.G's record policies: the layer's own bookkeeping of every
// Vulkan object the host application creates, kept in sync with the
// real driver state purely by observing the entry points it calls.
package shadow

import (
	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
)

// BufferRecord is spec.md §3's "Buffer record": creation info, bound
// memory handle, bound memory offset.
type BufferRecord struct {
	Size          vk.DeviceSize
	Usage         vk.BufferUsageFlags
	Memory        abi.Handle
	MemoryOffset  vk.DeviceSize
}

// ImageTiling distinguishes LINEAR from OPTIMAL destination images for
// the image-primer / host-copy fallback (SPEC_FULL.md supplemented
// feature 2).
type ImageTiling int

const (
	TilingOptimal ImageTiling = iota
	TilingLinear
)

// ImageRecord is spec.md §3's "Image record".
type ImageRecord struct {
	Format       vk.Format
	Extent       vk.Extent3D
	MipLevels    uint32
	Tiling       ImageTiling
	Memory       abi.Handle
	MemoryOffset vk.DeviceSize
	View         abi.Handle

	// CachedRGBA holds the decoded top-mip of a substituted texture so
	// lower mips can be re-encoded from it on later uploads of the same
	// image (spec.md §3, §4.H CmdCopyBufferToImage).
	CachedRGBA    []byte
	CachedWidth   int
	CachedHeight  int
}

// MemoryMapping is spec.md §3's "Memory mapping": pointer, offset, size
// currently mapped.
type MemoryMapping struct {
	Ptr    uintptr
	Offset vk.DeviceSize
	Size   vk.DeviceSize
}

// DescriptorKind is the semantic kind a descriptor binding element
// resolves to, before the exact VkDescriptorType is consulted.
type DescriptorKind int

const (
	DescriptorKindImage DescriptorKind = iota
	DescriptorKindBuffer
)

// DescriptorElement is one array slot of a descriptor binding: the
// underlying resource handle plus the originally written descriptor
// info (spec.md §3 invariant on descriptor_sets).
type DescriptorElement struct {
	Handle abi.Handle

	// Image-kind fields.
	ImageLayout vk.ImageLayout
	Sampler     abi.Handle

	// Buffer-kind fields.
	BufferOffset vk.DeviceSize
	BufferRange  vk.DeviceSize
}

// DescriptorBinding is spec.md §3's "Descriptor binding".
type DescriptorBinding struct {
	Kind     DescriptorKind
	VkType   vk.DescriptorType
	Elements []DescriptorElement
}

// DescriptorSetState maps binding number to its DescriptorBinding.
type DescriptorSetState struct {
	Bindings map[uint32]*DescriptorBinding
}

// UpdateTemplateEntry is one verbatim entry captured at
// CreateDescriptorUpdateTemplate, per spec.md §3/§4.G.
type UpdateTemplateEntry struct {
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorCount uint32
	DescriptorType  vk.DescriptorType
	Offset          uintptr
	Stride          uintptr
}

// UpdateTemplate is spec.md §3's "Descriptor update template".
type UpdateTemplate struct {
	Entries []UpdateTemplateEntry
}

// PipelineStage is one entry of spec.md §3's "Pipeline state".
type PipelineStage struct {
	NativeShaderModule abi.Handle
	CustomHandle       abi.Handle
	ContentHash        string
	EntryPoint         string
}

// VertexBinding and VertexAttribute capture just enough of the
// pipeline's vertex input state for rules and dumps to inspect.
type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

// PipelineState is spec.md §3's "Pipeline state".
type PipelineState struct {
	Stages     []PipelineStage
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

// BoundVertexBuffer is one element of CommandBufferState.VertexBuffers.
type BoundVertexBuffer struct {
	Buffer abi.Handle
	Offset vk.DeviceSize
}

// CommandBufferState is spec.md §3's "Command-buffer state".
type CommandBufferState struct {
	BoundPipeline    abi.Handle
	DescriptorSets   []abi.Handle
	DynamicOffsets   []uint32
	VertexBuffers    []BoundVertexBuffer
	IndexBuffer      abi.Handle
	IndexOffset      vk.DeviceSize
	IndexType        vk.IndexType
	Scissors         []vk.Rect2D
	RenderPass       abi.Handle
	Framebuffer      abi.Handle
	XfbActive        bool
	XfbBuffers       []BoundVertexBuffer
}

// FramebufferRecord and SwapchainRecord and PipelineLayoutRecord round
// out the remaining shadow maps spec.md §3 lists; they carry only the
// fields rules or the dump/override pipeline can reasonably need.
type FramebufferRecord struct {
	RenderPass abi.Handle
	Width      uint32
	Height     uint32
	Layers     uint32
}

type SwapchainRecord struct {
	Format      vk.Format
	Extent      vk.Extent2D
	ImageCount  uint32
}

type PipelineLayoutRecord struct {
	SetLayouts []abi.Handle
}
