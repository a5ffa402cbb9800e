// resources.go implements spec.md §4.G: the record-policy mutators for
// every resource-lifecycle entry point that exists purely to keep
// internal/shadow's maps in sync with the driver. None of these fire a
// rule selector themselves — spec.md §4.D fires Image/Buffer selectors
// from the copy commands in commands.go, where content hashing actually
// happens — so every function here is forward-then-record (destroy
// entries: remove the record, then forward).
package intercept

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/shadow"
)

// CreateBuffer forwards to the next layer, then records a BufferRecord
// keyed by the handle the driver returned.
func CreateBuffer(d *device.Device, info *vk.BufferCreateInfo, pBuffer *vk.Buffer, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	d.Shadow.AddBuffer(abi.Of(*pBuffer), &shadow.BufferRecord{
		Size:  info.Size,
		Usage: info.Usage,
	})
	return res
}

func DestroyBuffer(d *device.Device, buffer vk.Buffer, forward func()) {
	d.Shadow.RemoveBuffer(abi.Of(buffer))
	forward()
}

func BindBufferMemory(d *device.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	if err := d.Shadow.BindBufferMemory(abi.Of(buffer), abi.Of(memory), offset); err != nil {
		// Unknown buffer: the error is discarded and not logged (device
		// has no logger); the driver's result is returned unchanged.
		_ = err
	}
	return res
}

// CreateImage records an ImageRecord including the LINEAR-vs-OPTIMAL
// tiling distinction SPEC_FULL.md's image-primer fallback needs.
func CreateImage(d *device.Device, info *vk.ImageCreateInfo, pImage *vk.Image, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	tiling := shadow.TilingOptimal
	if info.Tiling == vk.ImageTilingLinear {
		tiling = shadow.TilingLinear
	}
	d.Shadow.AddImage(abi.Of(*pImage), &shadow.ImageRecord{
		Format:    info.Format,
		Extent:    info.Extent,
		MipLevels: info.MipLevels,
		Tiling:    tiling,
	})
	return res
}

func DestroyImage(d *device.Device, image vk.Image, forward func()) {
	d.Shadow.RemoveImage(abi.Of(image))
	forward()
}

func BindImageMemory(d *device.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	if err := d.Shadow.BindImageMemory(abi.Of(image), abi.Of(memory), offset); err != nil {
		_ = err
	}
	return res
}

func CreateImageView(d *device.Device, info *vk.ImageViewCreateInfo, pView *vk.ImageView, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	imageHandle := abi.Of(info.Image)
	rec, _ := d.Shadow.Image(imageHandle)
	d.Shadow.AddImageView(abi.Of(*pView), imageHandle, rec)
	return res
}

func DestroyImageView(d *device.Device, view vk.ImageView, forward func()) {
	d.Shadow.RemoveImageView(abi.Of(view))
	forward()
}

func CreateFramebuffer(d *device.Device, info *vk.FramebufferCreateInfo, pFramebuffer *vk.Framebuffer, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	d.Shadow.AddFramebuffer(abi.Of(*pFramebuffer), &shadow.FramebufferRecord{
		RenderPass: abi.Of(info.RenderPass),
		Width:      info.Width,
		Height:     info.Height,
		Layers:     info.Layers,
	})
	return res
}

func DestroyFramebuffer(d *device.Device, fb vk.Framebuffer, forward func()) {
	d.Shadow.RemoveFramebuffer(abi.Of(fb))
	forward()
}

func CreateSwapchainKHR(d *device.Device, info *vk.SwapchainCreateInfo, pSwapchain *vk.Swapchain, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	d.Shadow.AddSwapchain(abi.Of(*pSwapchain), &shadow.SwapchainRecord{
		Format:     info.ImageFormat,
		Extent:     info.ImageExtent,
		ImageCount: info.MinImageCount,
	})
	return res
}

func DestroySwapchainKHR(d *device.Device, sc vk.Swapchain, forward func()) {
	d.Shadow.RemoveSwapchain(abi.Of(sc))
	forward()
}

func CreatePipelineLayout(d *device.Device, info *vk.PipelineLayoutCreateInfo, setLayouts []vk.DescriptorSetLayout, pLayout *vk.PipelineLayout, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	layouts := make([]abi.Handle, len(setLayouts))
	for i, l := range setLayouts {
		layouts[i] = abi.Of(l)
	}
	d.Shadow.AddPipelineLayout(abi.Of(*pLayout), &shadow.PipelineLayoutRecord{SetLayouts: layouts})
	return res
}

func DestroyPipelineLayout(d *device.Device, layout vk.PipelineLayout, forward func()) {
	d.Shadow.RemovePipelineLayout(abi.Of(layout))
	forward()
}

// CreateDescriptorUpdateTemplate captures every entry verbatim (spec.md
// §3 "Descriptor update template ... stored verbatim") so
// UpdateDescriptorSetWithTemplate can walk the template's own stride/
// offset layout rather than needing to understand it again.
func CreateDescriptorUpdateTemplate(d *device.Device, info *vk.DescriptorUpdateTemplateCreateInfo, entries []vk.DescriptorUpdateTemplateEntry, pTemplate *vk.DescriptorUpdateTemplate, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	out := make([]shadow.UpdateTemplateEntry, len(entries))
	for i, e := range entries {
		out[i] = shadow.UpdateTemplateEntry{
			DstBinding:      e.DstBinding,
			DstArrayElement: e.DstArrayElement,
			DescriptorCount: e.DescriptorCount,
			DescriptorType:  e.DescriptorType,
			Offset:          uintptr(e.Offset),
			Stride:          uintptr(e.Stride),
		}
	}
	d.Shadow.AddUpdateTemplate(abi.Of(*pTemplate), &shadow.UpdateTemplate{Entries: out})
	return res
}

func DestroyDescriptorUpdateTemplate(d *device.Device, tmpl vk.DescriptorUpdateTemplate, forward func()) {
	d.Shadow.RemoveUpdateTemplate(abi.Of(tmpl))
	forward()
}

// UpdateDescriptorSetWithTemplate walks pData using the template's
// recorded entry layout to refresh internal/shadow's per-binding
// DescriptorElement records (spec.md §3's descriptor_sets invariant:
// "each array slot's underlying resource handle is tracked") before
// forwarding pData untouched to the driver — this layer never rewrites
// descriptor content, only observes it.
func UpdateDescriptorSetWithTemplate(d *device.Device, set vk.DescriptorSet, tmpl vk.DescriptorUpdateTemplate, pData unsafe.Pointer, forward func()) {
	forward()
	t, ok := d.Shadow.UpdateTemplate(abi.Of(tmpl))
	if !ok || pData == nil {
		return
	}
	st := d.Shadow.DescriptorSet(abi.Of(set))
	base := uintptr(pData)
	for _, e := range t.Entries {
		binding, ok := st.Bindings[e.DstBinding]
		if !ok {
			binding = &shadow.DescriptorBinding{VkType: e.DescriptorType, Kind: descriptorKindOf(e.DescriptorType)}
			st.Bindings[e.DstBinding] = binding
		}
		for i := uint32(0); i < e.DescriptorCount; i++ {
			entryAddr := base + e.Offset + uintptr(i)*e.Stride
			elem := readDescriptorElement(binding.Kind, entryAddr)
			if binding.Kind == shadow.DescriptorKindImage {
				// The payload names a view; record the image behind it.
				if img, ok := d.Shadow.ImageForView(elem.Handle); ok {
					elem.Handle = img
				}
			}
			idx := int(e.DstArrayElement) + int(i)
			for len(binding.Elements) <= idx {
				binding.Elements = append(binding.Elements, shadow.DescriptorElement{})
			}
			binding.Elements[idx] = elem
		}
	}
}

func descriptorKindOf(t vk.DescriptorType) shadow.DescriptorKind {
	switch t {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeUniformBufferDynamic, vk.DescriptorTypeStorageBufferDynamic:
		return shadow.DescriptorKindBuffer
	default:
		return shadow.DescriptorKindImage
	}
}

// readDescriptorElement reinterprets the raw template payload at addr as
// whichever of VkDescriptorImageInfo/VkDescriptorBufferInfo the binding
// kind implies — the two structs this layer ever needs to read out of a
// template-driven update, per spec.md §3.
func readDescriptorElement(kind shadow.DescriptorKind, addr uintptr) shadow.DescriptorElement {
	switch kind {
	case shadow.DescriptorKindBuffer:
		info := (*vk.DescriptorBufferInfo)(unsafe.Pointer(addr))
		return shadow.DescriptorElement{
			Handle:       abi.Of(info.Buffer),
			BufferOffset: info.Offset,
			BufferRange:  info.Range,
		}
	default:
		info := (*vk.DescriptorImageInfo)(unsafe.Pointer(addr))
		return shadow.DescriptorElement{
			Handle:      abi.Of(info.ImageView),
			ImageLayout: info.ImageLayout,
			Sampler:     abi.Of(info.Sampler),
		}
	}
}

// MapMemory records the mapping (spec.md §3 "Memory mapping") only after
// a successful forward, since a failed vkMapMemory leaves *ppData
// undefined.
func MapMemory(d *device.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize, ppData *unsafe.Pointer, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	d.Shadow.AddMapping(abi.Of(memory), &shadow.MemoryMapping{
		Ptr:    uintptr(*ppData),
		Offset: offset,
		Size:   size,
	})
	return res
}

func UnmapMemory(d *device.Device, memory vk.DeviceMemory, forward func()) {
	d.Shadow.RemoveMapping(abi.Of(memory))
	forward()
}

// AllocateCommandBuffers initialises fresh CommandBufferState for every
// handle the driver returns (spec.md §4.G); the caller (layer_hooks.go)
// initialises the eval GlobalState's deferred-callback lists for them.
func AllocateCommandBuffers(d *device.Device, buffers []vk.CommandBuffer, forward func() vk.Result) vk.Result {
	res := forward()
	if res != vk.Success {
		return res
	}
	for _, cb := range buffers {
		d.Shadow.InitCommandBufferState(abi.Of(cb))
	}
	return res
}

// FreeCommandBuffers tears down tracking state before forwarding, since
// the handles are invalid to reference afterward. clearCallbacks is called
// per handle so the caller (layer_hooks.go) can also drop the eval
// GlobalState deferred-callback lists, which live on the Instance rather
// than the Device.
func FreeCommandBuffers(d *device.Device, buffers []vk.CommandBuffer, clearCallbacks func(abi.Handle), forward func()) {
	for _, cb := range buffers {
		h := abi.Of(cb)
		d.Shadow.FreeCommandBufferState(h)
		if clearCallbacks != nil {
			clearCallbacks(h)
		}
	}
	forward()
}
