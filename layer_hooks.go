package main

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/dispatch"
	"github.com/glasslayer/vkhook/internal/instance"
	"github.com/glasslayer/vkhook/internal/intercept"
	"github.com/glasslayer/vkhook/internal/shadow"
)

// deviceCtx bundles the three things almost every per-device hook below
// needs: the owning Instance (rules, config, logger), the Device
// (shadow store, transfer state) and the resolved DeviceTable (the
// real PFNs to forward through).
type deviceCtx struct {
	inst  *instance.Instance
	dev   *device.Device
	table *dispatch.DeviceTable
}

func resolveDevice(native vk.Device) (deviceCtx, bool) {
	inst, d, ok := lookupDevice(native)
	if !ok {
		return deviceCtx{}, false
	}
	table, ok := dispatch.Global.Device(abi.DispatchKey(unsafe.Pointer(&native)))
	if !ok {
		return deviceCtx{}, false
	}
	return deviceCtx{inst: inst, dev: d, table: table}, true
}

// ---- GetDeviceQueue / queue family queries (spec.md §3, §9 Open Questions) ----

//export vkGetDeviceQueue
func vkGetDeviceQueue(deviceHandle vk.Device, queueFamilyIndex, queueIndex uint32, pQueue *vk.Queue) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	dc.table.GetDeviceQueue(deviceHandle, queueFamilyIndex, queueIndex, pQueue)
	intercept.GetDeviceQueue(dc.dev, queueFamilyIndex, func(family uint32) (*device.Transfer, error) {
		return createTransfer(dc, family, *pQueue)
	})
}

// createTransfer allocates the transfer queue/pool/command-buffer/fence
// quadruple spec.md §3 describes, called at most once per device via
// device.Device.EnsureTransfer. Every allocation goes through dc.table's
// resolved PFNs rather than any globally-linked entry point: calling
// back into the loader's own public symbols from inside a hooked
// function would re-enter this same layer.
func createTransfer(dc deviceCtx, family uint32, queue vk.Queue) (*device.Transfer, error) {
	deviceHandle := vk.Device(dc.dev.Native)

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if dc.table.CreateCommandPool(deviceHandle, &poolInfo, nil, &pool) != vk.Success {
		return nil, errCreateTransfer("command pool")
	}
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	var cb vk.CommandBuffer
	if dc.table.AllocateCommandBuffers(deviceHandle, &allocInfo, &cb) != vk.Success {
		return nil, errCreateTransfer("command buffer")
	}
	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if dc.table.CreateFence(deviceHandle, &fenceInfo, nil, &fence) != vk.Success {
		return nil, errCreateTransfer("fence")
	}
	return &device.Transfer{Queue: queue, Pool: pool, CommandBuffer: cb, Fence: fence, FamilyIndex: family}, nil
}

func errCreateTransfer(what string) error {
	return &transferError{what}
}

type transferError struct{ what string }

func (e *transferError) Error() string { return "create transfer " + e.what + " failed" }

//export vkGetPhysicalDeviceQueueFamilyProperties
func vkGetPhysicalDeviceQueueFamilyProperties(physicalDevice vk.PhysicalDevice, pCount *uint32, pProperties unsafe.Pointer) {
	inst, ok := lookupOwningInstance(physicalDevice)
	if !ok {
		return
	}
	var props []vk.QueueFamilyProperties
	if pProperties != nil && pCount != nil {
		props = unsafe.Slice((*vk.QueueFamilyProperties)(pProperties), *pCount)
	}
	intercept.GetPhysicalDeviceQueueFamilyProperties(inst, physicalDevice, pCount, props, func() {
		inst.Table.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, pCount, props)
	})
}

//export vkGetPhysicalDeviceQueueFamilyProperties2
func vkGetPhysicalDeviceQueueFamilyProperties2(physicalDevice vk.PhysicalDevice, pCount *uint32, pProperties unsafe.Pointer) {
	// Same SingleQueueFamily override as the non-"2" entry (spec.md §9
	// Open Question); the "2" variant's pQueueFamilyProperties2 array
	// carries an extra pNext per entry this layer never inspects, so the
	// override only needs to clamp the count.
	inst, ok := lookupOwningInstance(physicalDevice)
	if !ok {
		return
	}
	inst.Table.GetPhysicalDeviceQueueFamilyProperties2(physicalDevice, pCount, pProperties)
	if inst.Config.SingleQueueFamily && pProperties != nil && pCount != nil && *pCount > 1 {
		*pCount = 1
	}
}

// ---- resource create/destroy/bind (spec.md §4.G) ----

//export vkCreateBuffer
func vkCreateBuffer(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pBuffer *vk.Buffer) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.BufferCreateInfo)(pCreateInfo)
	return intercept.CreateBuffer(dc.dev, info, pBuffer, func() vk.Result {
		return dc.table.CreateBuffer(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pBuffer)
	})
}

//export vkDestroyBuffer
func vkDestroyBuffer(deviceHandle vk.Device, buffer vk.Buffer, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyBuffer(dc.dev, buffer, func() {
		dc.table.DestroyBuffer(deviceHandle, buffer, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkBindBufferMemory
func vkBindBufferMemory(deviceHandle vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	return intercept.BindBufferMemory(dc.dev, buffer, memory, offset, func() vk.Result {
		return dc.table.BindBufferMemory(deviceHandle, buffer, memory, offset)
	})
}

//export vkCreateImage
func vkCreateImage(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pImage *vk.Image) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.ImageCreateInfo)(pCreateInfo)
	return intercept.CreateImage(dc.dev, info, pImage, func() vk.Result {
		return dc.table.CreateImage(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pImage)
	})
}

//export vkDestroyImage
func vkDestroyImage(deviceHandle vk.Device, image vk.Image, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyImage(dc.dev, image, func() {
		dc.table.DestroyImage(deviceHandle, image, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkBindImageMemory
func vkBindImageMemory(deviceHandle vk.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	return intercept.BindImageMemory(dc.dev, image, memory, offset, func() vk.Result {
		return dc.table.BindImageMemory(deviceHandle, image, memory, offset)
	})
}

//export vkCreateImageView
func vkCreateImageView(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pView *vk.ImageView) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.ImageViewCreateInfo)(pCreateInfo)
	return intercept.CreateImageView(dc.dev, info, pView, func() vk.Result {
		return dc.table.CreateImageView(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pView)
	})
}

//export vkDestroyImageView
func vkDestroyImageView(deviceHandle vk.Device, view vk.ImageView, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyImageView(dc.dev, view, func() {
		dc.table.DestroyImageView(deviceHandle, view, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateFramebuffer
func vkCreateFramebuffer(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pFramebuffer *vk.Framebuffer) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.FramebufferCreateInfo)(pCreateInfo)
	return intercept.CreateFramebuffer(dc.dev, info, pFramebuffer, func() vk.Result {
		return dc.table.CreateFramebuffer(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pFramebuffer)
	})
}

//export vkDestroyFramebuffer
func vkDestroyFramebuffer(deviceHandle vk.Device, fb vk.Framebuffer, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyFramebuffer(dc.dev, fb, func() {
		dc.table.DestroyFramebuffer(deviceHandle, fb, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateSwapchainKHR
func vkCreateSwapchainKHR(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pSwapchain *vk.Swapchain) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.SwapchainCreateInfo)(pCreateInfo)
	return intercept.CreateSwapchainKHR(dc.dev, info, pSwapchain, func() vk.Result {
		return dc.table.CreateSwapchainKHR(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pSwapchain)
	})
}

//export vkDestroySwapchainKHR
func vkDestroySwapchainKHR(deviceHandle vk.Device, sc vk.Swapchain, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroySwapchainKHR(dc.dev, sc, func() {
		dc.table.DestroySwapchainKHR(deviceHandle, sc, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreatePipelineLayout
func vkCreatePipelineLayout(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pLayout *vk.PipelineLayout) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.PipelineLayoutCreateInfo)(pCreateInfo)
	setLayouts := unsafe.Slice(info.PSetLayouts, info.SetLayoutCount)
	return intercept.CreatePipelineLayout(dc.dev, info, setLayouts, pLayout, func() vk.Result {
		return dc.table.CreatePipelineLayout(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pLayout)
	})
}

//export vkDestroyPipelineLayout
func vkDestroyPipelineLayout(deviceHandle vk.Device, layout vk.PipelineLayout, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyPipelineLayout(dc.dev, layout, func() {
		dc.table.DestroyPipelineLayout(deviceHandle, layout, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateGraphicsPipelines
func vkCreateGraphicsPipelines(deviceHandle vk.Device, pipelineCache vk.PipelineCache, createInfoCount uint32, pCreateInfos, pAllocator unsafe.Pointer, pPipelines *vk.Pipeline) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	infos := unsafe.Slice((*vk.GraphicsPipelineCreateInfo)(pCreateInfos), createInfoCount)
	pipelines := unsafe.Slice(pPipelines, createInfoCount)
	return intercept.CreateGraphicsPipelines(dc.inst, dc.dev, infos, pipelines,
		func(infos []vk.GraphicsPipelineCreateInfo, pipelines []vk.Pipeline) vk.Result {
			return dc.table.CreateGraphicsPipelines(deviceHandle, pipelineCache, uint32(len(infos)),
				(*vk.GraphicsPipelineCreateInfo)(unsafe.Pointer(&infos[0])),
				(*vk.AllocationCallbacks)(pAllocator),
				(*vk.Pipeline)(unsafe.Pointer(&pipelines[0])))
		})
}

//export vkDestroyPipeline
func vkDestroyPipeline(deviceHandle vk.Device, pipeline vk.Pipeline, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyPipeline(dc.dev, pipeline, func() {
		dc.table.DestroyPipeline(deviceHandle, pipeline, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateShaderModule
func vkCreateShaderModule(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pModule *vk.ShaderModule) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.ShaderModuleCreateInfo)(pCreateInfo)
	code := unsafe.Slice(info.PCode, info.CodeSize/4)
	module, res := intercept.CreateShaderModule(dc.inst, dc.dev, code, dc.inst.CompileCache,
		func(finalCode []uint32) (vk.ShaderModule, vk.Result) {
			final := *info
			if len(finalCode) > 0 {
				final.PCode = &finalCode[0]
				final.CodeSize = vk.DeviceSize(len(finalCode) * 4)
			}
			var out vk.ShaderModule
			r := dc.table.CreateShaderModule(deviceHandle, &final, (*vk.AllocationCallbacks)(pAllocator), &out)
			return out, r
		})
	*pModule = module
	return res
}

//export vkDestroyShaderModule
func vkDestroyShaderModule(deviceHandle vk.Device, module vk.ShaderModule, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyShaderModule(dc.dev, module, func() {
		dc.table.DestroyShaderModule(deviceHandle, module, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateDescriptorUpdateTemplate
func vkCreateDescriptorUpdateTemplate(deviceHandle vk.Device, pCreateInfo, pAllocator unsafe.Pointer, pTemplate *vk.DescriptorUpdateTemplate) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.DescriptorUpdateTemplateCreateInfo)(pCreateInfo)
	entries := unsafe.Slice(info.PDescriptorUpdateEntries, info.DescriptorUpdateEntryCount)
	return intercept.CreateDescriptorUpdateTemplate(dc.dev, info, entries, pTemplate, func() vk.Result {
		return dc.table.CreateDescriptorUpdateTemplate(deviceHandle, info, (*vk.AllocationCallbacks)(pAllocator), pTemplate)
	})
}

//export vkDestroyDescriptorUpdateTemplate
func vkDestroyDescriptorUpdateTemplate(deviceHandle vk.Device, tmpl vk.DescriptorUpdateTemplate, pAllocator unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.DestroyDescriptorUpdateTemplate(dc.dev, tmpl, func() {
		dc.table.DestroyDescriptorUpdateTemplate(deviceHandle, tmpl, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkUpdateDescriptorSetWithTemplate
func vkUpdateDescriptorSetWithTemplate(deviceHandle vk.Device, set vk.DescriptorSet, tmpl vk.DescriptorUpdateTemplate, pData unsafe.Pointer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.UpdateDescriptorSetWithTemplate(dc.dev, set, tmpl, pData, func() {
		dc.table.UpdateDescriptorSetWithTemplate(deviceHandle, set, tmpl, pData)
	})
}

// ---- command buffer allocation, mapping (spec.md §4.G) ----

//export vkAllocateCommandBuffers
func vkAllocateCommandBuffers(deviceHandle vk.Device, pAllocateInfo unsafe.Pointer, pCommandBuffers *vk.CommandBuffer) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.CommandBufferAllocateInfo)(pAllocateInfo)
	buffers := unsafe.Slice(pCommandBuffers, info.CommandBufferCount)
	res := intercept.AllocateCommandBuffers(dc.dev, buffers, func() vk.Result {
		return dc.table.AllocateCommandBuffers(deviceHandle, info, pCommandBuffers)
	})
	if res == vk.Success {
		for _, cb := range buffers {
			dc.inst.Global.InitCommandBuffer(abi.Of(cb))
		}
	}
	return res
}

//export vkFreeCommandBuffers
func vkFreeCommandBuffers(deviceHandle vk.Device, pool vk.CommandPool, count uint32, pCommandBuffers *vk.CommandBuffer) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	buffers := unsafe.Slice(pCommandBuffers, count)
	intercept.FreeCommandBuffers(dc.dev, buffers, func(h abi.Handle) {
		dc.inst.Global.ClearCommandBuffer(h)
	}, func() {
		dc.table.FreeCommandBuffers(deviceHandle, pool, count, pCommandBuffers)
	})
}

//export vkEndCommandBuffer
func vkEndCommandBuffer(cb vk.CommandBuffer) vk.Result {
	inst, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return vk.ErrorDeviceLost
	}
	return intercept.EndCommandBuffer(inst, abi.Of(cb), func() vk.Result {
		return dc.table.EndCommandBuffer(cb)
	})
}

// resolveCommandBuffer finds the owning Instance/DeviceTable for a bare
// VkCommandBuffer: command-buffer-taking entries carry no VkDevice
// parameter of their own, so this layer looks the command buffer up
// through the same device-command-buffer-state map internal/shadow
// already tracks, scanning the (small, process-lifetime) set of live
// devices.
func resolveCommandBuffer(cb vk.CommandBuffer) (*instance.Instance, deviceCtx, bool) {
	h := abi.Of(cb)
	for _, inst := range instance.Global.Snapshot() {
		for _, d := range inst.Devices() {
			if _, ok := d.Shadow.CommandBufferState(h); ok {
				table, ok := dispatch.Global.Device(abi.DispatchKey(unsafe.Pointer(&d.Native)))
				if !ok {
					continue
				}
				return inst, deviceCtx{inst: inst, dev: d, table: table}, true
			}
		}
	}
	return nil, deviceCtx{}, false
}

//export vkMapMemory
func vkMapMemory(deviceHandle vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize, flags uint32, ppData *unsafe.Pointer) vk.Result {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return vk.ErrorDeviceLost
	}
	return intercept.MapMemory(dc.dev, memory, offset, size, ppData, func() vk.Result {
		return dc.table.MapMemory(deviceHandle, memory, offset, size, vk.MemoryMapFlags(flags), ppData)
	})
}

//export vkUnmapMemory
func vkUnmapMemory(deviceHandle vk.Device, memory vk.DeviceMemory) {
	dc, ok := resolveDevice(deviceHandle)
	if !ok {
		return
	}
	intercept.UnmapMemory(dc.dev, memory, func() {
		dc.table.UnmapMemory(deviceHandle, memory)
	})
}

// ---- Cmd* bookkeeping (spec.md §4.G) ----

//export vkCmdBindPipeline
func vkCmdBindPipeline(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdBindPipeline(dc.dev, cb, pipeline, func() {
		dc.table.CmdBindPipeline(cb, bindPoint, pipeline)
	})
}

//export vkCmdBindDescriptorSets
func vkCmdBindDescriptorSets(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout,
	firstSet, setCount uint32, pSets unsafe.Pointer, dynamicOffsetCount uint32, pDynamicOffsets *uint32) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	sets := unsafe.Slice((*vk.DescriptorSet)(pSets), setCount)
	var offsets []uint32
	if dynamicOffsetCount > 0 {
		offsets = unsafe.Slice(pDynamicOffsets, dynamicOffsetCount)
	}
	intercept.CmdBindDescriptorSets(dc.dev, cb, sets, offsets, func() {
		dc.table.CmdBindDescriptorSets(cb, bindPoint, layout, firstSet, setCount, (*vk.DescriptorSet)(pSets), dynamicOffsetCount, pDynamicOffsets)
	})
}

//export vkCmdBindVertexBuffers
func vkCmdBindVertexBuffers(cb vk.CommandBuffer, firstBinding, bindingCount uint32, pBuffers *vk.Buffer, pOffsets *vk.DeviceSize) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	buffers := unsafe.Slice(pBuffers, bindingCount)
	offsets := unsafe.Slice(pOffsets, bindingCount)
	intercept.CmdBindVertexBuffers(dc.dev, cb, buffers, offsets, func() {
		dc.table.CmdBindVertexBuffers(cb, firstBinding, bindingCount, pBuffers, pOffsets)
	})
}

//export vkCmdBindIndexBuffer
func vkCmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdBindIndexBuffer(dc.dev, cb, buffer, offset, indexType, func() {
		dc.table.CmdBindIndexBuffer(cb, buffer, offset, indexType)
	})
}

//export vkCmdSetScissor
func vkCmdSetScissor(cb vk.CommandBuffer, firstScissor, scissorCount uint32, pScissors *vk.Rect2D) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	scissors := unsafe.Slice(pScissors, scissorCount)
	intercept.CmdSetScissor(dc.dev, cb, scissors, func() {
		dc.table.CmdSetScissor(cb, firstScissor, scissorCount, pScissors)
	})
}

//export vkCmdBeginRenderPass
func vkCmdBeginRenderPass(cb vk.CommandBuffer, pRenderPassBegin unsafe.Pointer, contents vk.SubpassContents) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	info := (*vk.RenderPassBeginInfo)(pRenderPassBegin)
	intercept.CmdBeginRenderPass(dc.dev, cb, info.RenderPass, info.Framebuffer, func() {
		dc.table.CmdBeginRenderPass(cb, info, contents)
	})
}

//export vkCmdEndRenderPass
func vkCmdEndRenderPass(cb vk.CommandBuffer) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdEndRenderPass(dc.dev, cb, func() {
		dc.table.CmdEndRenderPass(cb)
	})
}

//export vkCmdBeginTransformFeedbackEXT
func vkCmdBeginTransformFeedbackEXT(cb vk.CommandBuffer, firstCounterBuffer, counterBufferCount uint32, pCounterBuffers *vk.Buffer, pCounterBufferOffsets *vk.DeviceSize) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdBeginTransformFeedbackEXT(dc.dev, cb, func() {
		dc.table.CmdBeginTransformFeedbackEXT(cb, firstCounterBuffer, counterBufferCount, pCounterBuffers, pCounterBufferOffsets)
	})
}

//export vkCmdEndTransformFeedbackEXT
func vkCmdEndTransformFeedbackEXT(cb vk.CommandBuffer, firstCounterBuffer, counterBufferCount uint32, pCounterBuffers *vk.Buffer, pCounterBufferOffsets *vk.DeviceSize) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdEndTransformFeedbackEXT(dc.dev, cb, func() {
		dc.table.CmdEndTransformFeedbackEXT(cb, firstCounterBuffer, counterBufferCount, pCounterBuffers, pCounterBufferOffsets)
	})
}

//export vkCmdBindTransformFeedbackBuffersEXT
func vkCmdBindTransformFeedbackBuffersEXT(cb vk.CommandBuffer, firstBinding, bindingCount uint32, pBuffers *vk.Buffer, pOffsets, pSizes *vk.DeviceSize) {
	_, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	buffers := unsafe.Slice(pBuffers, bindingCount)
	offsets := unsafe.Slice(pOffsets, bindingCount)
	intercept.CmdBindTransformFeedbackBuffersEXT(dc.dev, cb, buffers, offsets, func() {
		dc.table.CmdBindTransformFeedbackBuffersEXT(cb, firstBinding, bindingCount, pBuffers, pOffsets, pSizes)
	})
}

// ---- copy commands: content hashing / asset substitution (spec.md §4.H) ----

//export vkCmdCopyBuffer
func vkCmdCopyBuffer(cb vk.CommandBuffer, srcBuffer, dstBuffer vk.Buffer, regionCount uint32, pRegions unsafe.Pointer) {
	inst, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	regions := unsafe.Slice((*vk.BufferCopy)(pRegions), regionCount)
	var regionData []byte
	if len(regions) > 0 {
		regionData = readMappedBufferRange(dc.dev, srcBuffer, regions[0].SrcOffset, regions[0].Size)
	}
	result := intercept.CmdCopyBuffer(inst, dc.dev, abi.Of(srcBuffer), abi.Of(dstBuffer), regionData, func() {})
	if result.Override != nil && len(result.Override) == len(regionData) {
		copy(regionData, result.Override)
	}
	dc.table.CmdCopyBuffer(cb, srcBuffer, dstBuffer, regionCount, (*vk.BufferCopy)(pRegions))
}

// readMappedBufferRange resolves buffer's bound memory, finds that
// memory's current host-visible mapping (if any) and slices out the
// region [offset, offset+size) relative to the buffer's own binding
// offset, returning nil if the memory is unbound or not currently
// mapped (spec.md §4.H only hashes/substitutes host-visible uploads).
func readMappedBufferRange(d *device.Device, buffer vk.Buffer, offset, size vk.DeviceSize) []byte {
	rec, ok := d.Shadow.Buffer(abi.Of(buffer))
	if !ok || rec.Memory == 0 {
		return nil
	}
	mapping, ok := d.Shadow.Mapping(rec.Memory)
	if !ok {
		return nil
	}
	absolute := uintptr(rec.MemoryOffset) + uintptr(offset)
	mapOffset := uintptr(mapping.Offset)
	mapSize := uintptr(mapping.Size)
	if absolute < mapOffset || absolute+uintptr(size) > mapOffset+mapSize {
		return nil
	}
	addr := mapping.Ptr + (absolute - mapOffset)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

//export vkCmdCopyBufferToImage
func vkCmdCopyBufferToImage(cb vk.CommandBuffer, srcBuffer vk.Buffer, dstImage vk.Image, dstImageLayout vk.ImageLayout, regionCount uint32, pRegions unsafe.Pointer) {
	inst, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	regions := unsafe.Slice((*vk.BufferImageCopy)(pRegions), regionCount)

	for _, region := range regions {
		imgRec, ok := dc.dev.Shadow.Image(abi.Of(dstImage))
		if !ok {
			continue
		}
		width := int(region.ImageExtent.Width)
		height := int(region.ImageExtent.Height)
		size := texelRangeSize(imgRec.Format, width, height, region.BufferRowLength, region.BufferImageHeight)

		if region.ImageSubresource.MipLevel != 0 {
			// spec.md §4.H: "only the mip-0 case triggers hash attachment
			// and rule evaluation" — lower mips only get the image-primer
			// re-encode-from-cache substitution (SPEC_FULL.md supplement).
			if !inst.Config.Override || imgRec.Tiling != shadow.TilingLinear {
				continue
			}
			data := readMappedBufferRange(dc.dev, srcBuffer, region.BufferOffset, vk.DeviceSize(size))
			if data == nil {
				continue
			}
			if enc := intercept.CmdCopyBufferToImageLowerMip(dc.dev, abi.Of(dstImage), imgRec.Format, width, height); len(enc) == len(data) {
				copy(data, enc)
			}
			continue
		}

		data := readMappedBufferRange(dc.dev, srcBuffer, region.BufferOffset, vk.DeviceSize(size))
		if data == nil {
			continue
		}
		result := intercept.CmdCopyBufferToImage(inst, dc.dev, abi.Of(dstImage), imgRec.Format, width, height, data, func() {})
		if result.Override != nil && imgRec.Tiling == shadow.TilingLinear && len(result.OverrideRaw) == len(data) {
			copy(data, result.OverrideRaw)
		}
	}

	dc.table.CmdCopyBufferToImage(cb, srcBuffer, dstImage, dstImageLayout, regionCount, (*vk.BufferImageCopy)(pRegions))
}

// texelRangeSize computes the byte length of one mip's worth of texel
// data for hashing/substitution purposes: block-compressed formats use
// their codec's block size (16 bytes per 4x4 block for every BCn family
// this layer covers except BC1 and BC4, which pack 8), uncompressed formats
// fall back to 4 bytes/texel (every uncompressed format this layer's
// rule programs are expected to target is a 32-bit-per-texel format;
// anything narrower simply over-reads a few padding bytes into the
// host-visible staging buffer, which is harmless for hashing purposes).
func texelRangeSize(format vk.Format, width, height int, rowLength, imageHeight uint32) int {
	w, h := width, height
	if rowLength > 0 {
		w = int(rowLength)
	}
	if imageHeight > 0 {
		h = int(imageHeight)
	}
	switch format {
	case vk.FormatBc1RgbaUnormBlock, vk.FormatBc1RgbaSrgbBlock, vk.FormatBc4UnormBlock:
		return blockCount(w, h) * 8
	case vk.FormatBc2UnormBlock, vk.FormatBc2SrgbBlock,
		vk.FormatBc3UnormBlock, vk.FormatBc3SrgbBlock,
		vk.FormatBc5UnormBlock,
		vk.FormatBc7UnormBlock, vk.FormatBc7SrgbBlock:
		return blockCount(w, h) * 16
	default:
		return w * h * 4
	}
}

func blockCount(w, h int) int {
	return ((w + 3) / 4) * ((h + 3) / 4)
}

// ---- draw / submit / present (spec.md §4.D/§4.H) ----

//export vkCmdDraw
func vkCmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	inst, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdDraw(inst, dc.dev, cb, vertexCount, instanceCount, firstVertex, firstInstance, func() {
		dc.table.CmdDraw(cb, vertexCount, instanceCount, firstVertex, firstInstance)
	})
}

//export vkCmdDrawIndexed
func vkCmdDrawIndexed(cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	inst, dc, ok := resolveCommandBuffer(cb)
	if !ok {
		return
	}
	intercept.CmdDrawIndexed(inst, dc.dev, cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance, func() {
		dc.table.CmdDrawIndexed(cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	})
}

//export vkQueueSubmit
func vkQueueSubmit(queue vk.Queue, submitCount uint32, pSubmits unsafe.Pointer, fence vk.Fence) vk.Result {
	inst, dc, ok := resolveQueue(queue)
	if !ok {
		return vk.ErrorDeviceLost
	}
	submits := unsafe.Slice((*vk.SubmitInfo)(pSubmits), submitCount)
	var buffers []abi.Handle
	for _, s := range submits {
		for _, cb := range unsafe.Slice(s.PCommandBuffers, s.CommandBufferCount) {
			buffers = append(buffers, abi.Of(cb))
		}
	}
	return intercept.QueueSubmit(inst, buffers, func() vk.Result {
		return dc.table.QueueSubmit(queue, submitCount, (*vk.SubmitInfo)(pSubmits), fence)
	})
}

// resolveQueue finds the owning Instance/DeviceTable for a bare VkQueue,
// the same shape of problem resolveCommandBuffer solves: a queue
// doesn't carry its device, so this scans the live device set and
// matches against the one queue each device records: the transfer
// queue taken from its first graphics-capable GetDeviceQueue call.
func resolveQueue(queue vk.Queue) (*instance.Instance, deviceCtx, bool) {
	for _, inst := range instance.Global.Snapshot() {
		for _, d := range inst.Devices() {
			if t, ok := d.TransferState(); ok && t.Queue == queue {
				table, ok := dispatch.Global.Device(abi.DispatchKey(unsafe.Pointer(&d.Native)))
				if ok {
					return inst, deviceCtx{inst: inst, dev: d, table: table}, true
				}
			}
		}
	}
	// Fall back to the sole live instance/device when the application
	// submits against a queue this layer never specifically tracked
	// (every queue other than the lazily created transfer queue).
	insts := instance.Global.Snapshot()
	if len(insts) != 1 {
		return nil, deviceCtx{}, false
	}
	devs := insts[0].Devices()
	if len(devs) != 1 {
		return nil, deviceCtx{}, false
	}
	table, ok := dispatch.Global.Device(abi.DispatchKey(unsafe.Pointer(&devs[0].Native)))
	if !ok {
		return nil, deviceCtx{}, false
	}
	return insts[0], deviceCtx{inst: insts[0], dev: devs[0], table: table}, true
}

//export vkQueuePresentKHR
func vkQueuePresentKHR(queue vk.Queue, pPresentInfo unsafe.Pointer) vk.Result {
	inst, dc, ok := resolveQueue(queue)
	if !ok {
		return vk.ErrorDeviceLost
	}
	info := (*vk.PresentInfo)(pPresentInfo)
	indices := unsafe.Slice(info.PImageIndices, info.SwapchainCount)
	return intercept.QueuePresentKHR(inst, indices, func() vk.Result {
		return dc.table.QueuePresentKHR(queue, info)
	})
}
