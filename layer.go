// Command vkhook builds as a Vulkan implicit/explicit layer shared
// object (`go build -buildmode=c-shared`). This
// file is the cgo boundary spec.md §9 calls for: the one place this
// module receives raw loader pointers and exports the C-ABI symbols
// VK_LAYER_glasslayer_cheeky.json points the loader at. Every exported
// function here does the same three things — resolve the dispatch key
// (internal/abi/internal/dispatch), call into internal/intercept with a
// `forward` closure that invokes the next layer's PFN, and return
// whatever intercept decided — matching spec.md §2's data-flow
// paragraph. Downstream of this file, internal/abi and a few
// internal/intercept hooks (descriptor-template payloads, SPIR-V words)
// still reinterpret raw pointers through unsafe.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "_cgo_export.h"

// cheekylayer_lookup maps a Vulkan entry point name to the address of
// the matching //export'd Go function below. _cgo_export.h (generated
// by the cgo tool from every //export directive in this package) is
// what makes those addresses available as ordinary C function pointers
// from within this same preamble — the loader never sees this file, only
// the resulting symbol table, so the lookup table and the symbols it
// names must simply agree.
static void *cheekylayer_lookup(const char *name) {
#define HOOK(n) if (!strcmp(name, #n)) return (void *)(n);
	HOOK(vkGetInstanceProcAddr)
	HOOK(vkGetDeviceProcAddr)
	HOOK(vkCreateInstance)
	HOOK(vkDestroyInstance)
	HOOK(vkCreateDevice)
	HOOK(vkDestroyDevice)
	HOOK(vkEnumerateInstanceLayerProperties)
	HOOK(vkEnumerateInstanceExtensionProperties)
	HOOK(vkEnumerateDeviceLayerProperties)
	HOOK(vkEnumerateDeviceExtensionProperties)
	HOOK(vkGetDeviceQueue)
	HOOK(vkGetPhysicalDeviceQueueFamilyProperties)
	HOOK(vkGetPhysicalDeviceQueueFamilyProperties2)
	HOOK(vkCreateBuffer)
	HOOK(vkDestroyBuffer)
	HOOK(vkBindBufferMemory)
	HOOK(vkCreateImage)
	HOOK(vkDestroyImage)
	HOOK(vkBindImageMemory)
	HOOK(vkCreateImageView)
	HOOK(vkDestroyImageView)
	HOOK(vkCreateFramebuffer)
	HOOK(vkDestroyFramebuffer)
	HOOK(vkCreateSwapchainKHR)
	HOOK(vkDestroySwapchainKHR)
	HOOK(vkCreatePipelineLayout)
	HOOK(vkDestroyPipelineLayout)
	HOOK(vkCreateGraphicsPipelines)
	HOOK(vkDestroyPipeline)
	HOOK(vkCreateShaderModule)
	HOOK(vkDestroyShaderModule)
	HOOK(vkCreateDescriptorUpdateTemplate)
	HOOK(vkDestroyDescriptorUpdateTemplate)
	HOOK(vkUpdateDescriptorSetWithTemplate)
	HOOK(vkAllocateCommandBuffers)
	HOOK(vkFreeCommandBuffers)
	HOOK(vkEndCommandBuffer)
	HOOK(vkMapMemory)
	HOOK(vkUnmapMemory)
	HOOK(vkCmdCopyBuffer)
	HOOK(vkCmdCopyBufferToImage)
	HOOK(vkCmdBindPipeline)
	HOOK(vkCmdBindDescriptorSets)
	HOOK(vkCmdBindVertexBuffers)
	HOOK(vkCmdBindIndexBuffer)
	HOOK(vkCmdSetScissor)
	HOOK(vkCmdBeginRenderPass)
	HOOK(vkCmdEndRenderPass)
	HOOK(vkCmdDraw)
	HOOK(vkCmdDrawIndexed)
	HOOK(vkCmdBeginTransformFeedbackEXT)
	HOOK(vkCmdEndTransformFeedbackEXT)
	HOOK(vkCmdBindTransformFeedbackBuffersEXT)
	HOOK(vkQueueSubmit)
	HOOK(vkQueuePresentKHR)
#undef HOOK
	return 0;
}
*/
import "C"

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/dispatch"
	"github.com/glasslayer/vkhook/internal/instance"
	"github.com/glasslayer/vkhook/internal/intercept"
)

// main is never entered: the loader dlopen()s this shared object and
// only ever calls its exported symbols. -buildmode=c-shared still
// requires a package main with a main func to produce a valid object.
func main() {}

// hookedNames is every entry point spec.md §6 requires this layer to
// export (its own hot-path hooks, plus the bootstrap/enumeration set
// every layer must implement). GetInstanceProcAddr/GetDeviceProcAddr
// resolve any other name by delegating to the next layer's resolver,
// exactly as §6 describes.
var hookedNames = map[string]bool{}

func init() {
	for _, n := range []string{
		"vkGetInstanceProcAddr", "vkGetDeviceProcAddr",
		"vkCreateInstance", "vkDestroyInstance", "vkCreateDevice", "vkDestroyDevice",
		"vkEnumerateInstanceLayerProperties", "vkEnumerateInstanceExtensionProperties",
		"vkEnumerateDeviceLayerProperties", "vkEnumerateDeviceExtensionProperties",
		"vkGetDeviceQueue",
		"vkGetPhysicalDeviceQueueFamilyProperties", "vkGetPhysicalDeviceQueueFamilyProperties2",
		"vkCreateBuffer", "vkDestroyBuffer", "vkBindBufferMemory",
		"vkCreateImage", "vkDestroyImage", "vkBindImageMemory",
		"vkCreateImageView", "vkDestroyImageView",
		"vkCreateFramebuffer", "vkDestroyFramebuffer",
		"vkCreateSwapchainKHR", "vkDestroySwapchainKHR",
		"vkCreatePipelineLayout", "vkDestroyPipelineLayout",
		"vkCreateGraphicsPipelines", "vkDestroyPipeline",
		"vkCreateShaderModule", "vkDestroyShaderModule",
		"vkCreateDescriptorUpdateTemplate", "vkDestroyDescriptorUpdateTemplate",
		"vkUpdateDescriptorSetWithTemplate",
		"vkAllocateCommandBuffers", "vkFreeCommandBuffers", "vkEndCommandBuffer",
		"vkMapMemory", "vkUnmapMemory",
		"vkCmdCopyBuffer", "vkCmdCopyBufferToImage",
		"vkCmdBindPipeline", "vkCmdBindDescriptorSets", "vkCmdBindVertexBuffers", "vkCmdBindIndexBuffer",
		"vkCmdSetScissor", "vkCmdBeginRenderPass", "vkCmdEndRenderPass",
		"vkCmdDraw", "vkCmdDrawIndexed",
		"vkCmdBeginTransformFeedbackEXT", "vkCmdEndTransformFeedbackEXT", "vkCmdBindTransformFeedbackBuffersEXT",
		"vkQueueSubmit", "vkQueuePresentKHR",
	} {
		hookedNames[n] = true
	}
}

func lookupHook(name string) unsafe.Pointer {
	if !hookedNames[name] {
		return nil
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return unsafe.Pointer(C.cheekylayer_lookup(cname))
}

// ---- GetInstanceProcAddr / GetDeviceProcAddr (spec.md §6) ----

//export vkGetInstanceProcAddr
func vkGetInstanceProcAddr(instanceHandle unsafe.Pointer, pName *C.char) unsafe.Pointer {
	name := C.GoString(pName)
	if p := lookupHook(name); p != nil {
		return p
	}
	key := abi.DispatchKey(unsafe.Pointer(&instanceHandle))
	table, ok := dispatch.Global.Instance(key)
	if !ok {
		return nil
	}
	return unsafe.Pointer(table.GetInstanceProcAddr(uintptr(instanceHandle), name))
}

//export vkGetDeviceProcAddr
func vkGetDeviceProcAddr(deviceHandle unsafe.Pointer, pName *C.char) unsafe.Pointer {
	name := C.GoString(pName)
	if p := lookupHook(name); p != nil {
		return p
	}
	key := abi.DispatchKey(unsafe.Pointer(&deviceHandle))
	table, ok := dispatch.Global.Device(key)
	if !ok {
		return nil
	}
	return unsafe.Pointer(table.GetDeviceProcAddr(uintptr(deviceHandle), name))
}

// ---- bootstrap (spec.md §4.L) ----

//export vkCreateInstance
func vkCreateInstance(pCreateInfo, pAllocator unsafe.Pointer, pInstance *vk.Instance) vk.Result {
	info := (*vk.InstanceCreateInfo)(pCreateInfo)
	link, slot := abi.FindInstanceLayerLinkInfo(info.PNext)
	if link == nil {
		return vk.ErrorInitializationFailed
	}
	nextGetInstanceProcAddr := link.NextGetInstanceProcAddr
	abi.AdvanceInstanceLink(link, slot)

	nextCreateInstance := func(instanceHandle uintptr) (vk.PfnCreateInstance, bool) {
		p := nextGetInstanceProcAddr(instanceHandle, "vkCreateInstance")
		if p == 0 {
			return nil, false
		}
		return vk.PfnCreateInstance(unsafe.Pointer(p)), true
	}
	fn, ok := nextCreateInstance(0)
	if !ok {
		return vk.ErrorInitializationFailed
	}

	native, res, err := intercept.CreateInstance(intercept.CreateInstanceArgs{
		CreateInfo:              info,
		NextGetInstanceProcAddr: abi.GetInstanceProcAddrFunc(nextGetInstanceProcAddr),
		ApplicationName:         intercept.ApplicationName(info),
	}, func() (vk.Instance, vk.Result) {
		var out vk.Instance
		r := fn(info, (*vk.AllocationCallbacks)(pAllocator), &out)
		return out, r
	})
	if err != nil {
		return vk.ErrorInitializationFailed
	}
	*pInstance = native
	return res
}

//export vkDestroyInstance
func vkDestroyInstance(instanceHandle vk.Instance, pAllocator unsafe.Pointer) {
	key := abi.DispatchKey(unsafe.Pointer(&instanceHandle))
	table, ok := dispatch.Global.Instance(key)
	if !ok {
		return
	}
	intercept.DestroyInstance(instanceHandle, func() {
		table.DestroyInstance(instanceHandle, (*vk.AllocationCallbacks)(pAllocator))
	})
}

//export vkCreateDevice
func vkCreateDevice(physicalDevice vk.PhysicalDevice, pCreateInfo, pAllocator unsafe.Pointer, pDevice *vk.Device) vk.Result {
	info := (*vk.DeviceCreateInfo)(pCreateInfo)
	link, slot := abi.FindDeviceLayerLinkInfo(info.PNext)
	if link == nil {
		return vk.ErrorInitializationFailed
	}
	nextGetInstanceProcAddr := link.NextGetInstanceProcAddr
	nextGetDeviceProcAddr := link.NextGetDeviceProcAddr
	abi.AdvanceDeviceLink(link, slot)

	fnPtr := nextGetInstanceProcAddr(uintptr(unsafe.Pointer(&physicalDevice)), "vkCreateDevice")
	if fnPtr == 0 {
		return vk.ErrorInitializationFailed
	}
	fn := vk.PfnCreateDevice(unsafe.Pointer(fnPtr))

	inst, ok := lookupOwningInstance(physicalDevice)
	if !ok {
		return vk.ErrorInitializationFailed
	}

	native, res := intercept.CreateDevice(intercept.CreateDeviceArgs{
		Instance:              inst,
		PhysicalDevice:        physicalDevice,
		NextGetDeviceProcAddr: abi.GetDeviceProcAddrFunc(nextGetDeviceProcAddr),
	}, func() (vk.Device, vk.Result) {
		var out vk.Device
		r := fn(physicalDevice, info, (*vk.AllocationCallbacks)(pAllocator), &out)
		return out, r
	})
	*pDevice = native
	return res
}

// lookupOwningInstance is a small linear scan over the process-wide
// instance registry: nothing in the loader's CreateDevice arguments
// names the owning VkInstance directly (only a VkPhysicalDevice,
// enumerated off it earlier), so this layer relies on having at most a
// handful of live instances — true of every real Vulkan application,
// which creates one instance per process in the overwhelming common
// case, occasional multi-GPU/headless tooling aside.
func lookupOwningInstance(pd vk.PhysicalDevice) (*instance.Instance, bool) {
	for _, inst := range instance.Global.Snapshot() {
		for _, d := range inst.Devices() {
			if d.PhysicalDevice == pd {
				return inst, true
			}
		}
	}
	// No device created against pd yet: fall back to the sole live
	// instance, which covers CreateDevice's actual common case (the very
	// first device on this physical device).
	if insts := instance.Global.Snapshot(); len(insts) == 1 {
		return insts[0], true
	}
	return nil, false
}

//export vkDestroyDevice
func vkDestroyDevice(deviceHandle vk.Device, pAllocator unsafe.Pointer) {
	key := abi.DispatchKey(unsafe.Pointer(&deviceHandle))
	table, ok := dispatch.Global.Device(key)
	if !ok {
		return
	}
	inst, d, ok := lookupDevice(deviceHandle)
	if !ok {
		table.DestroyDevice(deviceHandle, (*vk.AllocationCallbacks)(pAllocator))
		return
	}
	intercept.DestroyDevice(inst, d, func(t *device.Transfer) {
		destroyTransfer(table, deviceHandle, t)
	}, func() {
		table.DestroyDevice(deviceHandle, (*vk.AllocationCallbacks)(pAllocator))
	})
}

func destroyTransfer(table *dispatch.DeviceTable, deviceHandle vk.Device, t *device.Transfer) {
	if t == nil {
		return
	}
	table.FreeCommandBuffers(deviceHandle, t.Pool, 1, &t.CommandBuffer)
}

// lookupDevice resolves the owning Instance and Device for a native
// VkDevice handle by scanning the instance registry (mirrors
// lookupOwningInstance: this layer optimises for correctness over
// lookup speed on the cold destroy/device-bootstrap paths only — every
// hot path below resolves through dispatch.Global directly instead).
func lookupDevice(native vk.Device) (*instance.Instance, *device.Device, bool) {
	h := abi.Of(native)
	for _, inst := range instance.Global.Snapshot() {
		if d, ok := inst.Device(h); ok {
			return inst, d, true
		}
	}
	return nil, nil, false
}

// ---- enumeration (spec.md §6, merely-forwarded) ----

//export vkEnumerateInstanceLayerProperties
func vkEnumerateInstanceLayerProperties(pCount *uint32, pProperties unsafe.Pointer) vk.Result {
	// No next-layer chain to walk at this entry (it is called before any
	// instance exists); this layer simply appends itself to an
	// otherwise-empty list, matching every loader-queried layer's
	// contract for a standalone enumeration call.
	var props []vk.LayerProperties
	if pProperties != nil && pCount != nil {
		props = unsafe.Slice((*vk.LayerProperties)(pProperties), *pCount)
	}
	intercept.EnumerateInstanceLayerProperties(pCount, props, 0)
	return vk.Success
}

//export vkEnumerateDeviceLayerProperties
func vkEnumerateDeviceLayerProperties(physicalDevice vk.PhysicalDevice, pCount *uint32, pProperties unsafe.Pointer) vk.Result {
	var props []vk.LayerProperties
	if pProperties != nil && pCount != nil {
		props = unsafe.Slice((*vk.LayerProperties)(pProperties), *pCount)
	}
	intercept.EnumerateDeviceLayerProperties(pCount, props, 0)
	return vk.Success
}

//export vkEnumerateInstanceExtensionProperties
func vkEnumerateInstanceExtensionProperties(pLayerName *C.char, pCount *uint32, pProperties unsafe.Pointer) vk.Result {
	name := ""
	if pLayerName != nil {
		name = C.GoString(pLayerName)
	}
	_, res := intercept.EnumerateInstanceExtensionProperties(name, func() (uint32, vk.Result) {
		if pCount != nil {
			*pCount = 0
		}
		return 0, vk.Success
	})
	return res
}

//export vkEnumerateDeviceExtensionProperties
func vkEnumerateDeviceExtensionProperties(physicalDevice vk.PhysicalDevice, pLayerName *C.char, pCount *uint32, pProperties unsafe.Pointer) vk.Result {
	name := ""
	if pLayerName != nil {
		name = C.GoString(pLayerName)
	}
	_, res := intercept.EnumerateDeviceExtensionProperties(name, func() (uint32, vk.Result) {
		if pCount != nil {
			*pCount = 0
		}
		return 0, vk.Success
	})
	return res
}
