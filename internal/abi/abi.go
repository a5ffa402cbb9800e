// Package abi is the "unsafe module" spec.md §9 calls for: the small
// boundary where this layer touches the raw loader ABI — dispatchable
// handle layout, the VkLayerInstanceCreateInfo/VkLayerDeviceCreateInfo
// pNext chain the loader uses to hand us the next layer's
// GetInstanceProcAddr/GetDeviceProcAddr, and dispatch-key extraction.
//
// Every other package in this module works with ordinary Go values
// (goki/vulkan's generated structs, or the Handle alias below); only
// this package reaches for unsafe.Pointer arithmetic, matching spec.md
// §9's "this must remain unsafe but should be centralised in one small
// module".
package abi

import (
	"reflect"
	"unsafe"
)

// Handle is the layer's canonical representation of any Vulkan handle,
// dispatchable or not. Non-dispatchable handles are already 64-bit
// integers on every platform the loader supports; dispatchable handles
// are opaque pointers whose first word is the dispatch key (see
// DispatchKey below). Collapsing both to a uint64 lets every shadow map
// and every rule Value carry one handle type instead of one per Vulkan
// handle kind.
type Handle uint64

// Of converts any goki/vulkan handle value (vk.Buffer, vk.Image,
// vk.Instance, vk.Device, vk.CommandBuffer, a custom shader id, ...) to
// a Handle. goki/vulkan represents non-dispatchable handles as unsigned
// integer typedefs and dispatchable handles as pointer typedefs; both
// shapes are covered here via reflection so callers never need to know
// which kind v is.
func Of(v interface{}) Handle {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Handle(rv.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Handle(rv.Int())
	case reflect.Ptr, reflect.UnsafePointer:
		return Handle(rv.Pointer())
	default:
		return 0
	}
}

// DispatchKey extracts the loader's dispatch key: the first
// pointer-sized word of any dispatchable handle (VkInstance, VkDevice,
// VkPhysicalDevice, VkQueue, VkCommandBuffer). The loader stamps this
// word with its own internal dispatch-table pointer before the handle
// ever reaches a layer, so two different VkInstances in the same
// process are guaranteed to key differently (spec.md §4.F).
//
// p must point at a live dispatchable handle (i.e. *vk.Instance etc.
// reinterpreted through unsafe.Pointer) — this function does not
// validate that, by design: validating it would require knowing the
// handle's Vulkan type, which is exactly the layer-agnostic property
// DispatchKey exists to avoid needing.
func DispatchKey(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	return *(*uintptr)(p)
}

// LayerFunction mirrors VkLayerFunction: the tag on a
// VkLayerInstanceCreateInfo/VkLayerDeviceCreateInfo pNext link telling
// us which of its union members is live.
type LayerFunction uint32

const (
	LayerLinkInfo          LayerFunction = 0
	LoaderDataCallback     LayerFunction = 1
	LoaderLayerInfo        LayerFunction = 2
)

// GetInstanceProcAddrFunc and GetDeviceProcAddrFunc are the resolver
// function shapes the loader link info carries and that this layer
// stores as "the next layer's resolver" so later hooks can forward
// unhooked entries.
type GetInstanceProcAddrFunc func(instance uintptr, name string) uintptr
type GetDeviceProcAddrFunc func(device uintptr, name string) uintptr

// LayerInstanceLink is the payload of a VkLayerInstanceCreateInfo whose
// Function is LayerLinkInfo: the next layer's GetInstanceProcAddr plus a
// pointer to advance the chain past this link.
type LayerInstanceLink struct {
	NextGetInstanceProcAddr GetInstanceProcAddrFunc
	NextGetPhysicalDeviceProcAddr GetInstanceProcAddrFunc
	Next                    unsafe.Pointer // the next VkLayerInstanceCreateInfo in the pNext chain
}

// LayerDeviceLink is the device-chain analogue.
type LayerDeviceLink struct {
	NextGetInstanceProcAddr GetInstanceProcAddrFunc
	NextGetDeviceProcAddr   GetDeviceProcAddrFunc
	Next                    unsafe.Pointer
}

// layerCreateInfo is the minimal shape of VkLayerInstanceCreateInfo /
// VkLayerDeviceCreateInfo common to both: a standard Vulkan struct
// header (SType/PNext) plus the Function tag and a union slot big
// enough to hold either a LayerInstanceLink/LayerDeviceLink pointer or a
// loader-data-callback pointer. goki/vulkan does not generate these —
// they are loader-private, not part of the official Vulkan struct
// registry — so this module defines its own memory-compatible shape.
type layerCreateInfo struct {
	SType    uint32
	PNext    unsafe.Pointer
	Function LayerFunction
	Link     unsafe.Pointer
}

const (
	structureTypeLoaderInstanceCreateInfo = 47 // VK_STRUCTURE_TYPE_LOADER_INSTANCE_CREATE_INFO
	structureTypeLoaderDeviceCreateInfo   = 48 // VK_STRUCTURE_TYPE_LOADER_DEVICE_CREATE_INFO
)

// FindInstanceLayerLinkInfo walks a VkInstanceCreateInfo's pNext chain
// looking for the loader's link-info node (spec.md §4.L "walk the pNext
// chain to find the loader link-info"). Returns the link struct and the
// loader-owned slot holding it, so the caller can advance that slot to
// link.Next once it has captured NextGetInstanceProcAddr — this is what
// tells the loader the *next* layer down the chain gets the link info
// meant for it rather than ours again. Returns (nil, nil) if the chain
// never carries one, meaning this shared object was loaded outside a
// real Vulkan loader and cannot function as a layer.
func FindInstanceLayerLinkInfo(pNext unsafe.Pointer) (link *LayerInstanceLink, slot *unsafe.Pointer) {
	for cur := pNext; cur != nil; {
		hdr := (*layerCreateInfo)(cur)
		if hdr.SType == structureTypeLoaderInstanceCreateInfo && hdr.Function == LayerLinkInfo {
			return (*LayerInstanceLink)(hdr.Link), &hdr.Link
		}
		cur = hdr.PNext
	}
	return nil, nil
}

// FindDeviceLayerLinkInfo is the device-chain analogue.
func FindDeviceLayerLinkInfo(pNext unsafe.Pointer) (link *LayerDeviceLink, slot *unsafe.Pointer) {
	for cur := pNext; cur != nil; {
		hdr := (*layerCreateInfo)(cur)
		if hdr.SType == structureTypeLoaderDeviceCreateInfo && hdr.Function == LayerLinkInfo {
			return (*LayerDeviceLink)(hdr.Link), &hdr.Link
		}
		cur = hdr.PNext
	}
	return nil, nil
}

// AdvanceInstanceLink writes link.Next into *slot, the mutation that
// makes the next layer in the chain see its own link info instead of
// ours (spec.md §4.L: "advance the chain").
func AdvanceInstanceLink(link *LayerInstanceLink, slot *unsafe.Pointer) {
	if link == nil || slot == nil {
		return
	}
	*slot = link.Next
}

// AdvanceDeviceLink is the device-chain analogue.
func AdvanceDeviceLink(link *LayerDeviceLink, slot *unsafe.Pointer) {
	if link == nil || slot == nil {
		return
	}
	*slot = link.Next
}
