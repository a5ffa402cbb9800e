// Package dispatch implements spec.md §4.F: per-instance and per-device
// tables of function pointers resolved through the loader's
// GetInstanceProcAddr/GetDeviceProcAddr, keyed by dispatch key so calls
// route correctly even with several instances or devices alive in one
// process.
package dispatch

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
)

// InstanceTable holds the next layer's entry points this module either
// hooks (and must therefore forward to explicitly) or merely needs to
// call directly because nothing below intercepts it.
type InstanceTable struct {
	GetInstanceProcAddr abi.GetInstanceProcAddrFunc

	DestroyInstance                          vk.PfnDestroyInstance
	CreateDevice                              vk.PfnCreateDevice
	EnumeratePhysicalDevices                  vk.PfnEnumeratePhysicalDevices
	GetPhysicalDeviceQueueFamilyProperties    vk.PfnGetPhysicalDeviceQueueFamilyProperties
	GetPhysicalDeviceQueueFamilyProperties2   vk.PfnGetPhysicalDeviceQueueFamilyProperties2
	GetPhysicalDeviceMemoryProperties         vk.PfnGetPhysicalDeviceMemoryProperties
	GetPhysicalDeviceProperties               vk.PfnGetPhysicalDeviceProperties
	EnumerateDeviceExtensionProperties        vk.PfnEnumerateDeviceExtensionProperties
	EnumerateDeviceLayerProperties             vk.PfnEnumerateDeviceLayerProperties
}

// DeviceTable holds the per-device entries this layer intercepts or
// forwards. Every field mirrors one entry from spec.md §4.H/§4.G/§6;
// fields are resolved once at CreateDevice and are read-only afterwards
// (spec.md §5 "per-device dispatch tables are written once ... and
// read-only afterwards").
type DeviceTable struct {
	GetDeviceProcAddr vk.PfnGetDeviceProcAddr

	DestroyDevice vk.PfnDestroyDevice
	GetDeviceQueue vk.PfnGetDeviceQueue

	CreateCommandPool vk.PfnCreateCommandPool
	CreateFence       vk.PfnCreateFence

	CreateBuffer  vk.PfnCreateBuffer
	DestroyBuffer vk.PfnDestroyBuffer
	BindBufferMemory vk.PfnBindBufferMemory

	CreateImage  vk.PfnCreateImage
	DestroyImage vk.PfnDestroyImage
	BindImageMemory vk.PfnBindImageMemory

	CreateImageView  vk.PfnCreateImageView
	DestroyImageView vk.PfnDestroyImageView

	CreateFramebuffer  vk.PfnCreateFramebuffer
	DestroyFramebuffer vk.PfnDestroyFramebuffer

	CreateSwapchainKHR  vk.PfnCreateSwapchainKHR
	DestroySwapchainKHR vk.PfnDestroySwapchainKHR

	CreatePipelineLayout  vk.PfnCreatePipelineLayout
	DestroyPipelineLayout vk.PfnDestroyPipelineLayout

	CreateGraphicsPipelines vk.PfnCreateGraphicsPipelines
	DestroyPipeline         vk.PfnDestroyPipeline

	CreateShaderModule  vk.PfnCreateShaderModule
	DestroyShaderModule vk.PfnDestroyShaderModule

	CreateDescriptorUpdateTemplate  vk.PfnCreateDescriptorUpdateTemplate
	DestroyDescriptorUpdateTemplate vk.PfnDestroyDescriptorUpdateTemplate
	UpdateDescriptorSetWithTemplate vk.PfnUpdateDescriptorSetWithTemplate

	AllocateCommandBuffers vk.PfnAllocateCommandBuffers
	FreeCommandBuffers     vk.PfnFreeCommandBuffers
	EndCommandBuffer       vk.PfnEndCommandBuffer

	MapMemory   vk.PfnMapMemory
	UnmapMemory vk.PfnUnmapMemory

	CmdCopyBuffer        vk.PfnCmdCopyBuffer
	CmdCopyBufferToImage vk.PfnCmdCopyBufferToImage
	CmdBindPipeline      vk.PfnCmdBindPipeline
	CmdBindDescriptorSets vk.PfnCmdBindDescriptorSets
	CmdBindVertexBuffers vk.PfnCmdBindVertexBuffers
	CmdBindIndexBuffer   vk.PfnCmdBindIndexBuffer
	CmdSetScissor        vk.PfnCmdSetScissor
	CmdBeginRenderPass   vk.PfnCmdBeginRenderPass
	CmdEndRenderPass     vk.PfnCmdEndRenderPass
	CmdDraw              vk.PfnCmdDraw
	CmdDrawIndexed       vk.PfnCmdDrawIndexed

	CmdBeginTransformFeedbackEXT        vk.PfnCmdBeginTransformFeedbackEXT
	CmdEndTransformFeedbackEXT          vk.PfnCmdEndTransformFeedbackEXT
	CmdBindTransformFeedbackBuffersEXT  vk.PfnCmdBindTransformFeedbackBuffersEXT

	QueueSubmit     vk.PfnQueueSubmit
	QueuePresentKHR vk.PfnQueuePresentKHR
}

// Registry maps a dispatch key to the instance or device table resolved
// for it. spec.md §9: "represent Instance/Device as owned structs kept
// in a process-wide map indexed by the dispatch key ... append-on-
// create, remove-on-destroy, guarded by a read/write lock."
type Registry struct {
	mu        sync.RWMutex
	instances map[uintptr]*InstanceTable
	devices   map[uintptr]*DeviceTable
}

// Global is the single process-wide registry every exported entry point
// consults. A Vulkan layer has exactly one of these per loaded shared
// object, matching the loader's own per-process contract.
var Global = &Registry{
	instances: make(map[uintptr]*InstanceTable),
	devices:   make(map[uintptr]*DeviceTable),
}

// RegisterInstance stores table under key, typically the freshly
// created VkInstance's dispatch key.
func (r *Registry) RegisterInstance(key uintptr, table *InstanceTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[key] = table
}

// Instance looks up the table for key.
func (r *Registry) Instance(key uintptr) (*InstanceTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.instances[key]
	return t, ok
}

// UnregisterInstance removes key, called from DestroyInstance.
func (r *Registry) UnregisterInstance(key uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, key)
}

// RegisterDevice, Device and UnregisterDevice are the device-table
// analogues.
func (r *Registry) RegisterDevice(key uintptr, table *DeviceTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[key] = table
}

func (r *Registry) Device(key uintptr) (*DeviceTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.devices[key]
	return t, ok
}

func (r *Registry) UnregisterDevice(key uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, key)
}

// ErrNotFound is returned by lookups keyed on a handle the registry has
// never seen, which can only happen if the loader handed us a call for
// an instance/device we never observed at creation — a loader bug, not
// one this layer can recover from.
func ErrNotFound(kind string, key uintptr) error {
	return fmt.Errorf("dispatch: no %s table registered for dispatch key %#x", kind, key)
}
