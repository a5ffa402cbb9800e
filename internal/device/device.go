// Package device implements the Device half of spec.md §3: the per-
// VkDevice aggregate tying together its dispatch table (internal/
// dispatch), its shadow object store (internal/shadow) and the lazily
// created transfer command buffer, all reached by internal/intercept
// through the instance that owns it.
package device

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/dispatch"
	"github.com/glasslayer/vkhook/internal/shadow"
)

// QueueFamily mirrors the handful of VkQueueFamilyProperties fields
// rules and the transfer-buffer bootstrap care about.
type QueueFamily struct {
	Index            uint32
	QueueCount       uint32
	GraphicsCapable  bool
	ComputeCapable   bool
	TransferCapable  bool
}

// Transfer is the lazily created "transfer" queue/pool/command-buffer
// triple spec.md §3 Device describes, created on first GetDeviceQueue
// call whose family has graphics capability.
type Transfer struct {
	Queue         vk.Queue
	Pool          vk.CommandPool
	CommandBuffer vk.CommandBuffer
	Fence         vk.Fence
	FamilyIndex   uint32
}

// Device is spec.md §3's per-VkDevice record.
type Device struct {
	mu sync.Mutex

	// InstanceID is a weak back-reference: the Instance outlives its
	// Devices (spec.md §3), so Device stores only the id and looks the
	// owning instance up through the caller-supplied registry rather
	// than holding a strong pointer that would keep it alive.
	InstanceID uint64

	Native abi.Handle
	Table  *dispatch.DeviceTable

	PhysicalDevice      vk.PhysicalDevice
	PhysicalDeviceProps vk.PhysicalDeviceProperties
	MemoryProps         vk.PhysicalDeviceMemoryProperties
	QueueFamilies       []QueueFamily

	Shadow *shadow.Store

	transfer *Transfer
}

// New returns a freshly constructed Device shell; PhysicalDeviceProps/
// MemoryProps/QueueFamilies are filled in by internal/intercept's
// CreateDevice hook right after the next layer's call returns.
func New(instanceID uint64, native abi.Handle, table *dispatch.DeviceTable) *Device {
	return &Device{
		InstanceID: instanceID,
		Native:     native,
		Table:      table,
		Shadow:     shadow.NewStore(),
	}
}

// QueueFamilyByIndex returns the recorded family descriptor for index,
// if queried yet.
func (d *Device) QueueFamilyByIndex(index uint32) (QueueFamily, bool) {
	for _, qf := range d.QueueFamilies {
		if qf.Index == index {
			return qf, true
		}
	}
	return QueueFamily{}, false
}

// EnsureTransfer lazily creates the transfer queue/pool/command-buffer
// triple the first time a graphics-capable queue family is fetched via
// GetDeviceQueue (spec.md §3 Device, §4.L). create is supplied by the
// caller (internal/intercept) since actually allocating Vulkan objects
// requires calling back into the next layer's PFNs, which this package
// does not hold directly — Device only remembers whether it has already
// done so, keeping the "created at most once per device" invariant in
// one place.
func (d *Device) EnsureTransfer(familyIndex uint32, create func(familyIndex uint32) (*Transfer, error)) (*Transfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transfer != nil {
		return d.transfer, nil
	}
	t, err := create(familyIndex)
	if err != nil {
		return nil, fmt.Errorf("device: create transfer command buffer: %w", err)
	}
	d.transfer = t
	return d.transfer, nil
}

// TransferState returns the transfer triple if it has been created, without
// creating it.
func (d *Device) TransferState() (*Transfer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transfer, d.transfer != nil
}

// Teardown releases the transfer command buffer triple; called from
// DestroyDevice (spec.md §3: "torn down at DestroyDevice"). destroy is
// supplied by the caller for the same reason create is above.
func (d *Device) Teardown(destroy func(*Transfer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transfer != nil && destroy != nil {
		destroy(d.transfer)
	}
	d.transfer = nil
}
