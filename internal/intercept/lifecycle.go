// Package intercept implements spec.md §4.H: the hooked Vulkan entry
// points themselves. Every exported function here has the same shape —
// extract parameters, update internal/shadow, invoke internal/rules/eval
// at the designated event, possibly mutate arguments via internal/
// vkreflect, forward to the next layer through the resolved internal/
// dispatch table — matching spec.md §2's data-flow paragraph verbatim.
//
// Functions here take already-demarshaled Go/goki-vulkan values; layer.go
// is the cgo boundary that resolves dispatch keys and calls into this
// package (spec.md §9: centralise unsafe ABI work in one small module —
// internal/abi — and keep everything downstream of it in ordinary Go).
package intercept

import (
	"fmt"
	"os"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/config"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/dispatch"
	"github.com/glasslayer/vkhook/internal/hashcache"
	"github.com/glasslayer/vkhook/internal/instance"
	"github.com/glasslayer/vkhook/internal/ipc"
	"github.com/glasslayer/vkhook/internal/logging"
	"github.com/glasslayer/vkhook/internal/plugins"
	"github.com/glasslayer/vkhook/internal/rules/ast"
	"github.com/glasslayer/vkhook/internal/rules/eval"
	"github.com/glasslayer/vkhook/internal/rules/parser"
)

// LayerName, LayerDescription and LayerSpecVersionMajor/Minor are spec.md §6's
// self-advertised layer identity: "the layer advertises itself with
// name and description constants and a spec version of 1.1; it exposes
// zero extensions."
const (
	LayerName        = "VK_LAYER_glasslayer_cheeky"
	LayerDescription = "Vulkan interception layer: asset substitution, rule-driven mutation, telemetry"
	LayerSpecVersionMajor = 1
	LayerSpecVersionMinor = 1
)

// ApplicationName extracts pApplicationInfo.pApplicationName from a
// VkInstanceCreateInfo for the config `application` filter (spec.md
// §4.K), tolerating a nil/absent application info block.
func ApplicationName(info *vk.InstanceCreateInfo) string {
	if info == nil || info.PApplicationInfo == nil {
		return ""
	}
	return info.PApplicationInfo.PApplicationName
}

// CreateInstanceArgs bundles what layer.go has already resolved out of
// the loader's pNext chain before calling CreateInstance (the link info
// itself is consumed by abi.FindInstanceLayerLinkInfo before this point,
// since advancing the chain must happen exactly once regardless of what
// the rest of this function does).
type CreateInstanceArgs struct {
	CreateInfo      *vk.InstanceCreateInfo
	NextGetInstanceProcAddr abi.GetInstanceProcAddrFunc
	ApplicationName string
}

// CreateInstance implements spec.md §4.L: call the next layer's
// CreateInstance, populate the instance dispatch table, load config,
// open the logger, load the override cache and plugins, parse the rule
// file, fire the Init selector.
func CreateInstance(args CreateInstanceArgs, nextCreateInstance func() (vk.Instance, vk.Result)) (vk.Instance, vk.Result, error) {
	native, res := nextCreateInstance()
	if res != vk.Success {
		return native, res, nil
	}

	table := &dispatch.InstanceTable{GetInstanceProcAddr: args.NextGetInstanceProcAddr}
	resolveInstanceTable(table, native)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return native, res, fmt.Errorf("intercept: load config: %w", err)
	}
	if !cfg.AppliesTo(args.ApplicationName) {
		cfg = config.Default() // disabled configuration: the layer stays loaded but inert
	}

	program := &ast.Program{}
	if cfg.RuleFile != "" {
		if src, err := os.ReadFile(cfg.RuleFile); err == nil {
			if p, perr := parser.Parse(string(src)); perr == nil {
				program = p
			} else if logger, lerr := openLogger(cfg, 0); lerr == nil {
				logger.Warnf("intercept: rule parse error: %s", perr)
			}
		}
	}

	inst := instance.New(abi.Of(native), table, cfg, program)

	logger, err := openLogger(cfg, inst.ID)
	if err != nil {
		return native, res, fmt.Errorf("intercept: open logger: %w", err)
	}
	inst.Logger = logger

	if cfg.Override {
		cache, err := hashcache.Load(cfg.OverrideDirectory)
		if err != nil {
			logger.Warnf("intercept: load override cache: %s", err)
		} else {
			inst.Overrides = cache
		}
	}

	inst.IPC = ipc.NewTable(func(fd int64, connID string, data []byte) {
		fireReceive(inst, fd, connID, data)
	}, logger)

	if cfg.PluginDirectory != "" {
		loader, err := plugins.Load(cfg.PluginDirectory, logger)
		if err != nil {
			logger.Warnf("intercept: load plugins: %s", err)
		} else {
			if err := loader.Start(); err != nil {
				logger.Warnf("intercept: watch plugin directory: %s", err)
			}
			inst.Plugins = loader
		}
	}

	key := abi.DispatchKey(unsafe.Pointer(&native))
	dispatch.Global.RegisterInstance(key, table)
	instance.Global.Put(key, inst)

	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.Instance = inst.Native
	ctx.SelectorType = ast.SelectorInit
	ctx.Handle = inst.Native
	if inst.Caps.HasRules(ast.SelectorInit) {
		if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
			logger.Warnf("intercept: init rule error: %s", err)
		}
	}

	return native, res, nil
}

// resolveInstanceTable fills in every PFN this layer forwards through
// directly (as opposed to hooking), via the next layer's
// GetInstanceProcAddr (spec.md §4.F).
func resolveInstanceTable(table *dispatch.InstanceTable, native vk.Instance) {
	get := func(name string) unsafe.Pointer {
		return unsafe.Pointer(table.GetInstanceProcAddr(uintptr(unsafe.Pointer(&native)), name))
	}
	_ = get // wired individually below; kept as a named helper for readability
	table.DestroyInstance = vk.PfnDestroyInstance(get("vkDestroyInstance"))
	table.CreateDevice = vk.PfnCreateDevice(get("vkCreateDevice"))
	table.EnumeratePhysicalDevices = vk.PfnEnumeratePhysicalDevices(get("vkEnumeratePhysicalDevices"))
	table.GetPhysicalDeviceQueueFamilyProperties = vk.PfnGetPhysicalDeviceQueueFamilyProperties(get("vkGetPhysicalDeviceQueueFamilyProperties"))
	table.GetPhysicalDeviceQueueFamilyProperties2 = vk.PfnGetPhysicalDeviceQueueFamilyProperties2(get("vkGetPhysicalDeviceQueueFamilyProperties2"))
	table.GetPhysicalDeviceMemoryProperties = vk.PfnGetPhysicalDeviceMemoryProperties(get("vkGetPhysicalDeviceMemoryProperties"))
	table.GetPhysicalDeviceProperties = vk.PfnGetPhysicalDeviceProperties(get("vkGetPhysicalDeviceProperties"))
	table.EnumerateDeviceExtensionProperties = vk.PfnEnumerateDeviceExtensionProperties(get("vkEnumerateDeviceExtensionProperties"))
	table.EnumerateDeviceLayerProperties = vk.PfnEnumerateDeviceLayerProperties(get("vkEnumerateDeviceLayerProperties"))
}

func openLogger(cfg *config.Config, instanceID uint64) (*logging.Logger, error) {
	flushOn := logging.LevelWarn
	return logging.New(cfg.LogFile, instanceID, flushOn)
}

// DestroyInstance implements spec.md §4.L "destroy entries run rule
// events first, then forward": fires DeviceDestroy for every child
// device still alive (a well-behaved application destroys every device
// first, but the layer must not leak state if it doesn't), then the
// instance's own teardown.
func DestroyInstance(native vk.Instance, forward func()) {
	key := abi.DispatchKey(unsafe.Pointer(&native))
	inst, ok := instance.Global.Get(key)
	if !ok {
		forward()
		return
	}
	inst.Mu.Lock()
	for _, d := range inst.Devices() {
		fireDeviceDestroy(inst, d)
	}
	if inst.Plugins != nil {
		inst.Plugins.Stop()
	}
	if inst.Logger != nil {
		inst.Logger.Close()
	}
	inst.Mu.Unlock()

	forward()

	instance.Global.Delete(key)
	dispatch.Global.UnregisterInstance(key)
}

// CreateDevice implements spec.md §4.L: symmetric pNext walk for the
// device chain, call through, query queue families/memory properties.
type CreateDeviceArgs struct {
	Instance        *instance.Instance
	PhysicalDevice  vk.PhysicalDevice
	NextGetDeviceProcAddr abi.GetDeviceProcAddrFunc
}

func CreateDevice(args CreateDeviceArgs, nextCreateDevice func() (vk.Device, vk.Result)) (vk.Device, vk.Result) {
	native, res := nextCreateDevice()
	if res != vk.Success {
		return native, res
	}

	table := &dispatch.DeviceTable{GetDeviceProcAddr: args.NextGetDeviceProcAddr}
	resolveDeviceTable(table, native, args.NextGetDeviceProcAddr)

	d := device.New(args.Instance.ID, abi.Of(native), table)
	d.PhysicalDevice = args.PhysicalDevice
	var memProps vk.PhysicalDeviceMemoryProperties
	args.Instance.Table.GetPhysicalDeviceMemoryProperties(args.PhysicalDevice, &memProps)
	memProps.Deref()
	d.MemoryProps = memProps

	var props vk.PhysicalDeviceProperties
	args.Instance.Table.GetPhysicalDeviceProperties(args.PhysicalDevice, &props)
	props.Deref()
	d.PhysicalDeviceProps = props

	d.QueueFamilies = queryQueueFamilies(args.Instance, args.PhysicalDevice)

	key := abi.DispatchKey(unsafe.Pointer(&native))
	dispatch.Global.RegisterDevice(key, table)
	args.Instance.AddDevice(abi.Of(native), d)

	fireDeviceCreate(args.Instance, d)

	return native, res
}

func resolveDeviceTable(table *dispatch.DeviceTable, native vk.Device, get abi.GetDeviceProcAddrFunc) {
	p := func(name string) unsafe.Pointer {
		return unsafe.Pointer(get(uintptr(unsafe.Pointer(&native)), name))
	}
	table.DestroyDevice = vk.PfnDestroyDevice(p("vkDestroyDevice"))
	table.GetDeviceQueue = vk.PfnGetDeviceQueue(p("vkGetDeviceQueue"))
	table.CreateCommandPool = vk.PfnCreateCommandPool(p("vkCreateCommandPool"))
	table.CreateFence = vk.PfnCreateFence(p("vkCreateFence"))
	table.CreateBuffer = vk.PfnCreateBuffer(p("vkCreateBuffer"))
	table.DestroyBuffer = vk.PfnDestroyBuffer(p("vkDestroyBuffer"))
	table.BindBufferMemory = vk.PfnBindBufferMemory(p("vkBindBufferMemory"))
	table.CreateImage = vk.PfnCreateImage(p("vkCreateImage"))
	table.DestroyImage = vk.PfnDestroyImage(p("vkDestroyImage"))
	table.BindImageMemory = vk.PfnBindImageMemory(p("vkBindImageMemory"))
	table.CreateImageView = vk.PfnCreateImageView(p("vkCreateImageView"))
	table.DestroyImageView = vk.PfnDestroyImageView(p("vkDestroyImageView"))
	table.CreateFramebuffer = vk.PfnCreateFramebuffer(p("vkCreateFramebuffer"))
	table.DestroyFramebuffer = vk.PfnDestroyFramebuffer(p("vkDestroyFramebuffer"))
	table.CreateSwapchainKHR = vk.PfnCreateSwapchainKHR(p("vkCreateSwapchainKHR"))
	table.DestroySwapchainKHR = vk.PfnDestroySwapchainKHR(p("vkDestroySwapchainKHR"))
	table.CreatePipelineLayout = vk.PfnCreatePipelineLayout(p("vkCreatePipelineLayout"))
	table.DestroyPipelineLayout = vk.PfnDestroyPipelineLayout(p("vkDestroyPipelineLayout"))
	table.CreateGraphicsPipelines = vk.PfnCreateGraphicsPipelines(p("vkCreateGraphicsPipelines"))
	table.DestroyPipeline = vk.PfnDestroyPipeline(p("vkDestroyPipeline"))
	table.CreateShaderModule = vk.PfnCreateShaderModule(p("vkCreateShaderModule"))
	table.DestroyShaderModule = vk.PfnDestroyShaderModule(p("vkDestroyShaderModule"))
	table.CreateDescriptorUpdateTemplate = vk.PfnCreateDescriptorUpdateTemplate(p("vkCreateDescriptorUpdateTemplate"))
	table.DestroyDescriptorUpdateTemplate = vk.PfnDestroyDescriptorUpdateTemplate(p("vkDestroyDescriptorUpdateTemplate"))
	table.UpdateDescriptorSetWithTemplate = vk.PfnUpdateDescriptorSetWithTemplate(p("vkUpdateDescriptorSetWithTemplate"))
	table.AllocateCommandBuffers = vk.PfnAllocateCommandBuffers(p("vkAllocateCommandBuffers"))
	table.FreeCommandBuffers = vk.PfnFreeCommandBuffers(p("vkFreeCommandBuffers"))
	table.EndCommandBuffer = vk.PfnEndCommandBuffer(p("vkEndCommandBuffer"))
	table.MapMemory = vk.PfnMapMemory(p("vkMapMemory"))
	table.UnmapMemory = vk.PfnUnmapMemory(p("vkUnmapMemory"))
	table.CmdCopyBuffer = vk.PfnCmdCopyBuffer(p("vkCmdCopyBuffer"))
	table.CmdCopyBufferToImage = vk.PfnCmdCopyBufferToImage(p("vkCmdCopyBufferToImage"))
	table.CmdBindPipeline = vk.PfnCmdBindPipeline(p("vkCmdBindPipeline"))
	table.CmdBindDescriptorSets = vk.PfnCmdBindDescriptorSets(p("vkCmdBindDescriptorSets"))
	table.CmdBindVertexBuffers = vk.PfnCmdBindVertexBuffers(p("vkCmdBindVertexBuffers"))
	table.CmdBindIndexBuffer = vk.PfnCmdBindIndexBuffer(p("vkCmdBindIndexBuffer"))
	table.CmdSetScissor = vk.PfnCmdSetScissor(p("vkCmdSetScissor"))
	table.CmdBeginRenderPass = vk.PfnCmdBeginRenderPass(p("vkCmdBeginRenderPass"))
	table.CmdEndRenderPass = vk.PfnCmdEndRenderPass(p("vkCmdEndRenderPass"))
	table.CmdDraw = vk.PfnCmdDraw(p("vkCmdDraw"))
	table.CmdDrawIndexed = vk.PfnCmdDrawIndexed(p("vkCmdDrawIndexed"))
	table.CmdBeginTransformFeedbackEXT = vk.PfnCmdBeginTransformFeedbackEXT(p("vkCmdBeginTransformFeedbackEXT"))
	table.CmdEndTransformFeedbackEXT = vk.PfnCmdEndTransformFeedbackEXT(p("vkCmdEndTransformFeedbackEXT"))
	table.CmdBindTransformFeedbackBuffersEXT = vk.PfnCmdBindTransformFeedbackBuffersEXT(p("vkCmdBindTransformFeedbackBuffersEXT"))
	table.QueueSubmit = vk.PfnQueueSubmit(p("vkQueueSubmit"))
	table.QueuePresentKHR = vk.PfnQueuePresentKHR(p("vkQueuePresentKHR"))
}

// queryQueueFamilies calls GetPhysicalDeviceQueueFamilyProperties
// through the instance table and classifies each family's capability
// bits, honoring the SingleQueueFamily config override (spec.md §9 Open
// Question: "always report one queue family ... preserve the behaviour
// behind a config switch").
func queryQueueFamilies(inst *instance.Instance, pd vk.PhysicalDevice) []device.QueueFamily {
	var count uint32
	inst.Table.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	if count == 0 {
		return nil
	}
	props := make([]vk.QueueFamilyProperties, count)
	inst.Table.GetPhysicalDeviceQueueFamilyProperties(pd, &count, props)

	if inst.Config.SingleQueueFamily && count > 0 {
		count = 1
		props = props[:1]
	}

	out := make([]device.QueueFamily, 0, count)
	for i := uint32(0); i < count; i++ {
		props[i].Deref()
		flags := uint32(props[i].QueueFlags)
		out = append(out, device.QueueFamily{
			Index:           i,
			QueueCount:      props[i].QueueCount,
			GraphicsCapable: flags&uint32(vk.QueueGraphicsBit) != 0,
			ComputeCapable:  flags&uint32(vk.QueueComputeBit) != 0,
			TransferCapable: flags&uint32(vk.QueueTransferBit) != 0,
		})
	}
	return out
}

// GetDeviceQueue implements spec.md §3's lazy transfer-buffer bootstrap:
// the first time a graphics-capable family's queue is fetched, the
// transfer queue/pool/command-buffer/fence quadruple is created via
// createTransfer (supplied by layer.go, which alone holds the device's
// dispatch table needed to call vkCreateCommandPool/vkAllocateCommand
// Buffers/vkCreateFence).
func GetDeviceQueue(d *device.Device, familyIndex uint32, createTransfer func(uint32) (*device.Transfer, error)) {
	qf, ok := d.QueueFamilyByIndex(familyIndex)
	if !ok || !qf.GraphicsCapable {
		return
	}
	if _, err := d.EnsureTransfer(familyIndex, createTransfer); err != nil {
		// Not logged: device has no logger and the error is not returned.
		// No transfer is recorded, so the next graphics-capable
		// GetDeviceQueue call tries to create it again.
		_ = err
	}
}

// GetPhysicalDeviceQueueFamilyProperties and its v2 sibling implement
// the same SingleQueueFamily override directly against the host's call,
// for hosts that query queue families before CreateDevice.
func GetPhysicalDeviceQueueFamilyProperties(inst *instance.Instance, pd vk.PhysicalDevice, pCount *uint32, pProps []vk.QueueFamilyProperties, forward func()) {
	forward()
	if inst.Config.SingleQueueFamily && pProps != nil && *pCount > 1 {
		*pCount = 1
	}
}

// DestroyDevice implements spec.md §3 "the transfer command buffer is
// torn down at DestroyDevice" and §4.L "destroy entries run rule events
// first, then forward".
func DestroyDevice(inst *instance.Instance, d *device.Device, destroyTransfer func(*device.Transfer), forward func()) {
	fireDeviceDestroy(inst, d)
	d.Teardown(destroyTransfer)
	forward()
	inst.RemoveDevice(d.Native)
	dispatch.Global.UnregisterDevice(uintptr(d.Native))
}

func fireDeviceCreate(inst *instance.Instance, d *device.Device) {
	if !inst.Caps.HasRules(ast.SelectorDeviceCreate) {
		return
	}
	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = ast.SelectorDeviceCreate
	ctx.Handle = d.Native
	ctx.Instance = inst.Native
	ctx.Device = d.Native
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: device_create rule error: %s", err)
	}
}

func fireDeviceDestroy(inst *instance.Instance, d *device.Device) {
	if !inst.Caps.HasRules(ast.SelectorDeviceDestroy) {
		return
	}
	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = ast.SelectorDeviceDestroy
	ctx.Handle = d.Native
	ctx.Instance = inst.Native
	ctx.Device = d.Native
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: device_destroy rule error: %s", err)
	}
}

func fireReceive(inst *instance.Instance, fd int64, connID string, data []byte) {
	if !inst.Caps.HasRules(ast.SelectorReceive) {
		return
	}
	inst.Mu.Lock()
	defer inst.Mu.Unlock()
	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = ast.SelectorReceive
	ctx.Instance = inst.Native
	ctx.AdditionalInfo = &eval.ReceiveInfo{Data: data, ConnectionID: connID}
	ctx.IPC = inst.IPC
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: receive rule error: %s (connection %s)", err, connID)
	}
}
