// commands.go implements the command-buffer recording and submission
// half of spec.md §4.G/§4.H: the Cmd* bookkeeping hooks, the two copy
// commands that actually run content hashing and asset substitution,
// the draw hooks that fire the Draw selector, and the three points
// deferred on()-callbacks drain at (EndCommandBuffer, QueueSubmit,
// implicitly via the command buffer's own state).
package intercept

import (
	vk "github.com/goki/vulkan"

	"github.com/glasslayer/vkhook/internal/abi"
	"github.com/glasslayer/vkhook/internal/assets"
	"github.com/glasslayer/vkhook/internal/device"
	"github.com/glasslayer/vkhook/internal/hashcache"
	"github.com/glasslayer/vkhook/internal/instance"
	"github.com/glasslayer/vkhook/internal/rules/ast"
	"github.com/glasslayer/vkhook/internal/rules/eval"
	"github.com/glasslayer/vkhook/internal/shadow"
	"github.com/glasslayer/vkhook/internal/vkreflect"
)

// ---- pure bookkeeping Cmd* hooks (spec.md §4.G) ----

func CmdBindPipeline(d *device.Device, cb vk.CommandBuffer, pipeline vk.Pipeline, forward func()) {
	forward()
	d.Shadow.BindPipeline(abi.Of(cb), abi.Of(pipeline))
}

func CmdBindDescriptorSets(d *device.Device, cb vk.CommandBuffer, sets []vk.DescriptorSet, dynamicOffsets []uint32, forward func()) {
	forward()
	handles := make([]abi.Handle, len(sets))
	for i, s := range sets {
		handles[i] = abi.Of(s)
	}
	d.Shadow.BindDescriptorSets(abi.Of(cb), handles, dynamicOffsets)
}

func CmdBindVertexBuffers(d *device.Device, cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize, forward func()) {
	forward()
	bound := make([]shadow.BoundVertexBuffer, len(buffers))
	for i, b := range buffers {
		bound[i] = shadow.BoundVertexBuffer{Buffer: abi.Of(b), Offset: offsets[i]}
	}
	d.Shadow.BindVertexBuffers(abi.Of(cb), bound)
}

func CmdBindIndexBuffer(d *device.Device, cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType, forward func()) {
	forward()
	d.Shadow.BindIndexBuffer(abi.Of(cb), abi.Of(buffer), offset, indexType)
}

func CmdSetScissor(d *device.Device, cb vk.CommandBuffer, scissors []vk.Rect2D, forward func()) {
	forward()
	d.Shadow.SetScissor(abi.Of(cb), scissors)
}

func CmdBeginRenderPass(d *device.Device, cb vk.CommandBuffer, renderPass vk.RenderPass, framebuffer vk.Framebuffer, forward func()) {
	forward()
	d.Shadow.BeginRenderPass(abi.Of(cb), abi.Of(renderPass), abi.Of(framebuffer))
}

func CmdEndRenderPass(d *device.Device, cb vk.CommandBuffer, forward func()) {
	forward()
	d.Shadow.EndRenderPass(abi.Of(cb))
}

func CmdBeginTransformFeedbackEXT(d *device.Device, cb vk.CommandBuffer, forward func()) {
	forward()
	d.Shadow.BeginTransformFeedback(abi.Of(cb))
}

func CmdEndTransformFeedbackEXT(d *device.Device, cb vk.CommandBuffer, forward func()) {
	forward()
	d.Shadow.EndTransformFeedback(abi.Of(cb))
}

func CmdBindTransformFeedbackBuffersEXT(d *device.Device, cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize, forward func()) {
	forward()
	bound := make([]shadow.BoundVertexBuffer, len(buffers))
	for i, b := range buffers {
		bound[i] = shadow.BoundVertexBuffer{Buffer: abi.Of(b), Offset: offsets[i]}
	}
	d.Shadow.BindTransformFeedbackBuffers(abi.Of(cb), bound)
}

// ---- copy commands: the content-hashing / override entry points (spec.md §4.H) ----

// CopyBufferResult carries the hash and, when an override exists, the
// replacement bytes CmdCopyBuffer's caller (layer.go) should write into
// the mapped source region before forwarding the real copy.
type CopyBufferResult struct {
	Hash     string
	Override []byte // raw replacement bytes read from <override>/buffers/<hash>.buf, nil if none
}

// CmdCopyBuffer hashes the source buffer's full content after the real
// copy completes on the host timeline is not possible from the record
// call (the data isn't transferred yet) — so per spec.md §4.H this hooks
// the *host-visible* copy, hashing the region the application is about
// to read back through a mapped pointer, which is the only point the
// bytes are addressable from this process without waiting on the GPU.
// regionData is supplied by layer.go, which alone can read device memory
// through the host-visible mapping shadow.MemoryMapping records.
//
// Hashing, dumping and override substitution all run whether or not a
// Buffer rule is registered, matching CmdCopyBufferToImage's behaviour:
// only the rule-firing step is conditioned on HasRules, since §6's dump
// directory and §5's override cache are independent of the rule program.
func CmdCopyBuffer(inst *instance.Instance, d *device.Device, srcBuffer, dstBuffer abi.Handle, regionData []byte, forward func()) CopyBufferResult {
	forward()
	if regionData == nil {
		return CopyBufferResult{}
	}

	out := CopyBufferResult{Hash: hashcache.Hash(regionData)}
	inst.Global.SetHash(dstBuffer, out.Hash)

	if inst.Config.Dump {
		if err := assets.WriteDump(assets.DumpPath(inst.Config.DumpDirectory, hashcache.KindBuffers, out.Hash, "buf"), regionData); err != nil {
			inst.Logger.Warnf("intercept: dump buffer %s: %s", out.Hash, err)
		}
	}

	if inst.Config.Override && inst.Overrides != nil && inst.Overrides.HasOverride(hashcache.KindBuffers, out.Hash) {
		raw, err := assets.ReadOverride(inst.Overrides.OverridePath(hashcache.KindBuffers, out.Hash, "buf"))
		if err != nil {
			inst.Logger.Warnf("intercept: read buffer override %s: %s", out.Hash, err)
		} else {
			out.Override = raw
		}
	}

	if inst.Caps.HasRules(ast.SelectorBuffer) {
		fireAssetSelector(inst, ast.SelectorBuffer, dstBuffer, out.Hash)
	}
	return out
}

// CmdCopyBufferToImage hashes, optionally substitutes and optionally
// PNG-dumps the top mip level of a texture upload (spec.md §4.H, §6
// "<dump>/images/png/<WxH>/<hash>.png"). Lower mips are left untouched.
// This function only decides content: the caller (layer_hooks.go) writes
// OverrideRaw into the mapped source buffer only when the destination
// image has LINEAR tiling. OPTIMAL destinations are still hashed, dumped
// and matched against rules, but their bytes are forwarded unchanged;
// there is no staging-buffer path for them.
type CopyBufferToImageResult struct {
	Hash        string
	Override    []byte // decoded RGBA8 override pixels, nil if no override or decode unsupported
	OverrideRaw []byte // bytes to forward in destFormat: either a raw <hash>.image file verbatim, or a <hash>.png re-encoded to destFormat; nil if neither applies
}

func CmdCopyBufferToImage(
	inst *instance.Instance,
	d *device.Device,
	dstImage abi.Handle,
	destFormat vk.Format,
	width, height int,
	mip0Data []byte,
	forward func(),
) CopyBufferToImageResult {
	forward()

	out := CopyBufferToImageResult{Hash: hashcache.Hash(mip0Data)}
	inst.Global.SetHash(dstImage, out.Hash)

	if inst.Config.DumpPNG {
		if rgba, err := decodeForDump(destFormat, mip0Data, width, height); err == nil {
			if png, err := encodePNG(rgba, width, height, inst.Config.DumpPNGFlipped); err == nil {
				path := assets.DumpPNGPath(inst.Config.DumpDirectory, width, height, out.Hash)
				if err := assets.WriteDump(path, png); err != nil {
					inst.Logger.Warnf("intercept: dump png %s: %s", out.Hash, err)
				}
			}
		}
	}
	if inst.Config.Dump {
		if err := assets.WriteDump(assets.DumpPath(inst.Config.DumpDirectory, hashcache.KindImages, out.Hash, "image"), mip0Data); err != nil {
			inst.Logger.Warnf("intercept: dump image %s: %s", out.Hash, err)
		}
	}

	if inst.Config.Override && inst.Overrides != nil && inst.Overrides.HasOverride(hashcache.KindImages, out.Hash) {
		// Two override shapes are recognised, per §8 scenario #1 (raw
		// <hash>.image, forwarded byte-for-byte) and §4.H/§6's decodable
		// <hash>.png side channel (decoded then re-encoded to destFormat).
		// The raw form takes priority: it is already in destFormat, so no
		// decode/re-encode round-trip is needed to use it.
		if raw, err := assets.ReadOverride(inst.Overrides.OverridePath(hashcache.KindImages, out.Hash, "image")); err == nil {
			out.OverrideRaw = raw
			if codec, ok := assets.Lookup(destFormat); ok && codec.DecompressionSupported() {
				if rgba, err := codec.Decoder.Decode(raw, width, height); err == nil {
					out.Override = rgba
					d.Shadow.SetImageCache(dstImage, rgba, width, height)
				}
			}
		} else if png, err := assets.ReadOverride(inst.Overrides.OverridePath(hashcache.KindImages, out.Hash, "png")); err == nil {
			if rgba, w, h, err := decodePNG(png, inst.Config.OverridePNGFlipped); err == nil {
				out.Override = rgba
				d.Shadow.SetImageCache(dstImage, rgba, w, h)
				if codec, ok := assets.Lookup(destFormat); ok && codec.CompressionSupported() {
					if enc, err := codec.Encoder.Encode(rgba, w, h); err == nil {
						out.OverrideRaw = enc
					}
				}
			}
		} else {
			inst.Logger.Warnf("intercept: read image override %s: no .image or .png file found", out.Hash)
		}
	}

	if inst.Caps.HasRules(ast.SelectorImage) {
		fireAssetSelector(inst, ast.SelectorImage, dstImage, out.Hash)
	}
	return out
}

// CmdCopyBufferToImageLowerMip implements the image-primer supplement
// (SPEC_FULL.md, spec.md §4.H): "if only the top-resolution override
// exists, lower mips are re-encoded from the cached RGBA on subsequent
// uploads of the same image." Unlike mip 0, this never hashes or fires
// rules (spec.md §4.H restricts that to the mip0 case); it only produces
// replacement bytes when a cached top-mip override is present and the
// destination format can be re-encoded to.
func CmdCopyBufferToImageLowerMip(d *device.Device, dstImage abi.Handle, destFormat vk.Format, mipWidth, mipHeight int) []byte {
	imgRec, ok := d.Shadow.Image(dstImage)
	if !ok || imgRec.CachedRGBA == nil {
		return nil
	}
	scaled := assets.ScaleRGBA(imgRec.CachedRGBA, imgRec.CachedWidth, imgRec.CachedHeight, mipWidth, mipHeight)
	if scaled == nil {
		return nil
	}
	codec, ok := assets.Lookup(destFormat)
	if !ok || !codec.CompressionSupported() {
		return nil
	}
	enc, err := codec.Encoder.Encode(scaled, mipWidth, mipHeight)
	if err != nil {
		return nil
	}
	return enc
}

// decodeForDump decompresses a block-compressed mip via internal/assets's
// codec registry for PNG dump purposes; uncompressed formats are assumed
// already RGBA8 and passed through.
func decodeForDump(format vk.Format, data []byte, width, height int) ([]byte, error) {
	if codec, ok := assets.Lookup(format); ok && codec.DecompressionSupported() {
		return codec.Decoder.Decode(data, width, height)
	}
	return data, nil
}

func fireAssetSelector(inst *instance.Instance, sel ast.SelectorType, handle abi.Handle, hash string) {
	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = sel
	ctx.Handle = handle
	ctx.Instance = inst.Native
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: %s rule error: %s", sel, err)
	}
}

// ---- draw commands (spec.md §4.D/§4.H) ----

// drawContext gathers the images/buffers/shaders reachable from a
// command buffer's currently bound pipeline and descriptor sets, the
// shape the Draw selector's additional_info exposes (spec.md §4.D).
func drawContext(d *device.Device, cbState *shadow.CommandBufferState) (images, buffers, shaders, descriptorSets []abi.Handle) {
	for _, v := range cbState.VertexBuffers {
		buffers = append(buffers, v.Buffer)
	}
	if cbState.IndexBuffer != 0 {
		buffers = append(buffers, cbState.IndexBuffer)
	}
	if pipe, ok := d.Shadow.Pipeline(cbState.BoundPipeline); ok {
		for _, st := range pipe.Stages {
			shaders = append(shaders, st.CustomHandle)
		}
	}
	for _, set := range cbState.DescriptorSets {
		descriptorSets = append(descriptorSets, set)
	}
	for _, set := range cbState.DescriptorSets {
		st := d.Shadow.DescriptorSet(set)
		for _, b := range st.Bindings {
			for _, elem := range b.Elements {
				switch b.Kind {
				case shadow.DescriptorKindImage:
					images = append(images, elem.Handle)
				case shadow.DescriptorKindBuffer:
					buffers = append(buffers, elem.Handle)
				}
			}
		}
	}
	return
}

// CmdDraw and CmdDrawIndexed fire the Draw selector before forwarding,
// honoring cancel() (spec.md §4.D: "cancel() suppresses the call to the
// next layer entirely").
func CmdDraw(inst *instance.Instance, d *device.Device, cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32, forward func()) {
	if !inst.Caps.HookDrawCalls() {
		forward()
		return
	}
	info := vkreflect.CmdDrawInfo{VertexCount: vertexCount, InstanceCount: instanceCount, FirstVertex: firstVertex, FirstInstance: firstInstance}
	canceled := fireDraw(inst, d, abi.Of(cb), "CmdDrawInfo", &info, false)
	if !canceled {
		forward()
	}
}

func CmdDrawIndexed(inst *instance.Instance, d *device.Device, cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32, forward func()) {
	if !inst.Caps.HookDrawCalls() {
		forward()
		return
	}
	info := vkreflect.CmdDrawIndexedInfo{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    uint32(firstIndex),
		VertexOffset:  vertexOffset,
		FirstInstance: firstInstance,
	}
	canceled := fireDraw(inst, d, abi.Of(cb), "CmdDrawIndexedInfo", &info, true)
	if !canceled {
		forward()
	}
}

func fireDraw(inst *instance.Instance, d *device.Device, cb abi.Handle, reflectType string, reflectRoot interface{}, indexed bool) (canceled bool) {
	if !inst.Caps.HasRules(ast.SelectorDraw) {
		return false
	}
	cbState, ok := d.Shadow.CommandBufferState(cb)
	if !ok {
		cbState = &shadow.CommandBufferState{}
	}
	images, buffers, shaders, sets := drawContext(d, cbState)

	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = ast.SelectorDraw
	ctx.Instance = inst.Native
	ctx.CommandBuffer = cb
	ctx.Handle = cbState.BoundPipeline
	ctx.AdditionalInfo = &eval.DrawInfo{
		Images:          images,
		Buffers:         buffers,
		Shaders:         shaders,
		DescriptorSets:  sets,
		Pipeline:        cbState.BoundPipeline,
		Indexed:         indexed,
		ReflectRootType: reflectType,
		ReflectRoot:     reflectRoot,
	}
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: draw rule error: %s", err)
		return false
	}
	return ctx.Canceled
}

// ---- deferred-callback drain points (spec.md §4.C/§4.D) ----

// EndCommandBuffer drains every on(EndCommandBuffer, ...) callback queued
// for cb before forwarding, so a callback's own action (including one
// that mutates this command buffer) runs while it is still being
// recorded.
func EndCommandBuffer(inst *instance.Instance, cb abi.Handle, forward func() vk.Result) vk.Result {
	drainDeferred(inst, cb, inst.Global.DrainEndCommandBuffer(cb))
	return forward()
}

// QueueSubmit drains every on(QueueSubmit, ...) callback queued for each
// command buffer in the submission, in submission order, before
// forwarding the batch.
func QueueSubmit(inst *instance.Instance, commandBuffers []abi.Handle, forward func() vk.Result) vk.Result {
	for _, cb := range commandBuffers {
		drainDeferred(inst, cb, inst.Global.DrainQueueSubmit(cb))
	}
	return forward()
}

func drainDeferred(inst *instance.Instance, cb abi.Handle, callbacks []eval.DeferredCallback) {
	for _, dc := range callbacks {
		if err := eval.RunAction(dc.Action, dc.Ctx); err != nil {
			inst.Logger.Warnf("intercept: deferred callback error: %s", err)
		}
	}
}

// QueuePresentKHR fires the Present selector, honoring cancel() the same
// way draw calls do (spec.md §4.D).
func QueuePresentKHR(inst *instance.Instance, imageIndices []uint32, forward func() vk.Result) vk.Result {
	if !inst.Caps.HasRules(ast.SelectorPresent) {
		return forward()
	}
	ctx := eval.NewContext(inst.Global, inst.Logger)
	ctx.SelectorType = ast.SelectorPresent
	ctx.Instance = inst.Native
	ctx.AdditionalInfo = &eval.PresentInfo{ImageIndices: imageIndices}
	if err := eval.ExecuteRules(inst.Program, ctx); err != nil {
		inst.Logger.Warnf("intercept: present rule error: %s", err)
	}
	if ctx.Canceled {
		return vk.Success
	}
	return forward()
}
