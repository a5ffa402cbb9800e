package vkreflect

import vk "github.com/goki/vulkan"

// structRegistry is the closed set of Vk*CreateInfo and nested value
// structs the reflection path can address, keyed by Vulkan type name
// (spec.md §4.B: "a static table of struct layouts covering the
// CreateInfo types the rule language is documented to reach").
var structRegistry = map[string]*StructDef{}

func register(def *StructDef) { structRegistry[def.Name] = def }

func init() {
	register(newStructDef("VkExtent2D", vk.Extent2D{},
		field("width", "Width", "uint32_t"),
		field("height", "Height", "uint32_t"),
	))
	register(newStructDef("VkExtent3D", vk.Extent3D{},
		field("width", "Width", "uint32_t"),
		field("height", "Height", "uint32_t"),
		field("depth", "Depth", "uint32_t"),
	))
	register(newStructDef("VkOffset2D", vk.Offset2D{},
		field("x", "X", "int32_t"),
		field("y", "Y", "int32_t"),
	))
	register(newStructDef("VkRect2D", vk.Rect2D{},
		field("offset", "Offset", "VkOffset2D"),
		field("extent", "Extent", "VkExtent2D"),
	))
	register(newStructDef("VkViewport", vk.Viewport{},
		field("x", "X", "float"),
		field("y", "Y", "float"),
		field("width", "Width", "float"),
		field("height", "Height", "float"),
		field("minDepth", "MinDepth", "float"),
		field("maxDepth", "MaxDepth", "float"),
	))
	register(newStructDef("VkStencilOpState", vk.StencilOpState{},
		field("failOp", "FailOp", "VkStencilOp"),
		field("passOp", "PassOp", "VkStencilOp"),
		field("depthFailOp", "DepthFailOp", "VkStencilOp"),
		field("compareOp", "CompareOp", "VkCompareOp"),
		field("compareMask", "CompareMask", "uint32_t"),
		field("writeMask", "WriteMask", "uint32_t"),
		field("reference", "Reference", "uint32_t"),
	))

	register(newStructDef("VkPipelineViewportStateCreateInfo", vk.PipelineViewportStateCreateInfo{},
		field("viewportCount", "ViewportCount", "uint32_t"),
		arrayField("pViewports", "PViewports", "VkViewport", "viewportCount"),
		field("scissorCount", "ScissorCount", "uint32_t"),
		arrayField("pScissors", "PScissors", "VkRect2D", "scissorCount"),
	))
	register(newStructDef("VkPipelineDepthStencilStateCreateInfo", vk.PipelineDepthStencilStateCreateInfo{},
		field("depthTestEnable", "DepthTestEnable", "VkBool32"),
		field("depthWriteEnable", "DepthWriteEnable", "VkBool32"),
		field("depthCompareOp", "DepthCompareOp", "VkCompareOp"),
		field("depthBoundsTestEnable", "DepthBoundsTestEnable", "VkBool32"),
		field("stencilTestEnable", "StencilTestEnable", "VkBool32"),
		field("front", "Front", "VkStencilOpState"),
		field("back", "Back", "VkStencilOpState"),
		field("minDepthBounds", "MinDepthBounds", "float"),
		field("maxDepthBounds", "MaxDepthBounds", "float"),
	))
	register(newStructDef("VkPipelineRasterizationStateCreateInfo", vk.PipelineRasterizationStateCreateInfo{},
		field("depthClampEnable", "DepthClampEnable", "VkBool32"),
		field("rasterizerDiscardEnable", "RasterizerDiscardEnable", "VkBool32"),
		field("polygonMode", "PolygonMode", "VkPolygonMode"),
		field("cullMode", "CullMode", "VkCullModeFlagBits"),
		field("frontFace", "FrontFace", "VkFrontFace"),
		field("depthBiasEnable", "DepthBiasEnable", "VkBool32"),
		field("depthBiasConstantFactor", "DepthBiasConstantFactor", "float"),
		field("depthBiasClamp", "DepthBiasClamp", "float"),
		field("depthBiasSlopeFactor", "DepthBiasSlopeFactor", "float"),
		field("lineWidth", "LineWidth", "float"),
	))
	register(newStructDef("VkPipelineMultisampleStateCreateInfo", vk.PipelineMultisampleStateCreateInfo{},
		field("rasterizationSamples", "RasterizationSamples", "VkSampleCountFlagBits"),
		field("sampleShadingEnable", "SampleShadingEnable", "VkBool32"),
		field("minSampleShading", "MinSampleShading", "float"),
		field("alphaToCoverageEnable", "AlphaToCoverageEnable", "VkBool32"),
		field("alphaToOneEnable", "AlphaToOneEnable", "VkBool32"),
	))
	register(newStructDef("VkPipelineInputAssemblyStateCreateInfo", vk.PipelineInputAssemblyStateCreateInfo{},
		field("topology", "Topology", "VkPrimitiveTopology"),
		field("primitiveRestartEnable", "PrimitiveRestartEnable", "VkBool32"),
	))
	register(newStructDef("VkVertexInputBindingDescription", vk.VertexInputBindingDescription{},
		field("binding", "Binding", "uint32_t"),
		field("stride", "Stride", "uint32_t"),
		field("inputRate", "InputRate", "VkVertexInputRate"),
	))
	register(newStructDef("VkVertexInputAttributeDescription", vk.VertexInputAttributeDescription{},
		field("location", "Location", "uint32_t"),
		field("binding", "Binding", "uint32_t"),
		field("format", "Format", "VkFormat"),
		field("offset", "Offset", "uint32_t"),
	))
	register(newStructDef("VkPipelineVertexInputStateCreateInfo", vk.PipelineVertexInputStateCreateInfo{},
		field("vertexBindingDescriptionCount", "VertexBindingDescriptionCount", "uint32_t"),
		arrayField("pVertexBindingDescriptions", "PVertexBindingDescriptions", "VkVertexInputBindingDescription", "vertexBindingDescriptionCount"),
		field("vertexAttributeDescriptionCount", "VertexAttributeDescriptionCount", "uint32_t"),
		arrayField("pVertexAttributeDescriptions", "PVertexAttributeDescriptions", "VkVertexInputAttributeDescription", "vertexAttributeDescriptionCount"),
	))
	register(newStructDef("VkPipelineShaderStageCreateInfo", vk.PipelineShaderStageCreateInfo{},
		field("stage", "Stage", "VkShaderStageFlagBits"),
		field("module", "Module", "VkShaderModule"),
		field("pName", "PName", "char*"),
	))

	register(newStructDef("VkGraphicsPipelineCreateInfo", vk.GraphicsPipelineCreateInfo{},
		field("flags", "Flags", "VkPipelineCreateFlags"),
		field("stageCount", "StageCount", "uint32_t"),
		arrayField("pStages", "PStages", "VkPipelineShaderStageCreateInfo", "stageCount"),
		pointerField("pVertexInputState", "PVertexInputState", "VkPipelineVertexInputStateCreateInfo"),
		pointerField("pInputAssemblyState", "PInputAssemblyState", "VkPipelineInputAssemblyStateCreateInfo"),
		pointerField("pViewportState", "PViewportState", "VkPipelineViewportStateCreateInfo"),
		pointerField("pRasterizationState", "PRasterizationState", "VkPipelineRasterizationStateCreateInfo"),
		pointerField("pMultisampleState", "PMultisampleState", "VkPipelineMultisampleStateCreateInfo"),
		pointerField("pDepthStencilState", "PDepthStencilState", "VkPipelineDepthStencilStateCreateInfo"),
		field("layout", "Layout", "VkPipelineLayout"),
		field("renderPass", "RenderPass", "VkRenderPass"),
		field("subpass", "Subpass", "uint32_t"),
	))

	register(newStructDef("VkBufferCreateInfo", vk.BufferCreateInfo{},
		field("flags", "Flags", "VkBufferCreateFlags"),
		field("size", "Size", "VkDeviceSize"),
		field("usage", "Usage", "VkBufferUsageFlagBits"),
		field("sharingMode", "SharingMode", "VkSharingMode"),
	))
	register(newStructDef("VkImageCreateInfo", vk.ImageCreateInfo{},
		field("flags", "Flags", "VkImageCreateFlags"),
		field("imageType", "ImageType", "VkImageType"),
		field("format", "Format", "VkFormat"),
		field("extent", "Extent", "VkExtent3D"),
		field("mipLevels", "MipLevels", "uint32_t"),
		field("arrayLayers", "ArrayLayers", "uint32_t"),
		field("samples", "Samples", "VkSampleCountFlagBits"),
		field("tiling", "Tiling", "VkImageTiling"),
		field("usage", "Usage", "VkImageUsageFlagBits"),
		field("initialLayout", "InitialLayout", "VkImageLayout"),
	))
	register(newStructDef("VkImageViewCreateInfo", vk.ImageViewCreateInfo{},
		field("flags", "Flags", "VkImageViewCreateFlags"),
		field("image", "Image", "VkImage"),
		field("viewType", "ViewType", "VkImageViewType"),
		field("format", "Format", "VkFormat"),
	))
	register(newStructDef("VkFramebufferCreateInfo", vk.FramebufferCreateInfo{},
		field("flags", "Flags", "VkFramebufferCreateFlags"),
		field("renderPass", "RenderPass", "VkRenderPass"),
		field("attachmentCount", "AttachmentCount", "uint32_t"),
		field("width", "Width", "uint32_t"),
		field("height", "Height", "uint32_t"),
		field("layers", "Layers", "uint32_t"),
	))
	register(newStructDef("VkSwapchainCreateInfoKHR", vk.SwapchainCreateInfoKhr{},
		field("flags", "Flags", "VkSwapchainCreateFlagsKHR"),
		field("minImageCount", "MinImageCount", "uint32_t"),
		field("imageFormat", "ImageFormat", "VkFormat"),
		field("imageExtent", "ImageExtent", "VkExtent2D"),
		field("imageArrayLayers", "ImageArrayLayers", "uint32_t"),
		field("imageUsage", "ImageUsage", "VkImageUsageFlagBits"),
		field("presentMode", "PresentMode", "VkPresentModeKHR"),
		field("clipped", "Clipped", "VkBool32"),
	))
	register(newStructDef("VkShaderModuleCreateInfo", vk.ShaderModuleCreateInfo{},
		field("flags", "Flags", "VkShaderModuleCreateFlags"),
		field("codeSize", "CodeSize", "size_t"),
	))
	register(newStructDef("VkDescriptorSetLayoutBinding", vk.DescriptorSetLayoutBinding{},
		field("binding", "Binding", "uint32_t"),
		field("descriptorType", "DescriptorType", "VkDescriptorType"),
		field("descriptorCount", "DescriptorCount", "uint32_t"),
		field("stageFlags", "StageFlags", "VkShaderStageFlagBits"),
	))
	register(newStructDef("VkDescriptorSetLayoutCreateInfo", vk.DescriptorSetLayoutCreateInfo{},
		field("flags", "Flags", "VkDescriptorSetLayoutCreateFlags"),
		field("bindingCount", "BindingCount", "uint32_t"),
		arrayField("pBindings", "PBindings", "VkDescriptorSetLayoutBinding", "bindingCount"),
	))

	// CmdDrawInfo/CmdDrawIndexedInfo are synthetic: the draw commands have
	// no Vulkan CreateInfo struct of their own, but rules address their
	// parameters the same way (spec.md §4.H "draw selectors expose their
	// arguments through the same get/get_string surface as a CreateInfo").
	register(newStructDef("CmdDrawInfo", CmdDrawInfo{},
		field("vertexCount", "VertexCount", "uint32_t"),
		field("instanceCount", "InstanceCount", "uint32_t"),
		field("firstVertex", "FirstVertex", "uint32_t"),
		field("firstInstance", "FirstInstance", "uint32_t"),
	))
	register(newStructDef("CmdDrawIndexedInfo", CmdDrawIndexedInfo{},
		field("indexCount", "IndexCount", "uint32_t"),
		field("instanceCount", "InstanceCount", "uint32_t"),
		field("firstIndex", "FirstIndex", "uint32_t"),
		field("vertexOffset", "VertexOffset", "int32_t"),
		field("firstInstance", "FirstInstance", "uint32_t"),
	))
}

// CmdDrawInfo mirrors the argument list of vkCmdDraw.
type CmdDrawInfo struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// CmdDrawIndexedInfo mirrors the argument list of vkCmdDrawIndexed.
type CmdDrawIndexedInfo struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// Lookup returns the registered StructDef for a Vulkan type name.
func Lookup(typeName string) (*StructDef, bool) {
	def, ok := structRegistry[typeName]
	return def, ok
}
