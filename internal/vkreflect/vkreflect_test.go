package vkreflect

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func samplePipeline() *vk.GraphicsPipelineCreateInfo {
	depth := vk.PipelineDepthStencilStateCreateInfo{
		DepthCompareOp: vk.CompareOp(vk.CompareOpLess),
	}
	viewport := vk.PipelineViewportStateCreateInfo{
		ScissorCount: 3,
		PScissors: []vk.Rect2D{
			{Extent: vk.Extent2D{Width: 800, Height: 600}},
			{Extent: vk.Extent2D{Width: 1024, Height: 768}},
			{Extent: vk.Extent2D{Width: 1920, Height: 1080}},
		},
	}
	return &vk.GraphicsPipelineCreateInfo{
		PDepthStencilState: &depth,
		PViewportState:     &viewport,
		Subpass:            2,
	}
}

func TestParsePathTokens(t *testing.T) {
	tokens, err := ParsePath("pViewportState->pScissors[2].extent.width")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	want := []Token{
		{Accessor: AccessorBare, Field: "pViewportState"},
		{Accessor: AccessorArrow, Field: "pScissors"},
		{Accessor: AccessorIndex, Index: 2},
		{Accessor: AccessorDot, Field: "extent"},
		{Accessor: AccessorDot, Field: "width"},
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d = %+v, want %+v", i, tokens[i], want[i])
		}
	}
}

func TestGetNestedPointerField(t *testing.T) {
	p := samplePipeline()
	v, err := Get("VkGraphicsPipelineCreateInfo", p, "pDepthStencilState->depthCompareOp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Kind != KindEnum || v.Int != int64(vk.CompareOpLess) {
		t.Fatalf("got %+v", v)
	}
	if s, _ := GetString("VkGraphicsPipelineCreateInfo", p, "pDepthStencilState->depthCompareOp"); s != "VK_COMPARE_OP_LESS" {
		t.Fatalf("GetString = %q", s)
	}
}

func TestGetArrayIndexIntoNestedStruct(t *testing.T) {
	p := samplePipeline()
	v, err := Get("VkGraphicsPipelineCreateInfo", p, "pViewportState->pScissors[2].extent.width")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Kind != KindUint || v.Uint != 1920 {
		t.Fatalf("got %+v", v)
	}
}

func TestGetArrayIndexOutOfBounds(t *testing.T) {
	p := samplePipeline()
	_, err := Get("VkGraphicsPipelineCreateInfo", p, "pViewportState->pScissors[5].extent.width")
	if err == nil {
		t.Fatalf("expected an out-of-bounds error")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	p := samplePipeline()
	if err := Set("VkGraphicsPipelineCreateInfo", p, "subpass", Primitive{Kind: KindUint, Uint: 7}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p.Subpass != 7 {
		t.Fatalf("Subpass = %d, want 7", p.Subpass)
	}
}

func TestAssignEnumIdentifier(t *testing.T) {
	p := samplePipeline()
	if err := Assign("VkGraphicsPipelineCreateInfo", p, "pDepthStencilState->depthCompareOp", "VK_COMPARE_OP_ALWAYS"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if p.PDepthStencilState.DepthCompareOp != vk.CompareOp(vk.CompareOpAlways) {
		t.Fatalf("DepthCompareOp = %v", p.PDepthStencilState.DepthCompareOp)
	}
}

func TestAssignFlagsOrChain(t *testing.T) {
	raster := &vk.PipelineRasterizationStateCreateInfo{}
	if err := Assign("VkPipelineRasterizationStateCreateInfo", raster, "cullMode", "VK_CULL_MODE_FRONT_BIT|VK_CULL_MODE_BACK_BIT"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if uint32(raster.CullMode) != 0x3 {
		t.Fatalf("CullMode = %#x, want 0x3", raster.CullMode)
	}
}

func TestAssignFlagsIntegerFallback(t *testing.T) {
	buf := &vk.BufferCreateInfo{}
	if err := Assign("VkBufferCreateInfo", buf, "usage", "0x90"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if uint32(buf.Usage) != 0x90 {
		t.Fatalf("Usage = %#x, want 0x90", buf.Usage)
	}
}

func TestGetTypeDoesNotNeedLiveData(t *testing.T) {
	typ, err := GetType("VkGraphicsPipelineCreateInfo", "pViewportState->pScissors[0].extent.width")
	if err != nil {
		t.Fatalf("GetType: %v", err)
	}
	if typ != "uint32_t" {
		t.Fatalf("GetType = %q, want uint32_t", typ)
	}
}

func TestDotAccessorOnPointerMemberIsRejected(t *testing.T) {
	p := samplePipeline()
	if _, err := Get("VkGraphicsPipelineCreateInfo", p, "pDepthStencilState.depthCompareOp"); err == nil {
		t.Fatalf("expected an error using '.' on a pointer member")
	}
}
