package vkreflect

// enumRegistry maps a static type name ("VkCompareOp") to its named
// values. The same table backs both directions: identifier -> numeric
// value for assign, numeric value -> identifier for get_string.
var enumRegistry = map[string]map[string]int64{
	"VkBool32": {
		"VK_TRUE":  1,
		"VK_FALSE": 0,
	},
	"VkCompareOp": {
		"VK_COMPARE_OP_NEVER":            0,
		"VK_COMPARE_OP_LESS":             1,
		"VK_COMPARE_OP_EQUAL":            2,
		"VK_COMPARE_OP_LESS_OR_EQUAL":    3,
		"VK_COMPARE_OP_GREATER":          4,
		"VK_COMPARE_OP_NOT_EQUAL":        5,
		"VK_COMPARE_OP_GREATER_OR_EQUAL": 6,
		"VK_COMPARE_OP_ALWAYS":           7,
	},
	"VkPolygonMode": {
		"VK_POLYGON_MODE_FILL":  0,
		"VK_POLYGON_MODE_LINE":  1,
		"VK_POLYGON_MODE_POINT": 2,
	},
	"VkCullModeFlagBits": {
		"VK_CULL_MODE_NONE":           0x0,
		"VK_CULL_MODE_FRONT_BIT":      0x1,
		"VK_CULL_MODE_BACK_BIT":       0x2,
		"VK_CULL_MODE_FRONT_AND_BACK": 0x3,
	},
	"VkFrontFace": {
		"VK_FRONT_FACE_COUNTER_CLOCKWISE": 0,
		"VK_FRONT_FACE_CLOCKWISE":         1,
	},
	"VkSampleCountFlagBits": {
		"VK_SAMPLE_COUNT_1_BIT":  0x01,
		"VK_SAMPLE_COUNT_2_BIT":  0x02,
		"VK_SAMPLE_COUNT_4_BIT":  0x04,
		"VK_SAMPLE_COUNT_8_BIT":  0x08,
		"VK_SAMPLE_COUNT_16_BIT": 0x10,
	},
	"VkImageUsageFlagBits": {
		"VK_IMAGE_USAGE_TRANSFER_SRC_BIT":             0x00000001,
		"VK_IMAGE_USAGE_TRANSFER_DST_BIT":              0x00000002,
		"VK_IMAGE_USAGE_SAMPLED_BIT":                   0x00000004,
		"VK_IMAGE_USAGE_STORAGE_BIT":                   0x00000008,
		"VK_IMAGE_USAGE_COLOR_ATTACHMENT_BIT":          0x00000010,
		"VK_IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT_BIT":  0x00000020,
	},
	"VkBufferUsageFlagBits": {
		"VK_BUFFER_USAGE_TRANSFER_SRC_BIT":   0x00000001,
		"VK_BUFFER_USAGE_TRANSFER_DST_BIT":   0x00000002,
		"VK_BUFFER_USAGE_UNIFORM_BUFFER_BIT": 0x00000010,
		"VK_BUFFER_USAGE_STORAGE_BUFFER_BIT": 0x00000020,
		"VK_BUFFER_USAGE_VERTEX_BUFFER_BIT":  0x00000080,
		"VK_BUFFER_USAGE_INDEX_BUFFER_BIT":   0x00000040,
	},
	"VkFormat": {
		"VK_FORMAT_UNDEFINED":       0,
		"VK_FORMAT_R8G8B8A8_UNORM":  37,
		"VK_FORMAT_R8G8B8A8_SRGB":   43,
		"VK_FORMAT_B8G8R8A8_UNORM":  44,
		"VK_FORMAT_D32_SFLOAT":      126,
	},
	"VkImageLayout": {
		"VK_IMAGE_LAYOUT_UNDEFINED":                0,
		"VK_IMAGE_LAYOUT_GENERAL":                  1,
		"VK_IMAGE_LAYOUT_COLOR_ATTACHMENT_OPTIMAL":  2,
		"VK_IMAGE_LAYOUT_TRANSFER_SRC_OPTIMAL":      6,
		"VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL":      7,
		"VK_IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL":  5,
		"VK_IMAGE_LAYOUT_PRESENT_SRC_KHR":            1000001002,
	},
}

// flagsTypes marks which static types parse as OR-chains ("A | B | C")
// rather than single identifiers.
var flagsTypes = map[string]bool{
	"VkCullModeFlagBits":    true,
	"VkSampleCountFlagBits": true,
	"VkImageUsageFlagBits":  true,
	"VkBufferUsageFlagBits": true,
}

// lookupEnumValue resolves a single identifier within typeName's table.
func lookupEnumValue(typeName, identifier string) (int64, bool) {
	table, ok := enumRegistry[typeName]
	if !ok {
		return 0, false
	}
	v, ok := table[identifier]
	return v, ok
}

// lookupEnumName reverse-looks-up value within typeName's table. Ties
// (shouldn't occur in a well-formed table) resolve to the first match in
// map iteration order, which is acceptable for a closed hand-written set.
func lookupEnumName(typeName string, value int64) (string, bool) {
	table, ok := enumRegistry[typeName]
	if !ok {
		return "", false
	}
	for name, v := range table {
		if v == value {
			return name, true
		}
	}
	return "", false
}

// isFlagsType reports whether typeName's values combine via bitwise OR.
func isFlagsType(typeName string) bool {
	return flagsTypes[typeName]
}
