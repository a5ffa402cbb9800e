//go:build mage

package main

// manifestTemplate is the VkLayer_*.json the Vulkan loader reads to
// discover this layer, following the same shape the LunarG loader
// expects for any VK_LAYER_LUNARG-style implicit/explicit layer: a
// single "layer" object naming the library relative to the manifest
// itself, so the built .so/.dll can sit next to its json with no
// absolute paths baked in.
const manifestTemplate = `{
    "file_format_version": "1.2.0",
    "layer": {
        "name": "VK_LAYER_glasslayer_cheeky",
        "type": "GLOBAL",
        "library_path": "./%s",
        "api_version": "1.3.0",
        "implementation_version": "1",
        "description": "Vulkan interception layer: asset substitution, rule-driven mutation, telemetry",
        "functions": {
            "vkNegotiateLoaderLayerInterfaceVersion": "vkNegotiateLoaderLayerInterfaceVersion"
        }
    }
}
`
