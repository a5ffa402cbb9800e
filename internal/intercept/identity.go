package intercept

import (
	"reflect"

	vk "github.com/goki/vulkan"
)

// EnumerateInstanceLayerProperties and EnumerateDeviceLayerProperties
// append this layer's own VkLayerProperties entry to whatever the next
// link in the chain reports, so a host application that walks the layer
// list sees this layer advertise itself by name (spec.md §6). Both take
// the next layer's already-populated result and a pCount the caller owns
// (the loader's two-call convention: a first call with pProperties==nil
// just asks for the count).
func EnumerateInstanceLayerProperties(pCount *uint32, pProperties []vk.LayerProperties, nextCount uint32) uint32 {
	total := nextCount + 1
	if pProperties == nil {
		*pCount = total
		return total
	}
	if uint32(len(pProperties)) <= nextCount {
		*pCount = nextCount
		return nextCount
	}
	fillLayerProperties(&pProperties[nextCount])
	*pCount = total
	return total
}

// EnumerateDeviceLayerProperties mirrors EnumerateInstanceLayerProperties
// for the per-device enumeration entry point (spec.md §4.L: device-layer
// enumeration is deprecated by the Vulkan spec but loaders still call it).
func EnumerateDeviceLayerProperties(pCount *uint32, pProperties []vk.LayerProperties, nextCount uint32) uint32 {
	return EnumerateInstanceLayerProperties(pCount, pProperties, nextCount)
}

func fillLayerProperties(p *vk.LayerProperties) {
	writeFixedString(&p.LayerName, LayerName)
	writeFixedString(&p.Description, LayerDescription)
	p.SpecVersion = uint32(vk.MakeVersion(LayerSpecVersionMajor, LayerSpecVersionMinor, 0))
	p.ImplementationVersion = 1
}

// EnumerateInstanceExtensionProperties and EnumerateDeviceExtensionProperties
// report zero extensions when queried for this layer's name specifically
// (spec.md §6: "it exposes zero extensions"), forwarding to the next
// layer untouched for any other pLayerName (including nil, meaning "the
// driver's own extensions").
func EnumerateInstanceExtensionProperties(layerName string, forward func() (uint32, vk.Result)) (uint32, vk.Result) {
	if layerName == LayerName {
		return 0, vk.Success
	}
	return forward()
}

func EnumerateDeviceExtensionProperties(layerName string, forward func() (uint32, vk.Result)) (uint32, vk.Result) {
	if layerName == LayerName {
		return 0, vk.Success
	}
	return forward()
}

// writeFixedString copies s (NUL-terminated, truncated to fit) into a
// fixed-size char array field of a generated Vulkan struct. goki/vulkan
// exposes these as plain fixed arrays of an integer kind (int8 on some
// platforms, uint8/byte on others); reflection keeps this one helper
// correct regardless of which the generator chose, rather than this
// module guessing and breaking on the other platform.
func writeFixedString(arr interface{}, s string) {
	v := reflect.ValueOf(arr).Elem()
	n := v.Len()
	if n == 0 {
		return
	}
	last := n - 1
	if len(s) < last {
		last = len(s)
	}
	for i := 0; i < last; i++ {
		setByteElem(v.Index(i), s[i])
	}
	setByteElem(v.Index(last), 0)
}

func setByteElem(elem reflect.Value, b byte) {
	switch elem.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		elem.SetUint(uint64(b))
	default:
		elem.SetInt(int64(b))
	}
}
