package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
)

const (
	subgroupSizeControlExtension = "VK_EXT_subgroup_size_control"
	meshShaderExtension          = "VK_EXT_mesh_shader"

	vendorAMD    = 0x1002
	vendorNVIDIA = 0x10de
	vendorIntel  = 0x8086
)

// subgroupRange returns the subgroup sizes (log2) a vendor's hardware can be
// pinned to once subgroup size control is available.
func subgroupRange(vendorID uint32) (minLog2, maxLog2 uint32) {
	switch vendorID {
	case vendorAMD:
		return 5, 6
	case vendorIntel:
		return 3, 5
	case vendorNVIDIA:
		return 5, 5
	default:
		return 5, 5
	}
}

func deviceExtensions(physical vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil); res != vk.Success {
		return nil, fmt.Errorf("error in EnumerateDeviceExtensionProperties")
	}
	available := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, available); res != vk.Success {
			return nil, fmt.Errorf("error in EnumerateDeviceExtensionProperties")
		}
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[vk.ToString(available[i].ExtensionName[:])] = true
	}
	return names, nil
}

// ProbeCapabilities reads the limits, format support, heap sizes and extension
// support of a physical device.
func ProbeCapabilities(physical vk.PhysicalDevice) (headless.Capabilities, error) {
	caps := headless.Capabilities{}

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physical, &properties)
	properties.Deref()
	properties.Limits.Deref()
	caps.Limits.MaxComputeWorkGroupCount = properties.Limits.MaxComputeWorkGroupCount

	extensions, err := deviceExtensions(physical)
	if err != nil {
		return caps, err
	}
	if extensions[subgroupSizeControlExtension] {
		caps.SubgroupSizeControl = true
		caps.SubgroupMinLog2, caps.SubgroupMaxLog2 = subgroupRange(properties.VendorID)
	}
	caps.MeshShader = extensions[meshShaderExtension]

	caps.Formats = make(map[gpu.Format]gpu.FormatFeature)
	for _, format := range Formats() {
		var fp vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(physical, ToVkFormat(format), &fp)
		fp.Deref()
		caps.Formats[format] = FromVkFormatFeatures(fp.OptimalTilingFeatures)
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
	memory.Deref()
	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		local := vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0
		caps.Heaps = append(caps.Heaps, gpu.HeapBudget{
			BudgetSize:  uint64(memory.MemoryHeaps[j].Size),
			DeviceLocal: local,
		})
	}

	core.LogInfo("Probed device '%s': subgroup control %t, mesh shader %t, %d heaps.",
		vk.ToString(properties.DeviceName[:]), caps.SubgroupSizeControl, caps.MeshShader, len(caps.Heaps))
	return caps, nil
}
