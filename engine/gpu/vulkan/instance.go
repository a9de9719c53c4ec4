package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/gpu/headless"
)

func safeString(s string) string {
	return s + "\x00"
}

// ProbeSystemCapabilities loads the Vulkan loader, creates a throwaway
// instance and probes the first discrete GPU, or the first GPU if none is
// discrete. No surface or window is involved.
func ProbeSystemCapabilities(appName string) (headless.Capabilities, error) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return headless.Capabilities{}, fmt.Errorf("failed to load the vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return headless.Capabilities{}, fmt.Errorf("failed to initialize vk: %w", err)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(appName),
		PEngineName:        safeString("Anima Stream"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return headless.Capabilities{}, fmt.Errorf("failed in creating the Vulkan Instance with error %d", res)
	}
	defer vk.DestroyInstance(instance, nil)
	if err := vk.InitInstance(instance); err != nil {
		return headless.Capabilities{}, err
	}

	var count uint32
	if res := vk.EnumeratePhysicalDevices(instance, &count, nil); res != vk.Success {
		return headless.Capabilities{}, fmt.Errorf("error in EnumeratePhysicalDevices")
	}
	if count == 0 {
		return headless.Capabilities{}, fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrMissingDeviceCapability)
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(instance, &count, physicalDevices); res != vk.Success {
		return headless.Capabilities{}, fmt.Errorf("error in EnumeratePhysicalDevices")
	}

	selected := physicalDevices[0]
	for _, physical := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()
		if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			selected = physical
			break
		}
	}
	return ProbeCapabilities(selected)
}
