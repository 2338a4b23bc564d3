package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
)

// maxQueues is the number of queues requested from the selected family.
const maxQueues = 4

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// One family serves graphics, compute and transfer.
	QueueFamilyIndex uint32
	QueueCount       uint32
	TimestampBits    uint32

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthStencilFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics    bool
	Compute     bool
	DiscreteGPU bool
}

// SelectPhysicalDevice picks the first device meeting the requirements,
// preferring a discrete GPU when one is present.
func SelectPhysicalDevice(context *VulkanContext) error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(context.Instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrap(core.ErrUnsupported, "no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(context.Instance, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:    true,
		Compute:     true,
		DiscreteGPU: runtime.GOOS != "darwin",
	}

	// Two passes: the second drops the discrete GPU requirement.
	for pass := 0; pass < 2; pass++ {
		for _, pd := range devices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()
			properties.Limits.Deref()

			family, queues, bits, ok := PhysicalDeviceMeetsRequirements(context.logger, pd, &properties, &requirements)
			if !ok {
				continue
			}

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(pd, &features)
			features.Deref()

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
			memory.Deref()

			context.Device = &VulkanDevice{
				PhysicalDevice:   pd,
				QueueFamilyIndex: family,
				QueueCount:       queues,
				TimestampBits:    bits,
				Properties:       properties,
				Features:         features,
				Memory:           memory,
			}
			logDevice(context.logger, &properties, &memory)
			return nil
		}
		requirements.DiscreteGPU = false
	}
	return errors.Wrap(core.ErrUnsupported, "no physical devices were found which meet the requirements")
}

func logDevice(logger *core.Logger, properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	logger.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		logger.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		logger.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		logger.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		logger.LogInfo("GPU type is CPU.")
	default:
		logger.LogInfo("GPU type is Unknown.")
	}
	logger.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch())

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		gib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			logger.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			logger.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

// PhysicalDeviceMeetsRequirements returns the queue family that supports every
// required queue type, with its queue count and timestamp precision.
func PhysicalDeviceMeetsRequirements(logger *core.Logger, device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (uint32, uint32, uint32, bool) {
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		logger.LogDebug("Device is not a discrete GPU, and one is required. Skipping.")
		return 0, 0, 0, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	logger.LogDebug("Graphics | Compute | Transfer | Queues | Family")
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0
		// Graphics and compute queues implicitly support transfers.
		transfer := graphics || compute || flags&vk.QueueTransferBit != 0
		logger.LogDebug("%8t | %7t | %8t | %6d | %d", graphics, compute, transfer, families[i].QueueCount, i)

		if (!requirements.Graphics || graphics) && (!requirements.Compute || compute) {
			queues := families[i].QueueCount
			if queues > maxQueues {
				queues = maxQueues
			}
			return uint32(i), queues, families[i].TimestampValidBits, true
		}
	}
	logger.LogDebug("Device has no queue family with the required capabilities. Skipping.")
	return 0, 0, 0, false
}

// DeviceCreate creates the logical device and detects the depth stencil format.
func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	device := context.Device

	context.logger.LogInfo("Creating logical device...")

	priorities := make([]float32, device.QueueCount)
	for i := range priorities {
		priorities[i] = 1.0
	}
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.QueueFamilyIndex,
		QueueCount:       device.QueueCount,
		PQueuePriorities: priorities,
	}}

	// Only request what the device has.
	features := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy:       device.Features.SamplerAnisotropy,
		FillModeNonSolid:        device.Features.FillModeNonSolid,
		PipelineStatisticsQuery: device.Features.PipelineStatisticsQuery,
		TessellationShader:      device.Features.TessellationShader,
		GeometryShader:          device.Features.GeometryShader,
		OcclusionQueryPrecise:   device.Features.OcclusionQueryPrecise,
		ImageCubeArray:          device.Features.ImageCubeArray,
	}

	var extensions []string
	if hasDeviceExtension(device.PhysicalDevice, "VK_KHR_portability_subset") {
		context.logger.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	var logical vk.Device
	if err := check(vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical), "vkCreateDevice"); err != nil {
		return err
	}
	device.LogicalDevice = logical
	context.logger.LogInfo("Logical device created.")

	if !DeviceDetectDepthFormat(device) {
		context.logger.LogWarn("No depth stencil format with attachment support was found.")
	}
	return nil
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(device, "", &count, nil) != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(device, "", &count, available) != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	if device.LogicalDevice != nil {
		context.logger.LogInfo("Destroying logical device...")
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}
	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
}

// DeviceDetectDepthFormat picks the format D24S8 textures are created with.
// Some devices only expose the 32 bit float variant.
func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD16UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			device.DepthStencilFormat = candidate
			return true
		}
	}
	device.DepthStencilFormat = vk.FormatD24UnormS8Uint
	return false
}
