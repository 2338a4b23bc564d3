// Package vulkan implements the render device on Vulkan. It runs headless:
// no surface or swapchain is created and render targets are plain images.
package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

const defaultMaxDescriptors = 4096

type Config struct {
	AppName    string
	Validation bool
	// MaxDescriptors caps the descriptors of any single descriptor pool.
	MaxDescriptors uint32
}

type Device struct {
	cfg     Config
	logger  *core.Logger
	context *VulkanContext

	allocator     Allocator
	renderpasses  *renderpassCache
	framebuffers  *framebufferCache
	pipelineCache vk.PipelineCache

	// address hands out descriptor heap start addresses.
	address atomic.Uint64

	mu        sync.Mutex
	names     map[interface{}]string
	nextQueue uint32
}

func New(cfg Config, logger *core.Logger) (backend.Device, error) {
	if logger == nil {
		logger = core.NopLogger()
	}
	if cfg.MaxDescriptors == 0 {
		cfg.MaxDescriptors = defaultMaxDescriptors
	}
	d := &Device{
		cfg:    cfg,
		logger: logger,
		context: &VulkanContext{
			locks:  NewVulkanLockPool(),
			logger: logger,
		},
		names: make(map[interface{}]string),
	}
	d.address.Store(0x10000)
	if err := d.initialize(); err != nil {
		logger.LogError("vulkan device initialization failed: %s", err.Error())
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *Device) initialize() error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return errors.Wrap(core.ErrUnsupported, "vulkan loader not found: "+err.Error())
	}
	if err := vk.Init(); err != nil {
		return errors.Wrap(core.ErrUnsupported, "failed to initialize vk: "+err.Error())
	}
	if err := d.createInstance(); err != nil {
		return err
	}
	if err := DeviceCreate(d.context); err != nil {
		return err
	}

	cacheInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	var cache vk.PipelineCache
	if err := check(vk.CreatePipelineCache(d.device(), &cacheInfo, d.context.Allocator, &cache), "vkCreatePipelineCache"); err != nil {
		return err
	}
	d.pipelineCache = cache

	d.allocator = NewDedicatedAllocator(d.context)
	d.renderpasses = newRenderpassCache(d.context)
	d.framebuffers = newFramebufferCache(d.context)
	d.logger.LogInfo("Vulkan device created.")
	return nil
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.cfg.AppName),
		PEngineName:        VulkanSafeString("Rei"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	validation := d.cfg.Validation && hasInstanceLayer(d.logger, "VK_LAYER_KHRONOS_validation")
	if validation {
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	} else if d.cfg.Validation {
		d.logger.LogWarn("Validation requested but VK_LAYER_KHRONOS_validation is missing.")
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, d.context.Allocator, &instance), "vkCreateInstance"); err != nil {
		return err
	}
	d.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrap(core.ErrNative, err.Error())
	}
	d.logger.LogInfo("Vulkan Instance created.")

	if validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: d.debugCallback,
		}
		var cb vk.DebugReportCallback
		if err := check(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &cb), "vkCreateDebugReportCallback"); err != nil {
			return err
		}
		d.context.debugCallback = cb
		d.logger.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func hasInstanceLayer(logger *core.Logger, name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, available) != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].LayerName[:]) == name {
			logger.LogDebug("Found layer %s.", name)
			return true
		}
	}
	return false
}

func (d *Device) debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		d.logger.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		d.logger.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		d.logger.LogWarn("PERFORMANCE [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		d.logger.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.False
}

func (d *Device) device() vk.Device {
	return d.context.Device.LogicalDevice
}

func (d *Device) Name() string {
	return "vulkan"
}

func (d *Device) Properties() metadata.DeviceProperties {
	props := d.context.Device.Properties
	limits := props.Limits
	caps := metadata.DefaultCapabilities()
	caps.UniformBufferAlignment = maxU64(caps.UniformBufferAlignment, uint64(limits.MinUniformBufferOffsetAlignment))
	caps.UploadBufferTextureAlignment = maxU64(caps.UploadBufferTextureAlignment, uint64(limits.OptimalBufferCopyOffsetAlignment))
	caps.UploadBufferTextureRowAlignment = maxU64(caps.UploadBufferTextureRowAlignment, uint64(limits.OptimalBufferCopyRowPitchAlignment))
	if limits.MaxVertexInputBindings < caps.MaxVertexInputBindings {
		caps.MaxVertexInputBindings = limits.MaxVertexInputBindings
	}
	if limits.MaxBoundDescriptorSets < caps.MaxBoundDescriptorSets {
		caps.MaxBoundDescriptorSets = limits.MaxBoundDescriptorSets
	}
	caps.TimestampPeriod = float64(limits.TimestampPeriod)
	return metadata.DeviceProperties{
		VendorID:     fmt.Sprintf("%#x", props.VendorID),
		ModelID:      fmt.Sprintf("%#x", props.DeviceID),
		DeviceName:   vk.ToString(props.DeviceName[:]),
		Capabilities: caps,
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// SetName records a debug name used in log and error messages.
func (d *Device) SetName(object interface{}, name string) {
	if object == nil {
		return
	}
	d.mu.Lock()
	d.names[object] = name
	d.mu.Unlock()
}

func (d *Device) nameOf(object interface{}) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.names[object]; ok {
		return n
	}
	return fmt.Sprintf("%p", object)
}

func (d *Device) forget(object interface{}) {
	d.mu.Lock()
	delete(d.names, object)
	d.mu.Unlock()
}

func (d *Device) WaitIdle() error {
	return check(vk.DeviceWaitIdle(d.device()), "vkDeviceWaitIdle")
}

func (d *Device) Destroy() {
	ctx := d.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			d.logger.LogWarn("waiting for device idle on destroy: %s", err.Error())
		}
		if d.framebuffers != nil {
			d.framebuffers.destroy()
		}
		if d.renderpasses != nil {
			d.renderpasses.destroy()
		}
		if d.pipelineCache != nil {
			vk.DestroyPipelineCache(d.device(), d.pipelineCache, ctx.Allocator)
			d.pipelineCache = nil
		}
	}
	DeviceDestroy(ctx)
	if ctx.debugCallback != nil {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugCallback, nil)
		ctx.debugCallback = nil
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	d.logger.LogInfo("Vulkan device destroyed.")
}

var _ backend.Device = (*Device)(nil)
