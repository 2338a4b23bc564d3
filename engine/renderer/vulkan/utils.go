package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
)

// resultStrings maps a VkResult to its name and a short description.
// https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
var resultStrings = map[vk.Result][2]string{
	vk.Success:                 {"VK_SUCCESS", "command successfully completed"},
	vk.NotReady:                {"VK_NOT_READY", "a fence or query has not yet completed"},
	vk.Timeout:                 {"VK_TIMEOUT", "a wait operation has not completed in the specified time"},
	vk.EventSet:                {"VK_EVENT_SET", "an event is signaled"},
	vk.EventReset:              {"VK_EVENT_RESET", "an event is unsignaled"},
	vk.Incomplete:              {"VK_INCOMPLETE", "a return array was too small for the result"},
	vk.ErrorOutOfHostMemory:    {"VK_ERROR_OUT_OF_HOST_MEMORY", "a host memory allocation has failed"},
	vk.ErrorOutOfDeviceMemory:  {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "a device memory allocation has failed"},
	vk.ErrorInitializationFailed: {"VK_ERROR_INITIALIZATION_FAILED",
		"initialization of an object could not be completed for implementation-specific reasons"},
	vk.ErrorDeviceLost:          {"VK_ERROR_DEVICE_LOST", "the logical or physical device has been lost"},
	vk.ErrorMemoryMapFailed:     {"VK_ERROR_MEMORY_MAP_FAILED", "mapping of a memory object has failed"},
	vk.ErrorLayerNotPresent:     {"VK_ERROR_LAYER_NOT_PRESENT", "a requested layer is not present or could not be loaded"},
	vk.ErrorExtensionNotPresent: {"VK_ERROR_EXTENSION_NOT_PRESENT", "a requested extension is not supported"},
	vk.ErrorFeatureNotPresent:   {"VK_ERROR_FEATURE_NOT_PRESENT", "a requested feature is not supported"},
	vk.ErrorIncompatibleDriver:  {"VK_ERROR_INCOMPATIBLE_DRIVER", "the requested version of Vulkan is not supported by the driver"},
	vk.ErrorTooManyObjects:      {"VK_ERROR_TOO_MANY_OBJECTS", "too many objects of the type have already been created"},
	vk.ErrorFormatNotSupported:  {"VK_ERROR_FORMAT_NOT_SUPPORTED", "a requested format is not supported on this device"},
	vk.ErrorFragmentedPool:      {"VK_ERROR_FRAGMENTED_POOL", "a pool allocation has failed due to fragmentation of the pool's memory"},
	vk.ErrorOutOfPoolMemory:     {"VK_ERROR_OUT_OF_POOL_MEMORY", "a pool memory allocation has failed"},
	vk.ErrorInvalidExternalHandle: {"VK_ERROR_INVALID_EXTERNAL_HANDLE",
		"an external handle is not a valid handle of the specified type"},
	vk.ErrorFragmentation: {"VK_ERROR_FRAGMENTATION", "a descriptor pool creation has failed due to fragmentation"},
	vk.ErrorUnknown:       {"VK_ERROR_UNKNOWN", "an unknown error has occurred"},
}

func VulkanResultString(result vk.Result, getExtended bool) string {
	s, ok := resultStrings[result]
	if !ok {
		s = resultStrings[vk.ErrorUnknown]
	}
	if getExtended {
		return s[0] + " " + s[1]
	}
	return s[0]
}

// VulkanResultIsSuccess reports whether result is one of the non negative
// success codes.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= vk.Success
}

// check wraps a failed call in core.ErrNative.
func check(res vk.Result, call string) error {
	if VulkanResultIsSuccess(res) {
		return nil
	}
	return errors.Wrapf(core.ErrNative, "%s failed with %s", call, VulkanResultString(res, false))
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// sliceUint32 reinterprets SPIR-V bytecode as words.
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
