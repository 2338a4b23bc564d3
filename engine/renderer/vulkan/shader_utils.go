package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
)

// VulkanShaderStage is a shader module and the stage info that references it.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderModule creates a module from SPIR-V bytecode.
func NewShaderModule(context *VulkanContext, shader *backend.ShaderDesc) (*VulkanShaderStage, error) {
	if len(shader.Code) == 0 || len(shader.Code)%4 != 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "stage %#x: SPIR-V size %d is not a multiple of 4", shader.Stage, len(shader.Code))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(shader.Code)),
		PCode:    sliceUint32(shader.Code),
	}
	stage := &VulkanShaderStage{}
	if err := check(vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &stage.Handle), "vkCreateShaderModule"); err != nil {
		return nil, err
	}

	entry := shader.EntryPoint
	if entry == "" {
		entry = "main"
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType: vk.StructureTypePipelineShaderStageCreateInfo,
		// Stage bits match VkShaderStageFlagBits.
		Stage:  vk.ShaderStageFlagBits(shader.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(entry),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}
