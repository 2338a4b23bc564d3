package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// VulkanSignature holds one descriptor set layout per used slot and the
// pipeline layout combining them with the push constant ranges.
type VulkanSignature struct {
	Handle     vk.PipelineLayout
	BindPoint  vk.PipelineBindPoint
	setLayouts []vk.DescriptorSetLayout
	// dynamic is the number of dynamic buffer descriptors per set.
	dynamic []uint32
	layout  *backend.SignatureLayout
}

func bindPoint(t metadata.PipelineType) vk.PipelineBindPoint {
	if t == metadata.PipelineTypeCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func stageFlags(stages metadata.ShaderStage, t metadata.PipelineType) vk.ShaderStageFlags {
	if stages == metadata.ShaderStageNone {
		if t == metadata.PipelineTypeCompute {
			return vk.ShaderStageFlags(vk.ShaderStageComputeBit)
		}
		return vk.ShaderStageFlags(vk.ShaderStageAllGraphics)
	}
	return vk.ShaderStageFlags(stages)
}

func (d *Device) CreateRootSignature(layout *backend.SignatureLayout) (interface{}, error) {
	sig := &VulkanSignature{
		BindPoint:  bindPoint(layout.PipelineType),
		setLayouts: make([]vk.DescriptorSetLayout, layout.MaxUsedSlots),
		dynamic:    make([]uint32, layout.MaxUsedSlots),
		layout:     layout,
	}

	for slot := uint32(0); slot < layout.MaxUsedSlots; slot++ {
		s := &layout.Slots[slot]
		bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(s.Bindings))
		for _, b := range s.Bindings {
			t, ok := vkDescriptorType(b.DescriptorType)
			if !ok {
				d.DestroyRootSignature(sig)
				return nil, errors.Wrapf(core.ErrInvalidSignature, "slot %d binding %d: %s has no descriptor set equivalent", slot, b.Binding, b.DescriptorType)
			}
			count := b.DescriptorCount
			if count == 0 {
				count = 1
			}
			if t == vk.DescriptorTypeUniformBufferDynamic || t == vk.DescriptorTypeStorageBufferDynamic {
				sig.dynamic[slot] += count
			}
			bindings = append(bindings, vk.DescriptorSetLayoutBinding{
				Binding:         b.Binding,
				DescriptorType:  t,
				DescriptorCount: count,
				StageFlags:      stageFlags(s.StageFlags, layout.PipelineType),
			})
		}
		if slot == layout.StaticSamplerSlot {
			for _, ss := range layout.StaticSamplers {
				immutable := make([]vk.Sampler, len(ss.Samplers))
				for i, native := range ss.Samplers {
					vs, ok := native.(*VulkanSampler)
					if !ok {
						d.DestroyRootSignature(sig)
						return nil, errors.Wrapf(core.ErrInvalidSignature, "static sampler binding %d: not a vulkan sampler: %T", ss.Binding, native)
					}
					immutable[i] = vs.Handle
				}
				bindings = append(bindings, vk.DescriptorSetLayoutBinding{
					Binding:            ss.Binding,
					DescriptorType:     vk.DescriptorTypeSampler,
					DescriptorCount:    uint32(len(immutable)),
					StageFlags:         stageFlags(layout.StaticSamplerStages, layout.PipelineType),
					PImmutableSamplers: immutable,
				})
			}
		}

		setLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		if err := check(vk.CreateDescriptorSetLayout(d.device(), &setLayoutInfo, d.context.Allocator, &sig.setLayouts[slot]), "vkCreateDescriptorSetLayout"); err != nil {
			d.DestroyRootSignature(sig)
			return nil, errors.Wrapf(err, "slot %d", slot)
		}
	}

	ranges := make([]vk.PushConstantRange, 0, len(layout.PushConstants))
	for _, pc := range layout.PushConstants {
		ranges = append(ranges, vk.PushConstantRange{
			StageFlags: stageFlags(pc.StageFlags, layout.PipelineType),
			Offset:     pc.Offset,
			Size:       pc.Size,
		})
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(sig.setLayouts)),
		PSetLayouts:            sig.setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	if err := d.context.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreatePipelineLayout(d.device(), &pipelineLayoutCreateInfo, d.context.Allocator, &sig.Handle), "vkCreatePipelineLayout")
	}); err != nil {
		d.DestroyRootSignature(sig)
		return nil, err
	}
	return sig, nil
}

func (d *Device) DestroyRootSignature(signature interface{}) {
	sig, ok := signature.(*VulkanSignature)
	if !ok {
		return
	}
	if sig.Handle != nil {
		vk.DestroyPipelineLayout(d.device(), sig.Handle, d.context.Allocator)
		sig.Handle = nil
	}
	for i, l := range sig.setLayouts {
		if l != nil {
			vk.DestroyDescriptorSetLayout(d.device(), l, d.context.Allocator)
			sig.setLayouts[i] = nil
		}
	}
	d.forget(sig)
}

type VulkanPipeline struct {
	Handle    vk.Pipeline
	BindPoint vk.PipelineBindPoint
}

func topology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.PrimitiveTopoPointList:
		return vk.PrimitiveTopologyPointList
	case metadata.PrimitiveTopoLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.PrimitiveTopoLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case metadata.PrimitiveTopoTriStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.PrimitiveTopoPatchList:
		return vk.PrimitiveTopologyPatchList
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(c metadata.CullMode) vk.CullModeFlags {
	switch c {
	case metadata.CullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeBoth:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func sampleCount(s metadata.SampleCount) vk.SampleCountFlagBits {
	if s == 0 {
		return vk.SampleCount1Bit
	}
	// SampleCount values match VkSampleCountFlagBits.
	return vk.SampleCountFlagBits(s)
}

// vertexBindings derives one binding per buffer slot from the attributes.
// The stride of a binding is the end of its last attribute.
func (d *Device) vertexBindings(attribs []metadata.VertexAttrib) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	var bindings []vk.VertexInputBindingDescription
	index := make(map[uint32]int)
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(attribs))
	for _, a := range attribs {
		i, ok := index[a.Binding]
		if !ok {
			i = len(bindings)
			index[a.Binding] = i
			rate := vk.VertexInputRateVertex
			if a.Instance {
				rate = vk.VertexInputRateInstance
			}
			bindings = append(bindings, vk.VertexInputBindingDescription{Binding: a.Binding, InputRate: rate})
		}
		if end := a.Offset + a.Format.BytesPerPixel(); end > bindings[i].Stride {
			bindings[i].Stride = end
		}
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   d.vkFormat(a.Format),
			Offset:   a.Offset,
		})
	}
	return bindings, attributes
}

func (d *Device) CreatePipeline(desc *backend.PipelineDesc, signature interface{}) (interface{}, error) {
	sig, ok := signature.(*VulkanSignature)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan root signature: %T", signature)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Shaders))
	modules := make([]*VulkanShaderStage, 0, len(desc.Shaders))
	defer func() {
		for _, m := range modules {
			m.Destroy(d.context)
		}
	}()
	for i := range desc.Shaders {
		m, err := NewShaderModule(d.context, &desc.Shaders[i])
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
		stages = append(stages, m.ShaderStageCreateInfo)
	}

	p := &VulkanPipeline{BindPoint: bindPoint(desc.Type)}
	if desc.Type == metadata.PipelineTypeCompute {
		if len(stages) != 1 || desc.Shaders[0].Stage != metadata.ShaderStageComp {
			return nil, errors.Wrap(core.ErrInvalidArgument, "a compute pipeline needs exactly one compute shader")
		}
		pipelineCreateInfo := vk.ComputePipelineCreateInfo{
			SType:             vk.StructureTypeComputePipelineCreateInfo,
			Stage:             stages[0],
			Layout:            sig.Handle,
			BasePipelineIndex: -1,
		}
		pipelines := make([]vk.Pipeline, 1)
		if err := d.context.locks.SafeCall(PipelineManagement, func() error {
			return check(vk.CreateComputePipelines(d.device(), d.pipelineCache, 1, []vk.ComputePipelineCreateInfo{pipelineCreateInfo}, d.context.Allocator, pipelines), "vkCreateComputePipelines")
		}); err != nil {
			return nil, err
		}
		p.Handle = pipelines[0]
		d.logger.LogDebug("Compute pipeline created!")
		return p, nil
	}

	key := renderpassKey{
		colorCount: len(desc.ColorFormats),
		samples:    sampleCount(desc.SampleCount),
		depth:      vk.FormatUndefined,
	}
	if key.colorCount > metadata.MaxRenderTargetAttachments {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "%d color formats, at most %d", key.colorCount, metadata.MaxRenderTargetAttachments)
	}
	for i, f := range desc.ColorFormats {
		key.colors[i] = d.vkFormat(f)
		key.colorLoad[i] = vk.AttachmentLoadOpDontCare
	}
	if desc.DepthStencilFormat != metadata.FormatUndefined {
		key.depth = d.vkFormat(desc.DepthStencilFormat)
		key.depthLoad = vk.AttachmentLoadOpDontCare
		key.stencilLoad = vk.AttachmentLoadOpDontCare
	}
	renderpass, err := d.renderpasses.get(key)
	if err != nil {
		return nil, err
	}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	r := desc.Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode:             vk.PolygonModeFill,
		CullMode:                cullMode(r.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		LineWidth:               1.0,
		DepthBiasEnable:         bool32(r.DepthBiasConstantFactor != 0 || r.DepthBiasSlopeFactor != 0),
		DepthBiasConstantFactor: r.DepthBiasConstantFactor,
		DepthBiasSlopeFactor:    r.DepthBiasSlopeFactor,
	}
	if r.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	if r.FrontFace == metadata.FrontFaceCW {
		rasterizerCreateInfo.FrontFace = vk.FrontFaceClockwise
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: key.samples,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  bool32(desc.Depth.DepthTestEnable),
		DepthWriteEnable: bool32(desc.Depth.DepthWriteEnable),
		DepthCompareOp:   compareOp(desc.Depth.DepthCompare),
	}

	writeMask := vk.ColorComponentFlags(desc.Blend.WriteMask & 0xf)
	if writeMask == 0 {
		writeMask = vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, key.colorCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         bool32(desc.Blend.Enable),
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      writeMask,
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings, attributes := d.vertexBindings(desc.VertexAttribs)
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: topology(desc.Topology),
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              sig.Handle,
		RenderPass:          renderpass,
		BasePipelineIndex:   -1,
	}
	if desc.Topology == metadata.PrimitiveTopoPatchList {
		pipelineCreateInfo.PTessellationState = &vk.PipelineTessellationStateCreateInfo{
			SType:              vk.StructureTypePipelineTessellationStateCreateInfo,
			PatchControlPoints: desc.PatchControlPoints,
		}
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.context.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateGraphicsPipelines(d.device(), d.pipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.context.Allocator, pipelines), "vkCreateGraphicsPipelines")
	}); err != nil {
		return nil, err
	}
	p.Handle = pipelines[0]
	d.logger.LogDebug("Graphics pipeline created!")
	return p, nil
}

func (d *Device) DestroyPipeline(pipeline interface{}) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok || p.Handle == nil {
		return
	}
	_ = d.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(d.device(), p.Handle, d.context.Allocator)
		return nil
	})
	p.Handle = nil
	d.forget(p)
}
