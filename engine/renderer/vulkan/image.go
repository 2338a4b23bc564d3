package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Format vk.Format

	Width, Height, Depth   uint32
	MipLevels, ArrayLayers uint32

	format  metadata.Format
	is3D    bool
	cube    bool
	aspect  vk.ImageAspectFlags
	samples vk.SampleCountFlagBits
	alloc   *Allocation
	// Wrapped native images are never destroyed.
	owned bool

	mu sync.Mutex
	// layout is the layout after the most recently recorded command.
	layout vk.ImageLayout
	views  []*nativeView
}

// track records a view so destroying the image destroys it too.
func (img *VulkanImage) track(v *nativeView) *nativeView {
	img.mu.Lock()
	img.views = append(img.views, v)
	img.mu.Unlock()
	return v
}

func (img *VulkanImage) currentLayout() vk.ImageLayout {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.layout
}

func (img *VulkanImage) setLayout(layout vk.ImageLayout) vk.ImageLayout {
	img.mu.Lock()
	defer img.mu.Unlock()
	old := img.layout
	img.layout = layout
	return old
}

func (img *VulkanImage) fullRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: img.aspect,
		LevelCount: img.MipLevels,
		LayerCount: img.ArrayLayers,
	}
}

func (d *Device) vkFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatR8Unorm:
		return vk.FormatR8Unorm
	case metadata.FormatR8G8Unorm:
		return vk.FormatR8g8Unorm
	case metadata.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatR8G8B8A8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case metadata.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatR16Uint:
		return vk.FormatR16Uint
	case metadata.FormatR32Uint:
		return vk.FormatR32Uint
	case metadata.FormatR32Sfloat:
		return vk.FormatR32Sfloat
	case metadata.FormatR32G32Sfloat:
		return vk.FormatR32g32Sfloat
	case metadata.FormatR32G32B32Sfloat:
		return vk.FormatR32g32b32Sfloat
	case metadata.FormatR32G32B32A32Sfloat:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatD16Unorm:
		return vk.FormatD16Unorm
	case metadata.FormatD32Sfloat:
		return vk.FormatD32Sfloat
	case metadata.FormatD24UnormS8Uint:
		return d.context.Device.DepthStencilFormat
	}
	return vk.FormatUndefined
}

func aspectOf(f metadata.Format) vk.ImageAspectFlags {
	switch {
	case f.HasStencil():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case f.IsDepth():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func imageUsage(desc *metadata.TextureDesc) vk.ImageUsageFlags {
	usage := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit)
	if desc.Descriptors.Has(metadata.DescriptorTypeRWTexture) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if desc.Descriptors.Has(metadata.DescriptorTypeRenderTarget) {
		if desc.Format.IsDepth() {
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	if desc.Descriptors.Has(metadata.DescriptorTypeInputAttachment) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageInputAttachmentBit)
	}
	return usage
}

// CreateTexture creates an image and binds dedicated memory to it. When
// desc.Native holds a vk.Image it is wrapped instead.
func (d *Device) CreateTexture(desc *metadata.TextureDesc) (interface{}, error) {
	img := &VulkanImage{
		Format:      d.vkFormat(desc.Format),
		Width:       desc.Width,
		Height:      desc.Height,
		Depth:       desc.Depth,
		MipLevels:   desc.MipLevels,
		ArrayLayers: desc.ArraySize,
		format:      desc.Format,
		is3D:        (desc.Depth > 1 || desc.Flags&metadata.TextureCreationFlagForce3D != 0) && desc.Flags&metadata.TextureCreationFlagForce2D == 0,
		cube:        desc.Descriptors.Has(metadata.DescriptorTypeTextureCube),
		aspect:      aspectOf(desc.Format),
		samples:     vk.SampleCountFlagBits(desc.SampleCount),
		layout:      vk.ImageLayoutUndefined,
	}
	if img.Format == vk.FormatUndefined {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "texture %q has no vulkan format", desc.Name)
	}
	if img.samples == 0 {
		img.samples = vk.SampleCount1Bit
	}
	if img.cube && img.ArrayLayers%6 != 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "cube texture %q needs a multiple of 6 layers, got %d", desc.Name, img.ArrayLayers)
	}

	if desc.Native != nil {
		native, ok := desc.Native.(vk.Image)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidArgument, "native texture is %T, not vk.Image", desc.Native)
		}
		img.Handle = native
		return img, nil
	}

	imageType := vk.ImageType2d
	var flags vk.ImageCreateFlags
	if img.is3D {
		imageType = vk.ImageType3d
		flags |= vk.ImageCreateFlags(vk.ImageCreate2dArrayCompatibleBit)
	}
	if img.cube {
		flags |= vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	tiling := vk.ImageTilingOptimal
	usage := metadata.ResourceMemoryUsageGPUOnly
	if desc.HostVisible {
		tiling = vk.ImageTilingLinear
		usage = metadata.ResourceMemoryUsageCPUToGPU
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: imageType,
		Format:    img.Format,
		Extent: vk.Extent3D{
			Width:  img.Width,
			Height: img.Height,
			Depth:  img.Depth,
		},
		MipLevels:     img.MipLevels,
		ArrayLayers:   img.ArrayLayers,
		Samples:       img.samples,
		Tiling:        tiling,
		Usage:         imageUsage(desc),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := check(vk.CreateImage(d.device(), &imageInfo, d.context.Allocator, &img.Handle), "vkCreateImage"); err != nil {
		return nil, errors.Wrapf(err, "texture %q", desc.Name)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device(), img.Handle, &req)
	req.Deref()
	alloc, err := d.allocator.Allocate(req, usage)
	if err != nil {
		vk.DestroyImage(d.device(), img.Handle, d.context.Allocator)
		return nil, errors.Wrapf(err, "allocating %d bytes for texture %q", req.Size, desc.Name)
	}
	img.alloc = alloc
	img.owned = true
	if err := check(vk.BindImageMemory(d.device(), img.Handle, alloc.Memory, alloc.Offset), "vkBindImageMemory"); err != nil {
		d.DestroyTexture(img)
		return nil, err
	}
	return img, nil
}

func (d *Device) DestroyTexture(t interface{}) {
	img, ok := t.(*VulkanImage)
	if !ok {
		return
	}
	d.framebuffers.evict(img)
	img.mu.Lock()
	for _, v := range img.views {
		d.releaseView(v)
	}
	img.views = nil
	img.mu.Unlock()
	if img.owned && img.Handle != nil {
		vk.DestroyImage(d.device(), img.Handle, d.context.Allocator)
		d.allocator.Free(img.alloc)
	}
	img.Handle = nil
	d.forget(img)
}

// ImageViewDesc selects the subresources an image view covers.
type ImageViewDesc struct {
	ViewType  vk.ImageViewType
	Aspect    vk.ImageAspectFlags
	BaseMip   uint32
	MipCount  uint32
	BaseLayer uint32
	Layers    uint32
	Mapping   [4]metadata.ComponentMapping
}

func (d *Device) createImageView(img *VulkanImage, desc ImageViewDesc) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: desc.ViewType,
		Format:   img.Format,
		// ComponentMapping values match VkComponentSwizzle.
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzle(desc.Mapping[0]),
			G: vk.ComponentSwizzle(desc.Mapping[1]),
			B: vk.ComponentSwizzle(desc.Mapping[2]),
			A: vk.ComponentSwizzle(desc.Mapping[3]),
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     desc.Aspect,
			BaseMipLevel:   desc.BaseMip,
			LevelCount:     desc.MipCount,
			BaseArrayLayer: desc.BaseLayer,
			LayerCount:     desc.Layers,
		},
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.device(), &viewInfo, d.context.Allocator, &view), "vkCreateImageView"); err != nil {
		return nil, err
	}
	return view, nil
}

// shaderViewType is the view type for sampled and storage views.
func (img *VulkanImage) shaderViewType(layers uint32, storage bool) vk.ImageViewType {
	switch {
	case img.is3D:
		return vk.ImageViewType3d
	case img.cube && !storage && layers > 6:
		return vk.ImageViewTypeCubeArray
	case img.cube && !storage:
		return vk.ImageViewTypeCube
	case layers > 1:
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

type VulkanSampler struct {
	Handle vk.Sampler
}

func addressMode(m metadata.AddressMode) vk.SamplerAddressMode {
	switch m {
	case metadata.AddressModeMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.AddressModeClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case metadata.AddressModeClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func filter(f metadata.FilterType) vk.Filter {
	if f == metadata.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func compareOp(c metadata.CompareMode) vk.CompareOp {
	switch c {
	case metadata.CompareNever:
		return vk.CompareOpNever
	case metadata.CompareLess:
		return vk.CompareOpLess
	case metadata.CompareEqual:
		return vk.CompareOpEqual
	case metadata.CompareLEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompareGreater:
		return vk.CompareOpGreater
	case metadata.CompareNotEqual:
		return vk.CompareOpNotEqual
	case metadata.CompareGEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func (d *Device) CreateSampler(desc *metadata.SamplerDesc) (interface{}, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter(desc.MagFilter),
		MinFilter:               filter(desc.MinFilter),
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            addressMode(desc.AddressU),
		AddressModeV:            addressMode(desc.AddressV),
		AddressModeW:            addressMode(desc.AddressW),
		MipLodBias:              desc.MipLodBias,
		CompareEnable:           bool32(desc.CompareFunc != metadata.CompareNever),
		CompareOp:               compareOp(desc.CompareFunc),
		MinLod:                  0,
		MaxLod:                  1000,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if desc.MipmapMode == metadata.MipmapModeLinear {
		samplerInfo.MipmapMode = vk.SamplerMipmapModeLinear
	}
	if desc.MaxAnisotropy > 1 && d.context.Device.Features.SamplerAnisotropy == vk.True {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = desc.MaxAnisotropy
		if limit := d.context.Device.Properties.Limits.MaxSamplerAnisotropy; samplerInfo.MaxAnisotropy > limit {
			samplerInfo.MaxAnisotropy = limit
		}
	}
	s := &VulkanSampler{}
	if err := check(vk.CreateSampler(d.device(), &samplerInfo, d.context.Allocator, &s.Handle), "vkCreateSampler"); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Device) DestroySampler(s interface{}) {
	sampler, ok := s.(*VulkanSampler)
	if !ok || sampler.Handle == nil {
		return
	}
	vk.DestroySampler(d.device(), sampler.Handle, d.context.Allocator)
	sampler.Handle = nil
	d.forget(s)
}
