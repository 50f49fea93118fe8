package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/cache"
)

// Image errors.
var (
	// ErrImageDestroyed is returned when operating on a destroyed image.
	ErrImageDestroyed = errors.New("resource: image has been destroyed")

	// ErrInvalidImageDesc is returned when an image descriptor is malformed.
	ErrInvalidImageDesc = errors.New("resource: invalid image descriptor")
)

// Origin tags who owns a physical resource.
type Origin uint8

const (
	// OriginExternal marks a resource owned by the caller. Graph machinery
	// never destroys or recycles it.
	OriginExternal Origin = iota

	// OriginTransient marks a resource owned by a transient pool. It is
	// returned to the pool's free lists after the frame that used it.
	OriginTransient
)

// String returns the string representation of the origin tag.
func (o Origin) String() string {
	switch o {
	case OriginExternal:
		return "external"
	case OriginTransient:
		return "transient"
	default:
		return fmt.Sprintf("Origin(%d)", uint8(o))
	}
}

// ImageDesc describes an image to create. All fields are scalars so the
// descriptor can be used as a map key.
type ImageDesc struct {
	// Dimension is the texture dimension (1D, 2D, 3D).
	Dimension gputypes.TextureDimension

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Width, Height, Depth are the extents in texels. Depth doubles as the
	// array layer count for 2D array images.
	Width  uint32
	Height uint32
	Depth  uint32

	// MipLevels is the number of mip levels (1+).
	MipLevels uint32

	// Samples is the number of samples per pixel (1 for non-MSAA).
	Samples uint32

	// Usage specifies how the image will be used. The graph compiler merges
	// usage across all passes that touch a resource before allocation.
	Usage gputypes.TextureUsage
}

// NewImageDesc2D returns a single-mip, single-sample 2D image descriptor.
func NewImageDesc2D(format gputypes.TextureFormat, width, height uint32) ImageDesc {
	return ImageDesc{
		Dimension: gputypes.TextureDimension2D,
		Format:    format,
		Width:     width,
		Height:    height,
		Depth:     1,
		MipLevels: 1,
		Samples:   1,
	}
}

// NewImageDesc3D returns a single-mip 3D (volume) image descriptor.
func NewImageDesc3D(format gputypes.TextureFormat, width, height, depth uint32) ImageDesc {
	return ImageDesc{
		Dimension: gputypes.TextureDimension3D,
		Format:    format,
		Width:     width,
		Height:    height,
		Depth:     depth,
		MipLevels: 1,
		Samples:   1,
	}
}

// WithUsage returns a copy of the descriptor with the given usage flags added.
func (d ImageDesc) WithUsage(usage gputypes.TextureUsage) ImageDesc {
	d.Usage |= usage
	return d
}

// WithMipLevels returns a copy of the descriptor with the given mip count.
func (d ImageDesc) WithMipLevels(levels uint32) ImageDesc {
	d.MipLevels = levels
	return d
}

// Extent returns the image extents as a HAL Extent3D.
func (d ImageDesc) Extent() hal.Extent3D {
	return hal.Extent3D{
		Width:              d.Width,
		Height:             d.Height,
		DepthOrArrayLayers: d.Depth,
	}
}

// Validate reports whether the descriptor describes a creatable image.
func (d ImageDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 || d.Depth == 0 {
		return fmt.Errorf("%w: zero extent %dx%dx%d", ErrInvalidImageDesc, d.Width, d.Height, d.Depth)
	}
	if d.MipLevels == 0 {
		return fmt.Errorf("%w: zero mip levels", ErrInvalidImageDesc)
	}
	if d.Samples == 0 {
		return fmt.Errorf("%w: zero sample count", ErrInvalidImageDesc)
	}
	return nil
}

// String returns a compact description for diagnostics.
func (d ImageDesc) String() string {
	return fmt.Sprintf("image %dx%dx%d fmt=%d mips=%d samples=%d usage=0x%x",
		d.Width, d.Height, d.Depth, d.Format, d.MipLevels, d.Samples, d.Usage)
}

// ImageViewDesc describes a view into an image. The zero value with
// Aspect set (see DefaultViewDesc) inherits format and dimension from
// the parent image and covers all mips and layers.
type ImageViewDesc struct {
	Format          gputypes.TextureFormat
	Dimension       gputypes.TextureViewDimension
	Aspect          gputypes.TextureAspect
	BaseMipLevel    uint32
	MipLevelCount   uint32 // 0 means all remaining levels
	BaseArrayLayer  uint32
	ArrayLayerCount uint32 // 0 means all remaining layers
}

// DefaultViewDesc returns the view descriptor used for whole-image views.
func DefaultViewDesc() ImageViewDesc {
	return ImageViewDesc{Aspect: gputypes.TextureAspectAll}
}

// Image is a physical GPU image with its descriptor and a cached view table.
//
// Image is safe for concurrent read access; views are created at most once
// per view descriptor. Destroy should only be called by the owner named by
// the Origin tag.
type Image struct {
	mu        sync.RWMutex
	raw       hal.Texture
	device    hal.Device
	label     string
	desc      ImageDesc
	origin    Origin
	views     *cache.Cache[ImageViewDesc, hal.TextureView]
	destroyed bool
}

// NewImage creates an externally-owned image on the device.
func NewImage(device hal.Device, label string, desc ImageDesc) (*Image, error) {
	return newImage(device, label, desc, OriginExternal)
}

// NewTransientImage creates a pool-owned image on the device. Callers other
// than a transient pool should use NewImage.
func NewTransientImage(device hal.Device, label string, desc ImageDesc) (*Image, error) {
	return newImage(device, label, desc, OriginTransient)
}

func newImage(device hal.Device, label string, desc ImageDesc, origin Origin) (*Image, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	raw, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          desc.Extent(),
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.Samples,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create image %q: %w", label, err)
	}

	return &Image{
		raw:    raw,
		device: device,
		label:  label,
		desc:   desc,
		origin: origin,
		views:  cache.New[ImageViewDesc, hal.TextureView](0),
	}, nil
}

// WrapImage adopts an existing HAL texture as an externally-owned image.
// The caller remains responsible for destroying the underlying texture.
func WrapImage(device hal.Device, label string, raw hal.Texture, desc ImageDesc) *Image {
	return &Image{
		raw:    raw,
		device: device,
		label:  label,
		desc:   desc,
		origin: OriginExternal,
		views:  cache.New[ImageViewDesc, hal.TextureView](0),
	}
}

// Label returns the image's debug label.
func (i *Image) Label() string { return i.label }

// Desc returns the image descriptor.
func (i *Image) Desc() ImageDesc { return i.desc }

// Origin returns the ownership tag.
func (i *Image) Origin() Origin { return i.origin }

// Transient reports whether the image is pool-owned.
func (i *Image) Transient() bool { return i.origin == OriginTransient }

// Raw returns the underlying HAL texture, or nil after Destroy.
func (i *Image) Raw() hal.Texture {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.destroyed {
		return nil
	}
	return i.raw
}

// View returns a cached texture view for the given view descriptor,
// creating it on first use.
func (i *Image) View(desc ImageViewDesc) (hal.TextureView, error) {
	i.mu.RLock()
	destroyed := i.destroyed
	raw := i.raw
	device := i.device
	i.mu.RUnlock()

	if destroyed {
		return nil, ErrImageDestroyed
	}

	return i.views.GetOrCreateErr(desc, func() (hal.TextureView, error) {
		view, err := device.CreateTextureView(raw, &hal.TextureViewDescriptor{
			Label:           i.label + " view",
			Format:          desc.Format,
			Dimension:       desc.Dimension,
			Aspect:          desc.Aspect,
			BaseMipLevel:    desc.BaseMipLevel,
			MipLevelCount:   desc.MipLevelCount,
			BaseArrayLayer:  desc.BaseArrayLayer,
			ArrayLayerCount: desc.ArrayLayerCount,
		})
		if err != nil {
			return nil, fmt.Errorf("create view for %q: %w", i.label, err)
		}
		return view, nil
	})
}

// DefaultView returns the whole-image view, creating it on first use.
func (i *Image) DefaultView() (hal.TextureView, error) {
	return i.View(DefaultViewDesc())
}

// Destroy releases the image's views and the underlying texture.
// Safe to call multiple times.
func (i *Image) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.destroyed {
		return
	}
	i.destroyed = true

	i.views.Range(func(_ ImageViewDesc, view hal.TextureView) {
		i.device.DestroyTextureView(view)
	})
	i.views.Clear()
	i.device.DestroyTexture(i.raw)
	i.raw = nil
}

// IsDepthFormat reports whether a format carries a depth aspect.
func IsDepthFormat(format gputypes.TextureFormat) bool {
	switch format {
	case gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return true
	}
	return false
}
