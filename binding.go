package framegraph

import "github.com/gogpu/framegraph/shader"

// bindTarget says which kind of resource a Binding carries.
type bindTarget uint8

const (
	bindStorageImage bindTarget = iota
	bindSampledImage
	bindStorageBuffer
	bindUniformBuffer
)

// Binding is one slot of a bind group built inside a pass callback.
// The slot index is the binding's position in the argument list, so
//
//	pc.Dispatch(x, y, z, framegraph.StorageImage(dst), framegraph.StorageBuffer(src))
//
// binds dst at binding 0 and src at binding 1 of group 0. Bindings
// whose slot the shader does not declare are silently skipped, which
// lets one callback serve shader variants with pruned bindings.
type Binding struct {
	target bindTarget
	image  ImageHandle
	buffer BufferHandle
}

// StorageImage binds the image's default view as a read/write storage
// texture.
func StorageImage(h ImageHandle) Binding {
	return Binding{target: bindStorageImage, image: h}
}

// SampledImage binds the image's default view for sampled or loaded
// reads.
func SampledImage(h ImageHandle) Binding {
	return Binding{target: bindSampledImage, image: h}
}

// StorageBuffer binds the whole buffer as storage.
func StorageBuffer(h BufferHandle) Binding {
	return Binding{target: bindStorageBuffer, buffer: h}
}

// UniformBuffer binds the whole buffer as a uniform.
func UniformBuffer(h BufferHandle) Binding {
	return Binding{target: bindUniformBuffer, buffer: h}
}

// compatible reports whether the binding can satisfy what the shader
// declared at its slot.
func (b Binding) compatible(kind shader.BindingKind) bool {
	switch b.target {
	case bindStorageImage:
		return kind == shader.BindingStorageImage
	case bindSampledImage:
		return kind == shader.BindingSampledImage
	case bindStorageBuffer:
		return kind == shader.BindingStorageBuffer || kind == shader.BindingReadOnlyStorageBuffer
	case bindUniformBuffer:
		return kind == shader.BindingUniformBuffer
	}
	return false
}
