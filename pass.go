package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/pipeline"
)

// computeRef and rasterRef distinguish "no pipeline" from handle zero.
type computeRef struct {
	set    bool
	handle pipeline.ComputeHandle
}

type rasterRef struct {
	set    bool
	handle pipeline.RasterHandle
}

// PassBuilder records the resource accesses and pipeline of one pass.
// It is handed to the build callback of AddPass and must not be
// retained after the callback returns.
type PassBuilder struct {
	graph *Graph
	pass  *passNode
	err   error
}

func (b *PassBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// ReadImage declares a read of the image version named by h. The
// access must be a read access. Returns h unchanged for call chaining.
func (b *PassBuilder) ReadImage(h ImageHandle, access barrier.AccessType) ImageHandle {
	node, err := b.graph.imageAt(h)
	if err != nil {
		b.setErr(err)
		return h
	}
	if access.IsWrite() {
		b.setErr(fmt.Errorf("read of image %q with write access %v", node.name, access))
		return h
	}
	if h.version > node.version {
		b.setErr(fmt.Errorf("read of future version %v of image %q: %w", h, node.name, ErrInvalidHandle))
		return h
	}
	b.pass.images = append(b.pass.images, imageAccess{id: h.id, version: h.version, access: access})
	return h
}

// WriteImage declares a write to the image named by h. The access must
// be a write access and h must be the latest version; the returned
// handle names the version this pass produces, and is what later passes
// read.
func (b *PassBuilder) WriteImage(h ImageHandle, access barrier.AccessType) ImageHandle {
	node, err := b.graph.imageAt(h)
	if err != nil {
		b.setErr(err)
		return h
	}
	if !access.IsWrite() {
		b.setErr(fmt.Errorf("write of image %q with read access %v", node.name, access))
		return h
	}
	if h.version != node.version {
		b.setErr(fmt.Errorf("write of stale handle %v of image %q (current v%d): %w", h, node.name, node.version, ErrInvalidHandle))
		return h
	}
	node.version++
	b.pass.images = append(b.pass.images, imageAccess{id: h.id, version: node.version, access: access})
	return ImageHandle{id: h.id, version: node.version}
}

// ReadBuffer declares a read of the buffer version named by h.
func (b *PassBuilder) ReadBuffer(h BufferHandle, access barrier.AccessType) BufferHandle {
	node, err := b.graph.bufferAt(h)
	if err != nil {
		b.setErr(err)
		return h
	}
	if access.IsWrite() {
		b.setErr(fmt.Errorf("read of buffer %q with write access %v", node.name, access))
		return h
	}
	if h.version > node.version {
		b.setErr(fmt.Errorf("read of future version %v of buffer %q: %w", h, node.name, ErrInvalidHandle))
		return h
	}
	b.pass.buffers = append(b.pass.buffers, bufferAccess{id: h.id, version: h.version, access: access})
	return h
}

// WriteBuffer declares a write to the buffer named by h and returns the
// handle of the version this pass produces.
func (b *PassBuilder) WriteBuffer(h BufferHandle, access barrier.AccessType) BufferHandle {
	node, err := b.graph.bufferAt(h)
	if err != nil {
		b.setErr(err)
		return h
	}
	if !access.IsWrite() {
		b.setErr(fmt.Errorf("write of buffer %q with read access %v", node.name, access))
		return h
	}
	if h.version != node.version {
		b.setErr(fmt.Errorf("write of stale handle %v of buffer %q (current v%d): %w", h, node.name, node.version, ErrInvalidHandle))
		return h
	}
	node.version++
	b.pass.buffers = append(b.pass.buffers, bufferAccess{id: h.id, version: node.version, access: access})
	return BufferHandle{id: h.id, version: node.version}
}

// Compute attaches a registered compute pipeline to the pass. The
// pipeline is resolved through the cache at compile time, so shader
// errors surface from Compile, not here.
func (b *PassBuilder) Compute(h pipeline.ComputeHandle) {
	if b.pass.compute.set || b.pass.raster.set {
		b.setErr(fmt.Errorf("pass already has a pipeline"))
		return
	}
	b.pass.compute = computeRef{set: true, handle: h}
}

// Raster attaches a registered raster pipeline to the pass.
func (b *PassBuilder) Raster(h pipeline.RasterHandle) {
	if b.pass.compute.set || b.pass.raster.set {
		b.setErr(fmt.Errorf("pass already has a pipeline"))
		return
	}
	b.pass.raster = rasterRef{set: true, handle: h}
}

// Render sets the record callback that runs when the graph executes.
// Every pass needs exactly one.
func (b *PassBuilder) Render(fn func(*PassContext) error) {
	if b.pass.render != nil {
		b.setErr(fmt.Errorf("pass already has a render callback"))
		return
	}
	b.pass.render = fn
}
