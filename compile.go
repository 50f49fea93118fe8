package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/internal/fglog"
	"github.com/gogpu/framegraph/pipeline"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

// CompileParams supplies the backing stores Compile resolves against.
type CompileParams struct {
	// Device creates views and bind groups during execution.
	Device hal.Device

	// Pipelines resolves the handles passes attached via Compute and
	// Raster. May be nil if no pass uses a pipeline.
	Pipelines *pipeline.Cache

	// Pool provides the physical resources for CreateImage and
	// CreateBuffer declarations. May be nil if the graph only imports.
	Pool *transient.Pool
}

// compiledImage pairs a virtual image with its physical resource.
type compiledImage struct {
	node *imageNode
	phys *resource.Image
}

type compiledBuffer struct {
	node *bufferNode
	phys *resource.Buffer
}

// compiledPass is a passNode with its pipeline handles resolved.
type compiledPass struct {
	name    string
	images  []imageAccess
	buffers []bufferAccess
	compute *pipeline.ComputePipeline
	raster  *pipeline.RasterPipeline
	render  func(*PassContext) error
}

// CompiledGraph is a Graph with physical resources acquired and
// pipelines resolved, ready for Execute. It owns the transient
// resources until Execute hands them to the RetiredGraph.
type CompiledGraph struct {
	device   hal.Device
	images   []compiledImage
	buffers  []compiledBuffer
	passes   []compiledPass
	consumed bool
}

// Compile resolves the graph: merges the declared accesses of each
// resource into HAL usage flags, acquires transient resources from the
// pool, validates imports against their actual usage, and resolves
// pipeline handles through the cache. The Graph is consumed whether or
// not Compile succeeds.
func (g *Graph) Compile(params CompileParams) (*CompiledGraph, error) {
	if g.consumed {
		return nil, ErrGraphConsumed
	}
	g.consumed = true
	if g.err != nil {
		return nil, g.err
	}
	if params.Device == nil {
		return nil, ErrNilDevice
	}

	imageUsage := make([]gputypes.TextureUsage, len(g.images))
	bufferUsage := make([]gputypes.BufferUsage, len(g.buffers))
	imageUsed := make([]bool, len(g.images))
	bufferUsed := make([]bool, len(g.buffers))

	for _, pass := range g.passes {
		for _, acc := range pass.images {
			node := g.images[acc.id-1]
			if err := checkImageAccess(node, acc.access); err != nil {
				return nil, &PassError{Pass: pass.name, Err: err}
			}
			imageUsage[acc.id-1] |= acc.access.TextureUsage()
			imageUsed[acc.id-1] = true
		}
		for _, acc := range pass.buffers {
			usage, err := bufferAccessUsage(acc.access)
			if err != nil {
				node := g.buffers[acc.id-1]
				return nil, &PassError{Pass: pass.name, Err: &DescriptorConflictError{Resource: node.name, Reason: err.Error()}}
			}
			bufferUsage[acc.id-1] |= usage
			bufferUsed[acc.id-1] = true
		}
	}

	for i, node := range g.images {
		if node.exported {
			imageUsage[i] |= node.exportAccess.TextureUsage()
			imageUsed[i] = true
		}
		if node.imported != nil {
			// Imports keep their own usage; the graph's demands must
			// fit inside it.
			have := node.imported.Desc().Usage
			if want := imageUsage[i]; have&want != want {
				return nil, &DescriptorConflictError{
					Resource: node.name,
					Reason:   fmt.Sprintf("imported usage 0x%x does not cover declared usage 0x%x", uint32(have), uint32(want)),
				}
			}
		}
	}
	for i, node := range g.buffers {
		if node.imported != nil {
			have := node.imported.Desc().Usage
			if want := bufferUsage[i]; have&want != want {
				return nil, &DescriptorConflictError{
					Resource: node.name,
					Reason:   fmt.Sprintf("imported usage 0x%x does not cover declared usage 0x%x", uint32(have), uint32(want)),
				}
			}
		}
	}

	c := &CompiledGraph{device: params.Device}

	// Acquire physical resources. On any later failure everything
	// acquired so far is destroyed; the pool recreates on demand.
	for i, node := range g.images {
		ci := compiledImage{node: node}
		switch {
		case node.imported != nil:
			ci.phys = node.imported
		case imageUsed[i]:
			if params.Pool == nil {
				c.destroyTransients()
				return nil, fmt.Errorf("framegraph: image %q needs a transient pool", node.name)
			}
			desc := node.desc.WithUsage(imageUsage[i])
			img, err := params.Pool.AcquireImage(node.name, desc)
			if err != nil {
				c.destroyTransients()
				return nil, fmt.Errorf("framegraph: image %q: %w", node.name, err)
			}
			ci.phys = img
		}
		c.images = append(c.images, ci)
	}
	for i, node := range g.buffers {
		cb := compiledBuffer{node: node}
		switch {
		case node.imported != nil:
			cb.phys = node.imported
		case bufferUsed[i]:
			if params.Pool == nil {
				c.destroyTransients()
				return nil, fmt.Errorf("framegraph: buffer %q needs a transient pool", node.name)
			}
			desc := node.desc.WithUsage(bufferUsage[i])
			buf, err := params.Pool.AcquireBuffer(node.name, desc)
			if err != nil {
				c.destroyTransients()
				return nil, fmt.Errorf("framegraph: buffer %q: %w", node.name, err)
			}
			cb.phys = buf
		}
		c.buffers = append(c.buffers, cb)
	}

	// Resolve pipelines. Doing it here rather than at execute keeps
	// shader failures out of the recording path.
	for _, pass := range g.passes {
		cp := compiledPass{
			name:    pass.name,
			images:  pass.images,
			buffers: pass.buffers,
			render:  pass.render,
		}
		if pass.compute.set {
			if params.Pipelines == nil {
				c.destroyTransients()
				return nil, &PassError{Pass: pass.name, Err: fmt.Errorf("no pipeline cache supplied")}
			}
			p, err := params.Pipelines.GetCompute(pass.compute.handle)
			if err != nil {
				c.destroyTransients()
				return nil, &PassError{Pass: pass.name, Err: err}
			}
			cp.compute = p
		}
		if pass.raster.set {
			if params.Pipelines == nil {
				c.destroyTransients()
				return nil, &PassError{Pass: pass.name, Err: fmt.Errorf("no pipeline cache supplied")}
			}
			p, err := params.Pipelines.GetRaster(pass.raster.handle)
			if err != nil {
				c.destroyTransients()
				return nil, &PassError{Pass: pass.name, Err: err}
			}
			cp.raster = p
		}
		c.passes = append(c.passes, cp)
	}

	fglog.Logger().Debug("graph compiled",
		"passes", len(c.passes),
		"images", len(c.images),
		"buffers", len(c.buffers))
	return c, nil
}

// destroyTransients releases resources acquired from the pool when
// compilation or execution aborts. The pool recreates them on the next
// frame, so failure does not leak, it just forfeits reuse.
func (c *CompiledGraph) destroyTransients() {
	for _, ci := range c.images {
		if ci.phys != nil && ci.phys.Origin() == resource.OriginTransient {
			ci.phys.Destroy()
		}
	}
	for _, cb := range c.buffers {
		if cb.phys != nil && cb.phys.Origin() == resource.OriginTransient {
			cb.phys.Destroy()
		}
	}
}

// checkImageAccess rejects access/format combinations a single image
// cannot satisfy.
func checkImageAccess(node *imageNode, access barrier.AccessType) error {
	depth := resource.IsDepthFormat(node.desc.Format)
	switch access {
	case barrier.AccessColorAttachment:
		if depth {
			return &DescriptorConflictError{Resource: node.name, Reason: "color attachment access on depth format"}
		}
	case barrier.AccessDepthAttachment:
		if !depth {
			return &DescriptorConflictError{Resource: node.name, Reason: "depth attachment access on color format"}
		}
	}
	return nil
}

// bufferAccessUsage maps a declared access onto HAL buffer usage.
func bufferAccessUsage(access barrier.AccessType) (gputypes.BufferUsage, error) {
	switch access {
	case barrier.AccessComputeRead, barrier.AccessComputeWrite:
		return gputypes.BufferUsageStorage, nil
	case barrier.AccessShaderRead:
		return gputypes.BufferUsageUniform, nil
	case barrier.AccessTransferRead:
		return gputypes.BufferUsageCopySrc, nil
	case barrier.AccessTransferWrite:
		return gputypes.BufferUsageCopyDst, nil
	default:
		return 0, fmt.Errorf("access %v is not valid on a buffer", access)
	}
}
