package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/pipeline"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
)

// PassContext is handed to a pass's render callback during Execute.
// It resolves the pass's declared handles to physical resources and
// provides recording helpers. It must not be retained after the
// callback returns.
type PassContext struct {
	graph   *CompiledGraph
	pass    *compiledPass
	encoder hal.CommandEncoder
	params  *ExecParams
	created []hal.BindGroup
}

// Encoder exposes the frame's command encoder for passes that record
// directly, for example copies or custom render passes. Barriers for
// the pass's declared accesses are already in place when the callback
// runs.
func (pc *PassContext) Encoder() hal.CommandEncoder { return pc.encoder }

// Image resolves a handle this pass declared to its physical image.
func (pc *PassContext) Image(h ImageHandle) (*resource.Image, error) {
	for _, acc := range pc.pass.images {
		if acc.id == h.id {
			return pc.graph.images[h.id-1].phys, nil
		}
	}
	return nil, fmt.Errorf("framegraph: pass %q did not declare %v: %w", pc.pass.name, h, ErrInvalidHandle)
}

// ImageView resolves a handle to the default view of its physical
// image. Views are cached on the image, so repeated calls are cheap.
func (pc *PassContext) ImageView(h ImageHandle) (hal.TextureView, error) {
	img, err := pc.Image(h)
	if err != nil {
		return nil, err
	}
	return img.DefaultView()
}

// Buffer resolves a handle this pass declared to its physical buffer.
func (pc *PassContext) Buffer(h BufferHandle) (*resource.Buffer, error) {
	for _, acc := range pc.pass.buffers {
		if acc.id == h.id {
			return pc.graph.buffers[h.id-1].phys, nil
		}
	}
	return nil, fmt.Errorf("framegraph: pass %q did not declare %v: %w", pc.pass.name, h, ErrInvalidHandle)
}

// ComputePipeline returns the pipeline the pass attached via
// PassBuilder.Compute.
func (pc *PassContext) ComputePipeline() (*pipeline.ComputePipeline, error) {
	if pc.pass.compute == nil {
		return nil, ErrNoPipeline
	}
	return pc.pass.compute, nil
}

// RasterPipeline returns the pipeline the pass attached via
// PassBuilder.Raster.
func (pc *PassContext) RasterPipeline() (*pipeline.RasterPipeline, error) {
	if pc.pass.raster == nil {
		return nil, ErrNoPipeline
	}
	return pc.pass.raster, nil
}

// pipelineGroups returns the reflection and layouts of whichever
// pipeline the pass carries.
func (pc *PassContext) pipelineGroups() (func(uint32) *shader.BindGroup, []hal.BindGroupLayout, error) {
	switch {
	case pc.pass.compute != nil:
		return pc.pass.compute.Group, pc.pass.compute.GroupLayouts, nil
	case pc.pass.raster != nil:
		return pc.pass.raster.Group, pc.pass.raster.GroupLayouts, nil
	}
	return nil, nil, ErrNoPipeline
}

// BindGroupFor builds a bind group for the given group index. Each
// binding's slot is its position in binds; slots the shader does not
// declare are skipped, mismatched kinds are errors. The bind group is
// owned by the frame and destroyed when the RetiredGraph releases.
func (pc *PassContext) BindGroupFor(group uint32, binds ...Binding) (hal.BindGroup, error) {
	lookup, layouts, err := pc.pipelineGroups()
	if err != nil {
		return nil, err
	}
	if int(group) >= len(layouts) {
		return nil, fmt.Errorf("framegraph: pass %q: pipeline has no bind group %d", pc.pass.name, group)
	}

	sg := lookup(group)
	entries := make([]gputypes.BindGroupEntry, 0, len(binds))
	for i, bind := range binds {
		slot := uint32(i)
		decl := declaredBinding(sg, slot)
		if decl == nil {
			continue
		}
		if !bind.compatible(decl.Kind) {
			return nil, fmt.Errorf("framegraph: pass %q: group %d binding %d: shader wants %v", pc.pass.name, group, slot, decl.Kind)
		}
		entry, err := pc.bindEntry(slot, bind)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	bg, err := pc.graph.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s_group%d", pc.pass.name, group),
		Layout:  layouts[group],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("framegraph: pass %q: create bind group %d: %w", pc.pass.name, group, err)
	}
	pc.created = append(pc.created, bg)
	return bg, nil
}

func (pc *PassContext) bindEntry(slot uint32, bind Binding) (gputypes.BindGroupEntry, error) {
	switch bind.target {
	case bindStorageImage, bindSampledImage:
		view, err := pc.ImageView(bind.image)
		if err != nil {
			return gputypes.BindGroupEntry{}, err
		}
		return gputypes.BindGroupEntry{
			Binding: slot,
			Resource: gputypes.TextureViewBinding{
				TextureView: view.NativeHandle(),
			},
		}, nil
	default:
		buf, err := pc.Buffer(bind.buffer)
		if err != nil {
			return gputypes.BindGroupEntry{}, err
		}
		return gputypes.BindGroupEntry{
			Binding: slot,
			Resource: gputypes.BufferBinding{
				Buffer: buf.Raw().NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}, nil
	}
}

func declaredBinding(sg *shader.BindGroup, slot uint32) *shader.Binding {
	if sg == nil {
		return nil
	}
	for i := range sg.Bindings {
		if sg.Bindings[i].Binding == slot {
			return &sg.Bindings[i]
		}
	}
	return nil
}

// Dispatch records the whole compute pass in one call: begin, bind the
// pipeline, build group 0 from binds, attach the frame constants group
// if the pipeline has one, dispatch, end. A pipeline without any bind
// group layouts dispatches with no groups bound.
func (pc *PassContext) Dispatch(x, y, z uint32, binds ...Binding) error {
	cp, err := pc.ComputePipeline()
	if err != nil {
		return err
	}
	var bg hal.BindGroup
	if len(cp.GroupLayouts) > 0 || len(binds) > 0 {
		bg, err = pc.BindGroupFor(0, binds...)
		if err != nil {
			return err
		}
	}

	pass := pc.encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: pc.pass.name,
	})
	pass.SetPipeline(cp.Raw)
	if bg != nil {
		pass.SetBindGroup(0, bg, nil)
	}
	if fg := pc.params.FrameBindGroup; fg != nil {
		if idx := pc.params.FrameConstantsGroup; int(idx) < len(cp.GroupLayouts) {
			pass.SetBindGroup(idx, fg, nil)
		}
	}
	pass.Dispatch(x, y, z)
	pass.End()
	return nil
}

// FrameConstants returns the shared frame constants bind group and the
// group index it belongs at, for passes that record manually instead of
// going through Dispatch. The group is nil when the frame has none.
func (pc *PassContext) FrameConstants() (hal.BindGroup, uint32) {
	return pc.params.FrameBindGroup, pc.params.FrameConstantsGroup
}

// ColorAttachment builds a render pass color attachment over the
// image's default view.
func (pc *PassContext) ColorAttachment(h ImageHandle, loadOp gputypes.LoadOp, clear gputypes.Color) (hal.RenderPassColorAttachment, error) {
	view, err := pc.ImageView(h)
	if err != nil {
		return hal.RenderPassColorAttachment{}, err
	}
	return hal.RenderPassColorAttachment{
		View:       view,
		LoadOp:     loadOp,
		StoreOp:    gputypes.StoreOpStore,
		ClearValue: clear,
	}, nil
}

// DepthAttachment builds a render pass depth attachment over the
// image's default view.
func (pc *PassContext) DepthAttachment(h ImageHandle, loadOp gputypes.LoadOp, clearDepth float32) (*hal.RenderPassDepthStencilAttachment, error) {
	view, err := pc.ImageView(h)
	if err != nil {
		return nil, err
	}
	return &hal.RenderPassDepthStencilAttachment{
		View:            view,
		DepthLoadOp:     loadOp,
		DepthStoreOp:    gputypes.StoreOpStore,
		DepthClearValue: clearDepth,
	}, nil
}
