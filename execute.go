package framegraph

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/dynconst"
	"github.com/gogpu/framegraph/internal/fglog"
)

// DefaultFrameConstantsGroup is the bind group index Dispatch uses for
// the shared frame constants when ExecParams does not override it.
const DefaultFrameConstantsGroup = 2

// ExecParams supplies the per-frame state Execute records against.
type ExecParams struct {
	// Queue receives the single command buffer of the frame.
	Queue hal.Queue

	// Fence is signaled with SignalValue when the submission completes.
	// If nil, Execute creates a fence and the RetiredGraph owns it.
	Fence       hal.Fence
	SignalValue uint64

	// Constants, if set, is flushed to the GPU before submission so
	// every offset handed out during recording is valid.
	Constants *dynconst.Allocator

	// FrameBindGroup, if set, is bound at FrameConstantsGroup by
	// PassContext.Dispatch for pipelines whose shader declares that
	// group.
	FrameBindGroup      hal.BindGroup
	FrameConstantsGroup uint32

	// Generation tags the frame for the transient pool's retire cycle.
	Generation uint64
}

// Execute records every pass into one command encoder and submits it.
// Texture barriers are derived from the declared accesses: each pass's
// transitions are batched into a single TransitionTextures call before
// its callback runs. The CompiledGraph is consumed; resources move to
// the returned RetiredGraph.
//
// If a pass callback fails, encoding is discarded, nothing is
// submitted, and the transient resources are destroyed.
func (c *CompiledGraph) Execute(params ExecParams) (*RetiredGraph, error) {
	if c.consumed {
		return nil, ErrGraphConsumed
	}
	c.consumed = true
	if params.Queue == nil {
		return nil, fmt.Errorf("framegraph: nil queue")
	}
	if params.FrameConstantsGroup == 0 {
		params.FrameConstantsGroup = DefaultFrameConstantsGroup
	}

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "framegraph_frame",
	})
	if err != nil {
		c.destroyTransients()
		return nil, fmt.Errorf("framegraph: create encoder: %w", err)
	}
	if err := encoder.BeginEncoding("framegraph_frame"); err != nil {
		c.destroyTransients()
		return nil, fmt.Errorf("framegraph: begin encoding: %w", err)
	}

	tracker := barrier.NewTracker()
	for _, ci := range c.images {
		if ci.node.imported != nil {
			tracker.ObserveImage(ci.phys.Raw(), ci.node.importAccess)
		}
	}

	var retainedGroups []hal.BindGroup
	abort := func() {
		encoder.DiscardEncoding()
		for _, bg := range retainedGroups {
			c.device.DestroyBindGroup(bg)
		}
		c.destroyTransients()
	}

	for i := range c.passes {
		pass := &c.passes[i]

		var barriers []hal.TextureBarrier
		for _, acc := range pass.images {
			phys := c.images[acc.id-1].phys
			if b, ok := tracker.TransitionImage(phys.Raw(), acc.access); ok {
				barriers = append(barriers, b)
			}
		}
		for _, acc := range pass.buffers {
			// Buffers carry no layout; the tracker only records the
			// hazard so BarrierCount stays honest.
			tracker.TransitionBuffer(c.buffers[acc.id-1].phys.Raw(), acc.access)
		}
		if len(barriers) > 0 {
			encoder.TransitionTextures(barriers)
		}

		pc := &PassContext{
			graph:   c,
			pass:    pass,
			encoder: encoder,
			params:  &params,
		}
		if err := pass.render(pc); err != nil {
			retainedGroups = append(retainedGroups, pc.created...)
			abort()
			return nil, &PassError{Pass: pass.name, Err: err}
		}
		retainedGroups = append(retainedGroups, pc.created...)
	}

	// Leave exported images in the state their consumers expect.
	var exportBarriers []hal.TextureBarrier
	for _, ci := range c.images {
		if !ci.node.exported {
			continue
		}
		if b, ok := tracker.TransitionImage(ci.phys.Raw(), ci.node.exportAccess); ok {
			exportBarriers = append(exportBarriers, b)
		}
	}
	if len(exportBarriers) > 0 {
		encoder.TransitionTextures(exportBarriers)
	}

	if params.Constants != nil {
		if err := params.Constants.Flush(params.Queue); err != nil {
			abort()
			return nil, fmt.Errorf("framegraph: flush constants: %w", err)
		}
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		for _, bg := range retainedGroups {
			c.device.DestroyBindGroup(bg)
		}
		c.destroyTransients()
		return nil, fmt.Errorf("framegraph: end encoding: %w", err)
	}

	fence := params.Fence
	signal := params.SignalValue
	ownsFence := false
	if fence == nil {
		fence, err = c.device.CreateFence()
		if err != nil {
			c.device.FreeCommandBuffer(cmdBuf)
			for _, bg := range retainedGroups {
				c.device.DestroyBindGroup(bg)
			}
			c.destroyTransients()
			return nil, fmt.Errorf("framegraph: create fence: %w", err)
		}
		ownsFence = true
		signal = 1
	}

	if err := params.Queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, signal); err != nil {
		c.device.FreeCommandBuffer(cmdBuf)
		if ownsFence {
			c.device.DestroyFence(fence)
		}
		for _, bg := range retainedGroups {
			c.device.DestroyBindGroup(bg)
		}
		c.destroyTransients()
		return nil, fmt.Errorf("framegraph: submit: %w", err)
	}

	fglog.Logger().Debug("graph executed",
		"passes", len(c.passes),
		"barriers", tracker.BarrierCount(),
		"generation", params.Generation)

	r := &RetiredGraph{
		device:     c.device,
		cmdBuf:     cmdBuf,
		fence:      fence,
		fenceValue: signal,
		ownsFence:  ownsFence,
		generation: params.Generation,
		images:     c.images,
		buffers:    c.buffers,
		bindGroups: retainedGroups,
	}
	return r, nil
}
