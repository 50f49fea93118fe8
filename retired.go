package framegraph

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/internal/fglog"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

// RetiredGraph owns a frame's resources between submission and reuse.
// Wait for the frame's fence, redeem any exports, then hand the
// transients back with ReleaseResources.
type RetiredGraph struct {
	device     hal.Device
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
	fenceValue uint64
	ownsFence  bool
	generation uint64
	released   bool

	images  []compiledImage
	buffers []compiledBuffer

	bindGroups []hal.BindGroup
}

// Generation returns the tag the frame was executed under.
func (r *RetiredGraph) Generation() uint64 { return r.generation }

// Wait blocks until the frame's submission completes or the timeout
// expires. Harmless to call more than once.
func (r *RetiredGraph) Wait(timeout time.Duration) error {
	ok, err := r.device.Wait(r.fence, r.fenceValue, timeout)
	if err != nil {
		return fmt.Errorf("framegraph: wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("framegraph: wait: fence not signaled after %v", timeout)
	}
	return nil
}

// Image redeems an export token. The image stays alive after
// ReleaseResources; the caller owns it from then on and is responsible
// for retiring or destroying it.
func (r *RetiredGraph) Image(tok ExportedImage) (*resource.Image, barrier.AccessType, bool) {
	if !tok.Valid() || int(tok.id) > len(r.images) {
		return nil, barrier.AccessNone, false
	}
	ci := r.images[tok.id-1]
	if !ci.node.exported {
		return nil, barrier.AccessNone, false
	}
	return ci.phys, ci.node.exportAccess, true
}

// ReleaseResources destroys the frame's bind groups and command
// buffer, and retires non-exported transient resources into the pool
// under the frame's generation. It does not drain the pool: retired
// resources stay pending until the frame driver calls
// transient.Pool.ReleaseAll for a generation whose fence has signaled.
// pool may be nil, in which case transients are destroyed instead of
// recycled. Idempotent.
func (r *RetiredGraph) ReleaseResources(pool *transient.Pool) {
	if r.released {
		return
	}
	r.released = true

	for _, bg := range r.bindGroups {
		r.device.DestroyBindGroup(bg)
	}
	r.bindGroups = nil

	r.device.FreeCommandBuffer(r.cmdBuf)
	if r.ownsFence {
		r.device.DestroyFence(r.fence)
	}

	recycled := 0
	for _, ci := range r.images {
		if ci.phys == nil || ci.phys.Origin() != resource.OriginTransient || ci.node.exported {
			continue
		}
		if pool == nil {
			ci.phys.Destroy()
			continue
		}
		pool.RetireImage(r.generation, ci.phys)
		recycled++
	}
	for _, cb := range r.buffers {
		if cb.phys == nil || cb.phys.Origin() != resource.OriginTransient {
			continue
		}
		if pool == nil {
			cb.phys.Destroy()
			continue
		}
		pool.RetireBuffer(r.generation, cb.phys)
		recycled++
	}
	fglog.Logger().Debug("graph retired",
		"generation", r.generation,
		"recycled", recycled)
}
