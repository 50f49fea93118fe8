// Package transient pools short-lived GPU resources across frames.
//
// A render graph allocates its intermediate images and buffers from a
// Pool. When a frame retires, its transients are parked in a pending
// bucket keyed by frame parity; once the frame's submission has been
// waited on, ReleaseAll moves the bucket back onto the free lists where
// the next frame's graph picks them up. In steady state a graph that
// requests the same shapes every frame allocates nothing.
package transient

import (
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/fglog"
	"github.com/gogpu/framegraph/resource"
)

// Stats is a snapshot of pool activity.
type Stats struct {
	// ImagesCreated counts images allocated on the device.
	ImagesCreated uint64

	// ImagesReused counts acquisitions served from the free lists.
	ImagesReused uint64

	// BuffersCreated counts buffers allocated on the device.
	BuffersCreated uint64

	// BuffersReused counts acquisitions served from the free lists.
	BuffersReused uint64

	// FreeImages and FreeBuffers are the current free list sizes.
	FreeImages  int
	FreeBuffers int

	// PendingImages and PendingBuffers count resources retired but not
	// yet released back to the free lists.
	PendingImages  int
	PendingBuffers int
}

// imageKey is an image descriptor with the usage cleared. Two requests
// with compatible shapes land in the same free list regardless of the
// usage flags they happened to accumulate.
func imageKey(desc resource.ImageDesc) resource.ImageDesc {
	desc.Usage = 0
	return desc
}

func bufferKey(desc resource.BufferDesc) resource.BufferDesc {
	desc.Usage = 0
	return desc
}

// Pool owns transient images and buffers and recycles them across frames.
//
// Pool methods are safe for concurrent use, though the expected pattern is
// one graph compiling at a time with releases driven by the frame loop.
type Pool struct {
	mu     sync.Mutex
	device hal.Device

	freeImages  map[resource.ImageDesc][]*resource.Image
	freeBuffers map[resource.BufferDesc][]*resource.Buffer

	// Retired resources indexed by frame parity. A bucket is only drained
	// once the caller has waited on the frame that filled it.
	pendingImages  [2][]*resource.Image
	pendingBuffers [2][]*resource.Buffer

	stats     Stats
	destroyed bool
}

// NewPool returns an empty pool allocating on the given device.
func NewPool(device hal.Device) *Pool {
	return &Pool{
		device:      device,
		freeImages:  make(map[resource.ImageDesc][]*resource.Image),
		freeBuffers: make(map[resource.BufferDesc][]*resource.Buffer),
	}
}

// AcquireImage returns a pooled image matching the descriptor, allocating
// a new one when no free image has a compatible shape and usage. A pooled
// image is compatible when its shape matches and its usage is a superset
// of the requested usage.
func (p *Pool) AcquireImage(label string, desc resource.ImageDesc) (*resource.Image, error) {
	key := imageKey(desc)

	p.mu.Lock()
	list := p.freeImages[key]
	for i, img := range list {
		if img.Desc().Usage&desc.Usage == desc.Usage {
			p.freeImages[key] = append(list[:i], list[i+1:]...)
			p.stats.ImagesReused++
			p.mu.Unlock()
			return img, nil
		}
	}
	p.stats.ImagesCreated++
	p.mu.Unlock()

	img, err := resource.NewTransientImage(p.device, label, desc)
	if err != nil {
		p.mu.Lock()
		p.stats.ImagesCreated--
		p.mu.Unlock()
		return nil, err
	}
	fglog.Logger().Debug("transient image allocated", "label", label, "desc", desc.String())
	return img, nil
}

// AcquireBuffer returns a pooled buffer matching the descriptor, allocating
// a new one when no free buffer has the same size and a usage superset.
func (p *Pool) AcquireBuffer(label string, desc resource.BufferDesc) (*resource.Buffer, error) {
	key := bufferKey(desc)

	p.mu.Lock()
	list := p.freeBuffers[key]
	for i, buf := range list {
		if buf.Desc().Usage&desc.Usage == desc.Usage {
			p.freeBuffers[key] = append(list[:i], list[i+1:]...)
			p.stats.BuffersReused++
			p.mu.Unlock()
			return buf, nil
		}
	}
	p.stats.BuffersCreated++
	p.mu.Unlock()

	buf, err := resource.NewTransientBuffer(p.device, label, desc)
	if err != nil {
		p.mu.Lock()
		p.stats.BuffersCreated--
		p.mu.Unlock()
		return nil, err
	}
	fglog.Logger().Debug("transient buffer allocated", "label", label, "desc", desc.String())
	return buf, nil
}

// RetireImage parks an image in the pending bucket for the given frame
// generation. Externally owned images are ignored.
func (p *Pool) RetireImage(gen uint64, img *resource.Image) {
	if img == nil || !img.Transient() {
		return
	}
	p.mu.Lock()
	p.pendingImages[gen&1] = append(p.pendingImages[gen&1], img)
	p.mu.Unlock()
}

// RetireBuffer parks a buffer in the pending bucket for the given frame
// generation. Externally owned buffers are ignored.
func (p *Pool) RetireBuffer(gen uint64, buf *resource.Buffer) {
	if buf == nil || !buf.Transient() {
		return
	}
	p.mu.Lock()
	p.pendingBuffers[gen&1] = append(p.pendingBuffers[gen&1], buf)
	p.mu.Unlock()
}

// ReleaseAll moves every resource retired under the given frame generation
// back onto the free lists. Call it only after waiting on the frame's
// submission.
func (p *Pool) ReleaseAll(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := gen & 1
	for _, img := range p.pendingImages[slot] {
		key := imageKey(img.Desc())
		p.freeImages[key] = append(p.freeImages[key], img)
	}
	p.pendingImages[slot] = p.pendingImages[slot][:0]

	for _, buf := range p.pendingBuffers[slot] {
		key := bufferKey(buf.Desc())
		p.freeBuffers[key] = append(p.freeBuffers[key], buf)
	}
	p.pendingBuffers[slot] = p.pendingBuffers[slot][:0]
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for _, list := range p.freeImages {
		s.FreeImages += len(list)
	}
	for _, list := range p.freeBuffers {
		s.FreeBuffers += len(list)
	}
	for slot := 0; slot < 2; slot++ {
		s.PendingImages += len(p.pendingImages[slot])
		s.PendingBuffers += len(p.pendingBuffers[slot])
	}
	return s
}

// Destroy releases every pooled resource, free and pending alike. The pool
// must not be used afterwards.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	p.destroyed = true

	for _, list := range p.freeImages {
		for _, img := range list {
			img.Destroy()
		}
	}
	for _, list := range p.freeBuffers {
		for _, buf := range list {
			buf.Destroy()
		}
	}
	for slot := 0; slot < 2; slot++ {
		for _, img := range p.pendingImages[slot] {
			img.Destroy()
		}
		for _, buf := range p.pendingBuffers[slot] {
			buf.Destroy()
		}
		p.pendingImages[slot] = nil
		p.pendingBuffers[slot] = nil
	}
	p.freeImages = nil
	p.freeBuffers = nil
}
