package barrier

import (
	"github.com/gogpu/wgpu/hal"
)

// Tracker records the last known access state of every image and buffer
// seen during a frame and computes the usage transition, if any, needed
// before the next access.
//
// Buffer accesses are tracked for hazard reporting only. Buffers have no
// layout, so no HAL barrier is emitted for them; the queue submission
// boundary provides the needed ordering.
//
// Tracker is not safe for concurrent use. Command recording is single
// threaded, so each executor owns its own tracker.
type Tracker struct {
	images   map[hal.Texture]AccessType
	buffers  map[hal.Buffer]AccessType
	barriers int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		images:  make(map[hal.Texture]AccessType),
		buffers: make(map[hal.Buffer]AccessType),
	}
}

// ObserveImage seeds the tracker with the current access state of an image
// without emitting a barrier. Used for imported resources whose state is
// declared by the caller.
func (t *Tracker) ObserveImage(tex hal.Texture, access AccessType) {
	t.images[tex] = access
}

// ObserveBuffer seeds the tracker with the current access state of a buffer.
func (t *Tracker) ObserveBuffer(buf hal.Buffer, access AccessType) {
	t.buffers[buf] = access
}

// TransitionImage moves an image to the given access state. It returns the
// HAL barrier to record and true when a transition is required, or a zero
// barrier and false when the image is already in a compatible state.
//
// A transition is required when the usage changes, and also when either
// side writes (read-after-write and write-after-write hazards need a
// barrier even though the layout stays put).
func (t *Tracker) TransitionImage(tex hal.Texture, next AccessType) (hal.TextureBarrier, bool) {
	current := t.images[tex]
	t.images[tex] = next

	if current == next && !next.IsWrite() {
		return hal.TextureBarrier{}, false
	}
	oldUsage := current.TextureUsage()
	newUsage := next.TextureUsage()
	if oldUsage == newUsage && !current.IsWrite() && !next.IsWrite() {
		return hal.TextureBarrier{}, false
	}

	t.barriers++
	return hal.TextureBarrier{
		Texture: tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: oldUsage,
			NewUsage: newUsage,
		},
	}, true
}

// TransitionBuffer moves a buffer to the given access state. It reports
// whether a hazard boundary was crossed (write involved on either side of
// a state change). No HAL barrier is produced.
func (t *Tracker) TransitionBuffer(buf hal.Buffer, next AccessType) bool {
	current := t.buffers[buf]
	t.buffers[buf] = next

	if current == next && !next.IsWrite() {
		return false
	}
	return current.IsWrite() || next.IsWrite()
}

// ImageAccess returns the last recorded access state of an image.
func (t *Tracker) ImageAccess(tex hal.Texture) (AccessType, bool) {
	a, ok := t.images[tex]
	return a, ok
}

// BufferAccess returns the last recorded access state of a buffer.
func (t *Tracker) BufferAccess(buf hal.Buffer) (AccessType, bool) {
	a, ok := t.buffers[buf]
	return a, ok
}

// BarrierCount returns the number of image barriers emitted so far.
func (t *Tracker) BarrierCount() int {
	return t.barriers
}

// Reset clears all tracked state.
func (t *Tracker) Reset() {
	clear(t.images)
	clear(t.buffers)
	t.barriers = 0
}
