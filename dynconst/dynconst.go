// Package dynconst manages a per-frame ring of shader constants.
//
// A single uniform buffer holds two frame-sized regions. Each frame writes
// into one region while the GPU may still be reading the other, so the CPU
// never overwrites constants a submitted frame depends on. Push appends a
// value at uniform-offset alignment and returns the byte offset to bind;
// Flush uploads the frame's writes in one queue write.
package dynconst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/resource"
)

const (
	// DefaultFrameBytes is the per-frame constants budget.
	DefaultFrameBytes = 16 * 1024

	// offsetAlign is the uniform buffer offset alignment required by the
	// strictest backends.
	offsetAlign = 256
)

// ErrFrameFull is returned when a frame's constants region is exhausted.
var ErrFrameFull = errors.New("dynconst: frame constants region full")

// Allocator is the frame constants ring. Not safe for concurrent Push;
// constants are recorded by the single thread building the frame.
type Allocator struct {
	mu     sync.Mutex
	buffer *resource.Buffer

	frameBytes uint64
	frame      uint64 // frame parity selects the region

	head    uint64 // write offset within the current region
	staging []byte // shadow of the current region
	dirty   uint64 // bytes of staging written this frame
}

// NewAllocator creates the backing uniform buffer (two regions of
// frameBytes each) on the device. frameBytes of 0 selects the default.
func NewAllocator(device hal.Device, frameBytes uint64) (*Allocator, error) {
	if frameBytes == 0 {
		frameBytes = DefaultFrameBytes
	}
	if frameBytes%offsetAlign != 0 {
		return nil, fmt.Errorf("dynconst: frame size %d not a multiple of %d", frameBytes, offsetAlign)
	}

	buf, err := resource.NewBuffer(device, "frame constants", resource.NewBufferDesc(
		frameBytes*2,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst,
	))
	if err != nil {
		return nil, fmt.Errorf("dynconst: %w", err)
	}

	return &Allocator{
		buffer:     buf,
		frameBytes: frameBytes,
		staging:    make([]byte, frameBytes),
	}, nil
}

// Buffer returns the backing uniform buffer for bind group creation.
func (a *Allocator) Buffer() *resource.Buffer { return a.buffer }

// FrameBytes returns the per-frame budget.
func (a *Allocator) FrameBytes() uint64 { return a.frameBytes }

// regionBase returns the buffer offset of the active region.
func (a *Allocator) regionBase() uint64 {
	return (a.frame & 1) * a.frameBytes
}

// AdvanceFrame begins a new frame: the ring flips to the other region and
// the write head resets. Call after submitting the previous frame.
func (a *Allocator) AdvanceFrame() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frame++
	a.head = 0
	a.dirty = 0
}

// Push serializes v (a fixed-size value per encoding/binary) into the
// current frame's region and returns the absolute buffer offset to bind.
func (a *Allocator) Push(v any) (uint64, error) {
	var enc bytes.Buffer
	if err := binary.Write(&enc, binary.LittleEndian, v); err != nil {
		return 0, fmt.Errorf("dynconst: encode %T: %w", v, err)
	}
	data := enc.Bytes()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head+uint64(len(data)) > a.frameBytes {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d of %d",
			ErrFrameFull, len(data), a.head, a.frameBytes)
	}

	offset := a.head
	copy(a.staging[offset:], data)
	a.dirty = offset + uint64(len(data))

	// Advance to the next aligned slot.
	a.head = (a.dirty + offsetAlign - 1) &^ (offsetAlign - 1)

	return a.regionBase() + offset, nil
}

// Flush uploads everything pushed this frame in a single queue write.
func (a *Allocator) Flush(queue hal.Queue) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dirty == 0 {
		return nil
	}
	return a.buffer.Upload(queue, a.regionBase(), a.staging[:a.dirty])
}

// Destroy releases the backing buffer.
func (a *Allocator) Destroy() {
	a.buffer.Destroy()
}
