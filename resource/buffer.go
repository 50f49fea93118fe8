package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Buffer errors.
var (
	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("resource: buffer has been destroyed")

	// ErrInvalidBufferDesc is returned when a buffer descriptor is malformed.
	ErrInvalidBufferDesc = errors.New("resource: invalid buffer descriptor")
)

// BufferDesc describes a buffer to create. Comparable, usable as a map key.
type BufferDesc struct {
	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// NewBufferDesc returns a buffer descriptor with the given size and usage.
func NewBufferDesc(size uint64, usage gputypes.BufferUsage) BufferDesc {
	return BufferDesc{Size: size, Usage: usage}
}

// WithUsage returns a copy of the descriptor with the given usage flags added.
func (d BufferDesc) WithUsage(usage gputypes.BufferUsage) BufferDesc {
	d.Usage |= usage
	return d
}

// Validate reports whether the descriptor describes a creatable buffer.
func (d BufferDesc) Validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: zero size", ErrInvalidBufferDesc)
	}
	return nil
}

// String returns a compact description for diagnostics.
func (d BufferDesc) String() string {
	return fmt.Sprintf("buffer size=%d usage=0x%x", d.Size, d.Usage)
}

// Buffer is a physical GPU buffer with its descriptor and ownership tag.
type Buffer struct {
	mu        sync.RWMutex
	raw       hal.Buffer
	device    hal.Device
	label     string
	desc      BufferDesc
	origin    Origin
	destroyed bool
}

// NewBuffer creates an externally-owned buffer on the device.
func NewBuffer(device hal.Device, label string, desc BufferDesc) (*Buffer, error) {
	return newBuffer(device, label, desc, OriginExternal)
}

// NewTransientBuffer creates a pool-owned buffer on the device. Callers
// other than a transient pool should use NewBuffer.
func NewTransientBuffer(device hal.Device, label string, desc BufferDesc) (*Buffer, error) {
	return newBuffer(device, label, desc, OriginTransient)
}

func newBuffer(device hal.Device, label string, desc BufferDesc, origin Origin) (*Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	raw, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}

	return &Buffer{
		raw:    raw,
		device: device,
		label:  label,
		desc:   desc,
		origin: origin,
	}, nil
}

// WrapBuffer adopts an existing HAL buffer as an externally-owned buffer.
// The caller remains responsible for destroying the underlying buffer.
func WrapBuffer(device hal.Device, label string, raw hal.Buffer, desc BufferDesc) *Buffer {
	return &Buffer{
		raw:    raw,
		device: device,
		label:  label,
		desc:   desc,
		origin: OriginExternal,
	}
}

// Label returns the buffer's debug label.
func (b *Buffer) Label() string { return b.label }

// Desc returns the buffer descriptor.
func (b *Buffer) Desc() BufferDesc { return b.desc }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Origin returns the ownership tag.
func (b *Buffer) Origin() Origin { return b.origin }

// Transient reports whether the buffer is pool-owned.
func (b *Buffer) Transient() bool { return b.origin == OriginTransient }

// Raw returns the underlying HAL buffer, or nil after Destroy.
func (b *Buffer) Raw() hal.Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.destroyed {
		return nil
	}
	return b.raw
}

// Upload writes data into the buffer at the given offset through the queue.
func (b *Buffer) Upload(queue hal.Queue, offset uint64, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return ErrBufferDestroyed
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("resource: upload of %d bytes at offset %d exceeds buffer %q size %d",
			len(data), offset, b.label, b.desc.Size)
	}
	queue.WriteBuffer(b.raw, offset, data)
	return nil
}

// Destroy releases the underlying buffer. Safe to call multiple times.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.destroyed = true
	b.device.DestroyBuffer(b.raw)
	b.raw = nil
}
