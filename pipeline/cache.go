// Package pipeline caches compiled GPU pipelines behind stable handles.
//
// Passes register the pipelines they need up front and receive small
// handles; compilation happens lazily on first use (or eagerly in
// PrepareFrame) and repeated lookups return the identical pipeline
// object. Invalidate marks every pipeline built from a shader path stale
// so the next PrepareFrame rebuilds it, which is the hot reload path.
package pipeline

import (
	"encoding/binary"
	"errors"
	"hash"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/fglog"
	"github.com/gogpu/framegraph/shader"
)

// ComputeHandle refers to a registered compute pipeline.
type ComputeHandle uint32

// RasterHandle refers to a registered render pipeline.
type RasterHandle uint32

type computeEntry struct {
	desc     ComputeDesc
	pipeline *ComputePipeline
	err      error
	stale    bool
}

type rasterEntry struct {
	desc     RasterDesc
	pipeline *RasterPipeline
	err      error
	stale    bool
}

// Cache compiles and caches pipelines on a device.
//
// Cache is safe for concurrent use. It uses RWMutex with double-check
// locking so steady-state lookups take only a read lock.
type Cache struct {
	mu     sync.RWMutex
	device hal.Device
	loader shader.Loader

	computes     []*computeEntry
	computeIndex map[uint64]ComputeHandle

	rasters     []*rasterEntry
	rasterIndex map[uint64]RasterHandle

	hits   uint64
	misses uint64
}

// NewCache returns an empty cache compiling through the given loader.
func NewCache(device hal.Device, loader shader.Loader) (*Cache, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if loader == nil {
		return nil, ErrNilLoader
	}
	return &Cache{
		device:       device,
		loader:       loader,
		computeIndex: make(map[uint64]ComputeHandle),
		rasterIndex:  make(map[uint64]RasterHandle),
	}, nil
}

// RegisterCompute registers a compute pipeline and returns its handle.
// Registering an identical descriptor again returns the existing handle.
// No compilation happens here.
func (c *Cache) RegisterCompute(desc *ComputeDesc) ComputeHandle {
	key := hashComputeDesc(desc)

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.computeIndex[key]; ok {
		return h
	}
	h := ComputeHandle(len(c.computes))
	c.computes = append(c.computes, &computeEntry{desc: *desc})
	c.computeIndex[key] = h
	return h
}

// RegisterRaster registers a render pipeline and returns its handle.
// Registering an identical descriptor again returns the existing handle.
func (c *Cache) RegisterRaster(desc *RasterDesc) RasterHandle {
	key := hashRasterDesc(desc)

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.rasterIndex[key]; ok {
		return h
	}
	h := RasterHandle(len(c.rasters))
	c.rasters = append(c.rasters, &rasterEntry{desc: *desc})
	c.rasterIndex[key] = h
	return h
}

// GetCompute returns the compiled pipeline for a handle, compiling it on
// first use. Subsequent calls return the identical object.
func (c *Cache) GetCompute(h ComputeHandle) (*ComputePipeline, error) {
	// Fast path: read lock
	c.mu.RLock()
	if int(h) >= len(c.computes) {
		c.mu.RUnlock()
		return nil, ErrInvalidHandle
	}
	entry := c.computes[h]
	if entry.pipeline != nil && !entry.stale {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		return entry.pipeline, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveComputeLocked(entry)
}

// GetRaster returns the compiled pipeline for a handle, compiling it on
// first use.
func (c *Cache) GetRaster(h RasterHandle) (*RasterPipeline, error) {
	c.mu.RLock()
	if int(h) >= len(c.rasters) {
		c.mu.RUnlock()
		return nil, ErrInvalidHandle
	}
	entry := c.rasters[h]
	if entry.pipeline != nil && !entry.stale {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		return entry.pipeline, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveRasterLocked(entry)
}

func (c *Cache) resolveComputeLocked(entry *computeEntry) (*ComputePipeline, error) {
	if entry.pipeline != nil && !entry.stale {
		atomic.AddUint64(&c.hits, 1)
		return entry.pipeline, nil
	}
	if entry.err != nil && !entry.stale {
		return nil, entry.err
	}

	pipeline, err := createCompute(c.device, c.loader, &entry.desc)
	if err != nil {
		// Keep the previous pipeline through a failed reload.
		entry.err = err
		if entry.pipeline != nil {
			fglog.Logger().Warn("compute pipeline reload failed, keeping previous",
				"path", entry.desc.Path, "error", err)
			entry.stale = false
			return entry.pipeline, nil
		}
		return nil, err
	}

	if entry.pipeline != nil {
		entry.pipeline.destroy(c.device)
	}
	entry.pipeline = pipeline
	entry.err = nil
	entry.stale = false
	atomic.AddUint64(&c.misses, 1)
	return pipeline, nil
}

func (c *Cache) resolveRasterLocked(entry *rasterEntry) (*RasterPipeline, error) {
	if entry.pipeline != nil && !entry.stale {
		atomic.AddUint64(&c.hits, 1)
		return entry.pipeline, nil
	}
	if entry.err != nil && !entry.stale {
		return nil, entry.err
	}

	pipeline, err := createRaster(c.device, c.loader, &entry.desc)
	if err != nil {
		entry.err = err
		if entry.pipeline != nil {
			fglog.Logger().Warn("raster pipeline reload failed, keeping previous",
				"path", entry.desc.VertexPath, "error", err)
			entry.stale = false
			return entry.pipeline, nil
		}
		return nil, err
	}

	if entry.pipeline != nil {
		entry.pipeline.destroy(c.device)
	}
	entry.pipeline = pipeline
	entry.err = nil
	entry.stale = false
	atomic.AddUint64(&c.misses, 1)
	return pipeline, nil
}

// PrepareFrame compiles every registered pipeline that is missing or
// stale. Call it once per frame before graph execution so passes never
// hit a compile inside command recording. Compile failures of pipelines
// that have a previous good version are logged and survived; failures
// with no fallback are returned.
func (c *Cache) PrepareFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, entry := range c.computes {
		if entry.pipeline != nil && !entry.stale {
			continue
		}
		if _, err := c.resolveComputeLocked(entry); err != nil {
			errs = append(errs, err)
		}
	}
	for _, entry := range c.rasters {
		if entry.pipeline != nil && !entry.stale {
			continue
		}
		if _, err := c.resolveRasterLocked(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate marks every pipeline built from the given shader path stale.
// The next PrepareFrame (or Get) recompiles them from fresh sources.
func (c *Cache) Invalidate(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, entry := range c.computes {
		if entry.desc.Path == path {
			entry.stale = true
			entry.err = nil
			n++
		}
	}
	for _, entry := range c.rasters {
		if entry.desc.VertexPath == path || entry.desc.FragmentPath == path {
			entry.stale = true
			entry.err = nil
			n++
		}
	}
	if n > 0 {
		fglog.Logger().Info("pipelines invalidated", "path", path, "count", n)
	}
	return n
}

// Stats returns cache hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// Len returns the number of registered pipelines.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.computes) + len(c.rasters)
}

// DestroyAll destroys every compiled pipeline. Registrations survive, so
// a later PrepareFrame rebuilds the set.
func (c *Cache) DestroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.computes {
		if entry.pipeline != nil {
			entry.pipeline.destroy(c.device)
			entry.pipeline = nil
		}
	}
	for _, entry := range c.rasters {
		if entry.pipeline != nil {
			entry.pipeline.destroy(c.device)
			entry.pipeline = nil
		}
	}
}

// Descriptor hashing, FNV-1a over the identity-bearing fields.

func hashComputeDesc(desc *ComputeDesc) uint64 {
	h := fnv.New64a()
	hashWriteString(h, "compute")
	hashWriteString(h, desc.Path)
	hashWriteString(h, desc.EntryPoint)
	hashOverrides(h, desc.Overrides)
	return h.Sum64()
}

func hashRasterDesc(desc *RasterDesc) uint64 {
	h := fnv.New64a()
	hashWriteString(h, "raster")
	hashWriteString(h, desc.VertexPath)
	hashWriteString(h, desc.FragmentPath)
	hashWriteUint32(h, uint32(desc.ColorFormat))
	hashWriteUint32(h, uint32(desc.DepthFormat))
	hashWriteBool(h, desc.DepthWriteEnabled)
	hashWriteUint32(h, uint32(desc.DepthCompare))
	hashWriteBool(h, desc.Blend)
	hashWriteUint32(h, uint32(desc.Topology))
	hashWriteUint32(h, uint32(desc.CullMode))
	hashWriteUint32(h, desc.Samples)
	hashWriteUint32(h, uint32(len(desc.VertexBuffers)))
	for i := range desc.VertexBuffers {
		layout := &desc.VertexBuffers[i]
		hashWriteUint64(h, layout.ArrayStride)
		hashWriteUint32(h, uint32(layout.StepMode))
		hashWriteUint32(h, uint32(len(layout.Attributes)))
		for j := range layout.Attributes {
			attr := &layout.Attributes[j]
			hashWriteUint32(h, attr.ShaderLocation)
			hashWriteUint32(h, uint32(attr.Format))
			hashWriteUint64(h, attr.Offset)
		}
	}
	hashOverrides(h, desc.Overrides)
	return h.Sum64()
}

func hashOverrides(h hash.Hash64, overrides SetLayoutOverrides) {
	indices := make([]uint32, 0, len(overrides))
	for idx := range overrides {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	hashWriteUint32(h, uint32(len(indices)))
	for _, idx := range indices {
		hashWriteUint32(h, idx)
	}
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
