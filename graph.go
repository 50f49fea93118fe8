package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/resource"
)

// imageNode is one virtual image of the graph. Either desc describes a
// transient image the compiler acquires from the pool, or imported
// points at an externally owned image.
type imageNode struct {
	name         string
	desc         resource.ImageDesc
	imported     *resource.Image
	importAccess barrier.AccessType
	version      uint32

	exported     bool
	exportAccess barrier.AccessType
}

// bufferNode is the buffer counterpart of imageNode.
type bufferNode struct {
	name         string
	desc         resource.BufferDesc
	imported     *resource.Buffer
	importAccess barrier.AccessType
	version      uint32
}

// imageAccess records one declared pass access on an image version.
type imageAccess struct {
	id      uint32
	version uint32
	access  barrier.AccessType
}

type bufferAccess struct {
	id      uint32
	version uint32
	access  barrier.AccessType
}

// passNode is one declared pass: its resource accesses, the pipeline it
// runs, and the record callback.
type passNode struct {
	name string

	images  []imageAccess
	buffers []bufferAccess

	compute computeRef
	raster  rasterRef
	render  func(*PassContext) error
}

// Graph collects pass and resource declarations for one frame. It is
// not safe for concurrent use; build it from a single goroutine, then
// hand it to Compile. The zero value is not usable, call New.
type Graph struct {
	images   []*imageNode // index = id-1
	buffers  []*bufferNode
	passes   []*passNode
	consumed bool
	err      error
}

// New creates an empty frame graph.
func New() *Graph {
	return &Graph{}
}

// setErr records the first declaration error. Later declarations still
// run so the caller sees one coherent error from Compile, but only the
// first is kept.
func (g *Graph) setErr(err error) {
	if g.err == nil {
		g.err = err
	}
}

// CreateImage declares a transient image. Its physical texture is
// acquired from the pool at compile time, sized by desc, with the usage
// flags implied by the accesses passes declare on it.
func (g *Graph) CreateImage(name string, desc resource.ImageDesc) (ImageHandle, error) {
	if g.consumed {
		return ImageHandle{}, ErrGraphConsumed
	}
	if err := desc.Validate(); err != nil {
		err = fmt.Errorf("framegraph: create image %q: %w", name, err)
		g.setErr(err)
		return ImageHandle{}, err
	}
	g.images = append(g.images, &imageNode{name: name, desc: desc})
	return ImageHandle{id: uint32(len(g.images)), version: 0}, nil
}

// CreateBuffer declares a transient buffer, pooled like CreateImage.
func (g *Graph) CreateBuffer(name string, desc resource.BufferDesc) (BufferHandle, error) {
	if g.consumed {
		return BufferHandle{}, ErrGraphConsumed
	}
	if err := desc.Validate(); err != nil {
		err = fmt.Errorf("framegraph: create buffer %q: %w", name, err)
		g.setErr(err)
		return BufferHandle{}, err
	}
	g.buffers = append(g.buffers, &bufferNode{name: name, desc: desc})
	return BufferHandle{id: uint32(len(g.buffers)), version: 0}, nil
}

// ImportImage brings an externally owned image into the graph. access
// is the state the image is in when the frame starts; the executor
// seeds its tracker with it so the first use gets a correct barrier.
// The graph never destroys or pools imported resources.
func (g *Graph) ImportImage(name string, img *resource.Image, access barrier.AccessType) (ImageHandle, error) {
	if g.consumed {
		return ImageHandle{}, ErrGraphConsumed
	}
	if img == nil {
		err := fmt.Errorf("framegraph: import image %q: nil image", name)
		g.setErr(err)
		return ImageHandle{}, err
	}
	g.images = append(g.images, &imageNode{name: name, desc: img.Desc(), imported: img, importAccess: access})
	return ImageHandle{id: uint32(len(g.images)), version: 0}, nil
}

// ImportBuffer brings an externally owned buffer into the graph.
func (g *Graph) ImportBuffer(name string, buf *resource.Buffer, access barrier.AccessType) (BufferHandle, error) {
	if g.consumed {
		return BufferHandle{}, ErrGraphConsumed
	}
	if buf == nil {
		err := fmt.Errorf("framegraph: import buffer %q: nil buffer", name)
		g.setErr(err)
		return BufferHandle{}, err
	}
	g.buffers = append(g.buffers, &bufferNode{name: name, desc: buf.Desc(), imported: buf, importAccess: access})
	return BufferHandle{id: uint32(len(g.buffers)), version: 0}, nil
}

// AddPass declares a pass. The build callback runs immediately and
// records the pass's resource accesses and pipeline on the builder.
// Declaration errors (stale handle versions, reads with write access)
// surface here and again from Compile.
func (g *Graph) AddPass(name string, build func(*PassBuilder)) error {
	if g.consumed {
		return ErrGraphConsumed
	}
	pass := &passNode{name: name}
	b := &PassBuilder{graph: g, pass: pass}
	build(b)
	if b.err != nil {
		err := &PassError{Pass: name, Err: b.err}
		g.setErr(err)
		return err
	}
	if pass.render == nil {
		err := &PassError{Pass: name, Err: fmt.Errorf("no render callback")}
		g.setErr(err)
		return err
	}
	g.passes = append(g.passes, pass)
	return nil
}

// ExportImage keeps an image alive past execution instead of recycling
// it with the frame. access is the state the executor leaves the image
// in, so the caller can hand it straight to a sampler or a present
// blit. The handle must be the latest version of the image.
func (g *Graph) ExportImage(h ImageHandle, access barrier.AccessType) (ExportedImage, error) {
	if g.consumed {
		return ExportedImage{}, ErrGraphConsumed
	}
	node, err := g.imageAt(h)
	if err != nil {
		g.setErr(err)
		return ExportedImage{}, err
	}
	if h.version != node.version {
		err := fmt.Errorf("framegraph: export of stale handle %v (current v%d): %w", h, node.version, ErrInvalidHandle)
		g.setErr(err)
		return ExportedImage{}, err
	}
	node.exported = true
	node.exportAccess = access
	return ExportedImage{id: h.id}, nil
}

func (g *Graph) imageAt(h ImageHandle) (*imageNode, error) {
	if !h.Valid() || int(h.id) > len(g.images) {
		return nil, fmt.Errorf("framegraph: unknown image handle %v: %w", h, ErrInvalidHandle)
	}
	return g.images[h.id-1], nil
}

func (g *Graph) bufferAt(h BufferHandle) (*bufferNode, error) {
	if !h.Valid() || int(h.id) > len(g.buffers) {
		return nil, fmt.Errorf("framegraph: unknown buffer handle %v: %w", h, ErrInvalidHandle)
	}
	return g.buffers[h.id-1], nil
}
