package framegraph

import "fmt"

// ImageHandle names one version of a virtual image in a Graph. The
// zero value is invalid. Each write to the image produces a handle
// with the next version, so a handle pins the exact point in the frame
// at which the contents it refers to exist.
type ImageHandle struct {
	id      uint32
	version uint32
}

// Valid reports whether the handle was produced by a Graph.
func (h ImageHandle) Valid() bool { return h.id != 0 }

func (h ImageHandle) String() string {
	return fmt.Sprintf("image#%d.v%d", h.id, h.version)
}

// BufferHandle names one version of a virtual buffer in a Graph. The
// zero value is invalid.
type BufferHandle struct {
	id      uint32
	version uint32
}

// Valid reports whether the handle was produced by a Graph.
func (h BufferHandle) Valid() bool { return h.id != 0 }

func (h BufferHandle) String() string {
	return fmt.Sprintf("buffer#%d.v%d", h.id, h.version)
}

// ExportedImage is a token for an image the graph keeps alive past
// execution. Redeem it against the RetiredGraph to obtain the physical
// image and the access state it was left in.
type ExportedImage struct {
	id uint32
}

// Valid reports whether the token was produced by ExportImage.
func (e ExportedImage) Valid() bool { return e.id != 0 }
