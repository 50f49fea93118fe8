package dynconst

import (
	"golang.org/x/image/math/f32"
)

// FrameConstants is the per-frame uniform block shared by every pass.
// Field order and padding match the WGSL declaration; the struct must
// stay fixed-size for encoding/binary.
type FrameConstants struct {
	// ViewProj is the combined view-projection matrix, column major.
	ViewProj f32.Mat4

	// MousePos is the pointer position in pixels (xy) and button state (zw).
	MousePos f32.Vec4

	// FrameIndex is the running frame counter.
	FrameIndex uint32

	// DeltaSeconds is the previous frame's duration.
	DeltaSeconds float32

	Pad [2]uint32
}

// IdentityViewProj returns an identity view-projection matrix.
func IdentityViewProj() f32.Mat4 {
	return f32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
