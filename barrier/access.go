// Package barrier tracks per-resource GPU access states and derives the
// minimal usage transitions between them.
//
// Access states are pass-level: a resource is in exactly one access state
// for the duration of a pass, and the tracker emits a transition only when
// consecutive passes disagree on that state (or when both accesses write,
// which needs a hazard barrier even without a layout change).
package barrier

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// AccessType names how a pass touches a resource.
type AccessType uint8

const (
	// AccessNone marks a resource with no prior GPU access (freshly
	// allocated or never observed).
	AccessNone AccessType = iota

	// AccessComputeRead is a read through a storage binding in a compute
	// shader.
	AccessComputeRead

	// AccessComputeWrite is a write through a storage binding in a compute
	// shader.
	AccessComputeWrite

	// AccessShaderRead is a sampled or uniform read in any shader stage.
	AccessShaderRead

	// AccessTransferRead is a copy source access.
	AccessTransferRead

	// AccessTransferWrite is a copy destination access.
	AccessTransferWrite

	// AccessColorAttachment is a render pass color attachment write.
	AccessColorAttachment

	// AccessDepthAttachment is a render pass depth/stencil attachment write.
	AccessDepthAttachment
)

// String returns the access type name.
func (a AccessType) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessComputeRead:
		return "compute-read"
	case AccessComputeWrite:
		return "compute-write"
	case AccessShaderRead:
		return "shader-read"
	case AccessTransferRead:
		return "transfer-read"
	case AccessTransferWrite:
		return "transfer-write"
	case AccessColorAttachment:
		return "color-attachment"
	case AccessDepthAttachment:
		return "depth-attachment"
	default:
		return fmt.Sprintf("AccessType(%d)", uint8(a))
	}
}

// IsWrite reports whether the access modifies the resource.
func (a AccessType) IsWrite() bool {
	switch a {
	case AccessComputeWrite, AccessTransferWrite, AccessColorAttachment, AccessDepthAttachment:
		return true
	default:
		return false
	}
}

// TextureUsage maps the access state to the HAL usage that stands in for
// the corresponding image layout. Storage accesses map to StorageBinding
// regardless of direction since the layout is GENERAL either way.
func (a AccessType) TextureUsage() gputypes.TextureUsage {
	switch a {
	case AccessComputeRead, AccessComputeWrite:
		return gputypes.TextureUsageStorageBinding
	case AccessShaderRead:
		return gputypes.TextureUsageTextureBinding
	case AccessTransferRead:
		return gputypes.TextureUsageCopySrc
	case AccessTransferWrite:
		return gputypes.TextureUsageCopyDst
	case AccessColorAttachment, AccessDepthAttachment:
		return gputypes.TextureUsageRenderAttachment
	default:
		return gputypes.TextureUsage(0)
	}
}
