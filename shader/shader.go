// Package shader loads WGSL shader sources, compiles them to SPIR-V, and
// carries the reflected binding metadata that pipeline construction needs.
//
// Reflection is declared alongside the source rather than parsed out of
// the bytecode. A loader pairs each shader path with its bind group table;
// pipeline caches consume the pair and never touch the source text again.
package shader

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// Stage identifies a shader stage.
type Stage uint8

const (
	StageCompute Stage = iota
	StageVertex
	StageFragment
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// DefaultEntryPoint returns the conventional entry point name for a stage.
func (s Stage) DefaultEntryPoint() string {
	switch s {
	case StageCompute:
		return "cs_main"
	case StageVertex:
		return "vs_main"
	case StageFragment:
		return "fs_main"
	default:
		return "main"
	}
}

// BindingKind classifies a shader resource binding.
type BindingKind uint8

const (
	BindingUniformBuffer BindingKind = iota
	BindingStorageBuffer
	BindingReadOnlyStorageBuffer
	BindingSampledImage
	BindingStorageImage
	BindingSampler
)

// String returns the binding kind name.
func (k BindingKind) String() string {
	switch k {
	case BindingUniformBuffer:
		return "uniform-buffer"
	case BindingStorageBuffer:
		return "storage-buffer"
	case BindingReadOnlyStorageBuffer:
		return "readonly-storage-buffer"
	case BindingSampledImage:
		return "sampled-image"
	case BindingStorageImage:
		return "storage-image"
	case BindingSampler:
		return "sampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", uint8(k))
	}
}

// Binding is one reflected resource binding within a bind group.
type Binding struct {
	// Binding is the binding index within the group.
	Binding uint32

	// Kind classifies the resource.
	Kind BindingKind

	// Format is the storage texel format, set for storage image bindings.
	Format gputypes.TextureFormat

	// MinSize is the minimum binding size in bytes for buffer bindings,
	// zero when unconstrained.
	MinSize uint64
}

// BindGroup is the reflected layout of one bind group.
type BindGroup struct {
	// Group is the bind group index.
	Group uint32

	// Bindings lists the group's resource bindings in binding order.
	Bindings []Binding
}

// Source is a compiled shader with its reflected interface.
type Source struct {
	// SPIRV is the compiled bytecode as little-endian words.
	SPIRV []uint32

	// EntryPoint is the entry function name.
	EntryPoint string

	// Stage is the shader stage the source was compiled for.
	Stage Stage

	// Groups is the reflected bind group table, sorted by group index.
	Groups []BindGroup

	// Hash identifies the source text, used for pipeline cache keys.
	Hash uint64
}

// Group returns the reflected bind group with the given index, or nil.
func (s *Source) Group(index uint32) *BindGroup {
	for i := range s.Groups {
		if s.Groups[i].Group == index {
			return &s.Groups[i]
		}
	}
	return nil
}

// MaxGroup returns the highest bind group index used, or -1 when the
// shader binds nothing.
func (s *Source) MaxGroup() int {
	max := -1
	for i := range s.Groups {
		if int(s.Groups[i].Group) > max {
			max = int(s.Groups[i].Group)
		}
	}
	return max
}

// CompileWGSL compiles WGSL source text to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("shader: compile failed: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
