package pipeline

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/shader"
)

const (
	computeVisibility = gputypes.ShaderStageCompute
	rasterVisibility  = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
)

// SetLayoutOverrides substitutes externally owned bind group layouts for
// specific group indices. The canonical use is the shared frame constants
// group: every pipeline binds it at the same index, so its layout must be
// one object created once, not derived per shader.
type SetLayoutOverrides map[uint32]hal.BindGroupLayout

// FrameConstantsLayout creates the bind group layout used for per-frame
// constants: a single uniform buffer visible to every stage.
func FrameConstantsLayout(device hal.Device) (hal.BindGroupLayout, error) {
	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "frame_constants_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create frame constants layout: %w", err)
	}
	return layout, nil
}

// layoutEntry converts one reflected binding into a HAL layout entry.
func layoutEntry(path string, group uint32, b shader.Binding, visibility gputypes.ShaderStage) (gputypes.BindGroupLayoutEntry, error) {
	entry := gputypes.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: visibility,
	}

	switch b.Kind {
	case shader.BindingUniformBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: b.MinSize,
		}
	case shader.BindingStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeStorage,
			MinBindingSize: b.MinSize,
		}
	case shader.BindingReadOnlyStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeReadOnlyStorage,
			MinBindingSize: b.MinSize,
		}
	case shader.BindingSampledImage:
		entry.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case shader.BindingStorageImage:
		if b.Format == gputypes.TextureFormatUndefined {
			return entry, &ReflectionMismatchError{
				Path: path, Group: group, Binding: b.Binding,
				Reason: "storage image binding without a texel format",
			}
		}
		entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        b.Format,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case shader.BindingSampler:
		entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	default:
		return entry, &ReflectionMismatchError{
			Path: path, Group: group, Binding: b.Binding,
			Reason: fmt.Sprintf("unknown binding kind %v", b.Kind),
		}
	}
	return entry, nil
}

// buildGroupLayouts creates one bind group layout per reflected group,
// substituting overrides where given. The returned owned slice marks
// layouts the caller must destroy (overridden layouts stay with their
// owner). Gaps in the group numbering produce empty layouts so pipeline
// layout indices line up with shader group indices.
func buildGroupLayouts(
	device hal.Device,
	path string,
	groups []shader.BindGroup,
	visibility gputypes.ShaderStage,
	overrides SetLayoutOverrides,
) (layouts []hal.BindGroupLayout, owned []bool, err error) {
	maxGroup := -1
	byIndex := make(map[uint32]*shader.BindGroup, len(groups))
	for i := range groups {
		g := &groups[i]
		if prev, dup := byIndex[g.Group]; dup && prev != g {
			return nil, nil, &ReflectionMismatchError{
				Path: path, Group: g.Group,
				Reason: "duplicate bind group index in reflection",
			}
		}
		byIndex[g.Group] = g
		if int(g.Group) > maxGroup {
			maxGroup = int(g.Group)
		}
	}
	for idx := range overrides {
		if int(idx) > maxGroup {
			maxGroup = int(idx)
		}
	}

	destroyOwned := func() {
		for i, l := range layouts {
			if owned[i] && l != nil {
				device.DestroyBindGroupLayout(l)
			}
		}
	}

	for idx := 0; idx <= maxGroup; idx++ {
		if override, ok := overrides[uint32(idx)]; ok {
			layouts = append(layouts, override)
			owned = append(owned, false)
			continue
		}

		var entries []gputypes.BindGroupLayoutEntry
		if g, ok := byIndex[uint32(idx)]; ok {
			seen := make(map[uint32]bool, len(g.Bindings))
			for _, b := range g.Bindings {
				if seen[b.Binding] {
					destroyOwned()
					return nil, nil, &ReflectionMismatchError{
						Path: path, Group: g.Group, Binding: b.Binding,
						Reason: "duplicate binding index in reflection",
					}
				}
				seen[b.Binding] = true

				entry, entryErr := layoutEntry(path, g.Group, b, visibility)
				if entryErr != nil {
					destroyOwned()
					return nil, nil, entryErr
				}
				entries = append(entries, entry)
			}
		}

		layout, createErr := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", path, idx),
			Entries: entries,
		})
		if createErr != nil {
			destroyOwned()
			return nil, nil, fmt.Errorf("pipeline: create bind group layout for %q group %d: %w", path, idx, createErr)
		}
		layouts = append(layouts, layout)
		owned = append(owned, true)
	}
	return layouts, owned, nil
}
