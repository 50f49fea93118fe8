package pipeline

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/shader"
)

// ComputeDesc describes a compute pipeline to register.
type ComputeDesc struct {
	// Path is the shader path resolved by the cache's loader.
	Path string

	// EntryPoint overrides the loader's entry point when set.
	EntryPoint string

	// Label is an optional debug name. Defaults to Path.
	Label string

	// Overrides substitutes shared bind group layouts per group index.
	Overrides SetLayoutOverrides
}

func (d *ComputeDesc) label() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Path
}

// ComputePipeline is a compiled compute pipeline with its layout chain and
// the reflected bind groups it consumes.
type ComputePipeline struct {
	// Raw is the HAL pipeline object.
	Raw hal.ComputePipeline

	// Layout is the pipeline layout covering GroupLayouts.
	Layout hal.PipelineLayout

	// GroupLayouts are the bind group layouts indexed by group.
	GroupLayouts []hal.BindGroupLayout

	// Groups is the reflected bind group table, used when materializing
	// bind groups to skip resources the shader does not consume.
	Groups []shader.BindGroup

	// SourceHash identifies the shader text the pipeline was built from.
	SourceHash uint64

	groupOwned []bool
	module     hal.ShaderModule
	label      string
}

// Label returns the pipeline's debug name.
func (p *ComputePipeline) Label() string { return p.label }

// Group returns the reflected bind group at the given index, or nil when
// the shader does not use that group.
func (p *ComputePipeline) Group(index uint32) *shader.BindGroup {
	for i := range p.Groups {
		if p.Groups[i].Group == index {
			return &p.Groups[i]
		}
	}
	return nil
}

// destroy releases the pipeline's device objects. Overridden group layouts
// stay with their owner.
func (p *ComputePipeline) destroy(device hal.Device) {
	if p.Raw != nil {
		device.DestroyComputePipeline(p.Raw)
		p.Raw = nil
	}
	if p.Layout != nil {
		device.DestroyPipelineLayout(p.Layout)
		p.Layout = nil
	}
	for i, l := range p.GroupLayouts {
		if p.groupOwned[i] && l != nil {
			device.DestroyBindGroupLayout(l)
		}
	}
	p.GroupLayouts = nil
	if p.module != nil {
		device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

func createCompute(device hal.Device, loader shader.Loader, desc *ComputeDesc) (*ComputePipeline, error) {
	src, err := loader.Load(desc.Path, shader.StageCompute)
	if err != nil {
		return nil, &ShaderCompileError{Path: desc.Path, Stage: shader.StageCompute, Err: err}
	}

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.label(),
		Source: hal.ShaderSource{SPIRV: src.SPIRV},
	})
	if err != nil {
		return nil, &ShaderCompileError{Path: desc.Path, Stage: shader.StageCompute, Err: err}
	}

	layouts, owned, err := buildGroupLayouts(device, desc.Path, src.Groups, computeVisibility, desc.Overrides)
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, err
	}

	destroyLayouts := func() {
		for i, l := range layouts {
			if owned[i] && l != nil {
				device.DestroyBindGroupLayout(l)
			}
		}
		device.DestroyShaderModule(module)
	}

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.label(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		destroyLayouts()
		return nil, fmt.Errorf("pipeline: create layout for %q: %w", desc.Path, err)
	}

	entry := desc.EntryPoint
	if entry == "" {
		entry = src.EntryPoint
	}

	raw, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.label(),
		Layout: pipeLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(pipeLayout)
		destroyLayouts()
		return nil, fmt.Errorf("pipeline: create compute pipeline %q: %w", desc.Path, err)
	}

	return &ComputePipeline{
		Raw:          raw,
		Layout:       pipeLayout,
		GroupLayouts: layouts,
		Groups:       src.Groups,
		SourceHash:   src.Hash,
		groupOwned:   owned,
		module:       module,
		label:        desc.label(),
	}, nil
}
