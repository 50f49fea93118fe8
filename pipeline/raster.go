package pipeline

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/shader"
)

// RasterDesc describes a render pipeline to register.
type RasterDesc struct {
	// VertexPath and FragmentPath are shader paths resolved by the
	// cache's loader.
	VertexPath   string
	FragmentPath string

	// Label is an optional debug name. Defaults to VertexPath.
	Label string

	// ColorFormat is the color attachment format.
	ColorFormat gputypes.TextureFormat

	// DepthFormat is the depth attachment format, Undefined for none.
	DepthFormat gputypes.TextureFormat

	// DepthWriteEnabled enables depth writes when a depth format is set.
	DepthWriteEnabled bool

	// DepthCompare is the depth test, defaults to Always.
	DepthCompare gputypes.CompareFunction

	// Blend enables premultiplied alpha blending on the color target.
	Blend bool

	// Topology defaults to a triangle list.
	Topology gputypes.PrimitiveTopology

	// CullMode defaults to no culling.
	CullMode gputypes.CullMode

	// Samples is the MSAA sample count, defaults to 1.
	Samples uint32

	// VertexBuffers describes the vertex fetch layout.
	VertexBuffers []gputypes.VertexBufferLayout

	// Overrides substitutes shared bind group layouts per group index.
	Overrides SetLayoutOverrides
}

func (d *RasterDesc) label() string {
	if d.Label != "" {
		return d.Label
	}
	return d.VertexPath
}

// RasterPipeline is a compiled render pipeline with its layout chain and
// the merged reflected bind groups of both stages.
type RasterPipeline struct {
	// Raw is the HAL pipeline object.
	Raw hal.RenderPipeline

	// Layout is the pipeline layout covering GroupLayouts.
	Layout hal.PipelineLayout

	// GroupLayouts are the bind group layouts indexed by group.
	GroupLayouts []hal.BindGroupLayout

	// Groups is the union of the vertex and fragment reflection tables.
	Groups []shader.BindGroup

	groupOwned []bool
	vertMod    hal.ShaderModule
	fragMod    hal.ShaderModule
	label      string
}

// Label returns the pipeline's debug name.
func (p *RasterPipeline) Label() string { return p.label }

// Group returns the reflected bind group at the given index, or nil when
// neither stage uses that group.
func (p *RasterPipeline) Group(index uint32) *shader.BindGroup {
	for i := range p.Groups {
		if p.Groups[i].Group == index {
			return &p.Groups[i]
		}
	}
	return nil
}

func (p *RasterPipeline) destroy(device hal.Device) {
	if p.Raw != nil {
		device.DestroyRenderPipeline(p.Raw)
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
	if p.vertMod != nil {
		device.DestroyShaderModule(p.vertMod)
		p.vertMod = nil
	}
	if p.fragMod != nil {
		device.DestroyShaderModule(p.fragMod)
		p.fragMod = nil
	}
}

// mergeGroups unions the reflection tables of two stages. A binding seen in
// both stages must agree on its kind.
func mergeGroups(vertPath string, vert, frag []shader.BindGroup) ([]shader.BindGroup, error) {
	merged := make(map[uint32]map[uint32]shader.Binding)
	order := []uint32{}

	add := func(groups []shader.BindGroup) error {
		for _, g := range groups {
			bindings, ok := merged[g.Group]
			if !ok {
				bindings = make(map[uint32]shader.Binding)
				merged[g.Group] = bindings
				order = append(order, g.Group)
			}
			for _, b := range g.Bindings {
				if prev, dup := bindings[b.Binding]; dup {
					if prev.Kind != b.Kind {
						return &ReflectionMismatchError{
							Path: vertPath, Group: g.Group, Binding: b.Binding,
							Reason: fmt.Sprintf("binding kind differs between stages (%v vs %v)", prev.Kind, b.Kind),
						}
					}
					continue
				}
				bindings[b.Binding] = b
			}
		}
		return nil
	}

	if err := add(vert); err != nil {
		return nil, err
	}
	if err := add(frag); err != nil {
		return nil, err
	}

	out := make([]shader.BindGroup, 0, len(order))
	for _, group := range order {
		g := shader.BindGroup{Group: group}
		for _, b := range merged[group] {
			g.Bindings = append(g.Bindings, b)
		}
		// Deterministic binding order within the group.
		for i := 0; i < len(g.Bindings); i++ {
			for j := i + 1; j < len(g.Bindings); j++ {
				if g.Bindings[j].Binding < g.Bindings[i].Binding {
					g.Bindings[i], g.Bindings[j] = g.Bindings[j], g.Bindings[i]
				}
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func createRaster(device hal.Device, loader shader.Loader, desc *RasterDesc) (*RasterPipeline, error) {
	vertSrc, err := loader.Load(desc.VertexPath, shader.StageVertex)
	if err != nil {
		return nil, &ShaderCompileError{Path: desc.VertexPath, Stage: shader.StageVertex, Err: err}
	}
	fragSrc, err := loader.Load(desc.FragmentPath, shader.StageFragment)
	if err != nil {
		return nil, &ShaderCompileError{Path: desc.FragmentPath, Stage: shader.StageFragment, Err: err}
	}

	groups, err := mergeGroups(desc.VertexPath, vertSrc.Groups, fragSrc.Groups)
	if err != nil {
		return nil, err
	}

	vertMod, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.VertexPath,
		Source: hal.ShaderSource{SPIRV: vertSrc.SPIRV},
	})
	if err != nil {
		return nil, &ShaderCompileError{Path: desc.VertexPath, Stage: shader.StageVertex, Err: err}
	}
	fragMod, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.FragmentPath,
		Source: hal.ShaderSource{SPIRV: fragSrc.SPIRV},
	})
	if err != nil {
		device.DestroyShaderModule(vertMod)
		return nil, &ShaderCompileError{Path: desc.FragmentPath, Stage: shader.StageFragment, Err: err}
	}

	layouts, owned, err := buildGroupLayouts(device, desc.VertexPath, groups, rasterVisibility, desc.Overrides)
	if err != nil {
		device.DestroyShaderModule(vertMod)
		device.DestroyShaderModule(fragMod)
		return nil, err
	}

	destroyAll := func() {
		for i, l := range layouts {
			if owned[i] && l != nil {
				device.DestroyBindGroupLayout(l)
			}
		}
		device.DestroyShaderModule(vertMod)
		device.DestroyShaderModule(fragMod)
	}

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.label(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("pipeline: create layout for %q: %w", desc.VertexPath, err)
	}

	topology := desc.Topology
	if topology == 0 {
		topology = gputypes.PrimitiveTopologyTriangleList
	}
	samples := desc.Samples
	if samples == 0 {
		samples = 1
	}
	depthCompare := desc.DepthCompare
	if depthCompare == 0 {
		depthCompare = gputypes.CompareFunctionAlways
	}

	target := gputypes.ColorTargetState{
		Format:    desc.ColorFormat,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	if desc.Blend {
		premulBlend := gputypes.BlendStatePremultiplied()
		target.Blend = &premulBlend
	}

	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.label(),
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     vertMod,
			EntryPoint: vertSrc.EntryPoint,
			Buffers:    desc.VertexBuffers,
		},
		Fragment: &hal.FragmentState{
			Module:     fragMod,
			EntryPoint: fragSrc.EntryPoint,
			Targets:    []gputypes.ColorTargetState{target},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: topology,
			CullMode: desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{
			Count: samples,
			Mask:  0xFFFFFFFF,
		},
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		halDesc.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.DepthWriteEnabled,
			DepthCompare:      depthCompare,
			StencilFront: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilBack: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilReadMask:  0xFF,
			StencilWriteMask: 0xFF,
		}
	}

	raw, err := device.CreateRenderPipeline(halDesc)
	if err != nil {
		device.DestroyPipelineLayout(pipeLayout)
		destroyAll()
		return nil, fmt.Errorf("pipeline: create render pipeline %q: %w", desc.label(), err)
	}

	return &RasterPipeline{
		Raw:          raw,
		Layout:       pipeLayout,
		GroupLayouts: layouts,
		Groups:       groups,
		groupOwned:   owned,
		vertMod:      vertMod,
		fragMod:      fragMod,
		label:        desc.label(),
	}, nil
}
