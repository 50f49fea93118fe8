// Command fgdemo runs a small frame graph on the noop backend: a
// compute pass fills an image, a second pass blurs it into another
// image, and the result is exported. It prints pool and barrier
// statistics so the transient reuse across frames is visible.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/dynconst"
	"github.com/gogpu/framegraph/pipeline"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
	"github.com/gogpu/framegraph/transient"
)

const fillWGSL = `
@group(0) @binding(0) var dst: texture_storage_2d<rgba8unorm, write>;

@compute @workgroup_size(8, 8)
fn cs_main(@builtin(global_invocation_id) id: vec3<u32>) {
	let uv = vec2<f32>(id.xy) / 512.0;
	textureStore(dst, vec2<i32>(id.xy), vec4<f32>(uv, 0.5, 1.0));
}
`

const blurWGSL = `
@group(0) @binding(0) var src: texture_2d<f32>;
@group(0) @binding(1) var dst: texture_storage_2d<rgba8unorm, write>;

@compute @workgroup_size(8, 8)
fn cs_main(@builtin(global_invocation_id) id: vec3<u32>) {
	var sum = vec4<f32>(0.0);
	for (var dy = -1; dy <= 1; dy = dy + 1) {
		for (var dx = -1; dx <= 1; dx = dx + 1) {
			sum = sum + textureLoad(src, vec2<i32>(id.xy) + vec2<i32>(dx, dy), 0);
		}
	}
	textureStore(dst, vec2<i32>(id.xy), sum / 9.0);
}
`

func main() {
	var (
		size    = flag.Uint("size", 512, "image size in pixels")
		frames  = flag.Int("frames", 3, "number of frames to run")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		log.Fatalf("create instance: %v", err)
	}
	defer instance.Destroy()

	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		log.Fatalf("open adapter: %v", err)
	}
	device, queue := openDev.Device, openDev.Queue
	defer device.Destroy()

	loader := shader.NewStaticLoader()
	loader.Register("fill.wgsl", fillWGSL, []shader.BindGroup{
		{Group: 0, Bindings: []shader.Binding{
			{Binding: 0, Kind: shader.BindingStorageImage, Format: gputypes.TextureFormatRGBA8Unorm},
		}},
	})
	loader.Register("blur.wgsl", blurWGSL, []shader.BindGroup{
		{Group: 0, Bindings: []shader.Binding{
			{Binding: 0, Kind: shader.BindingSampledImage},
			{Binding: 1, Kind: shader.BindingStorageImage, Format: gputypes.TextureFormatRGBA8Unorm},
		}},
	})

	cache, err := pipeline.NewCache(device, loader)
	if err != nil {
		log.Fatalf("pipeline cache: %v", err)
	}
	defer cache.DestroyAll()

	fill := cache.RegisterCompute(&pipeline.ComputeDesc{Path: "fill.wgsl"})
	blur := cache.RegisterCompute(&pipeline.ComputeDesc{Path: "blur.wgsl"})
	if err := cache.PrepareFrame(); err != nil {
		log.Fatalf("compile pipelines: %v", err)
	}

	pool := transient.NewPool(device)
	defer pool.Destroy()

	constants, err := dynconst.NewAllocator(device, 0)
	if err != nil {
		log.Fatalf("constants: %v", err)
	}
	defer constants.Destroy()

	dim := uint32(*size)
	groups := (dim + 7) / 8

	for frame := 0; frame < *frames; frame++ {
		constants.AdvanceFrame()
		if _, err := constants.Push(dynconst.FrameConstants{
			ViewProj:   dynconst.IdentityViewProj(),
			FrameIndex: uint32(frame),
		}); err != nil {
			log.Fatalf("frame %d: push constants: %v", frame, err)
		}

		g := framegraph.New()

		raw, err := g.CreateImage("raw", resource.NewImageDesc2D(
			gputypes.TextureFormatRGBA8Unorm, dim, dim))
		if err != nil {
			log.Fatalf("frame %d: %v", frame, err)
		}
		blurred, err := g.CreateImage("blurred", resource.NewImageDesc2D(
			gputypes.TextureFormatRGBA8Unorm, dim, dim))
		if err != nil {
			log.Fatalf("frame %d: %v", frame, err)
		}

		if err := g.AddPass("fill", func(b *framegraph.PassBuilder) {
			raw = b.WriteImage(raw, barrier.AccessComputeWrite)
			b.Compute(fill)
			b.Render(func(pc *framegraph.PassContext) error {
				return pc.Dispatch(groups, groups, 1, framegraph.StorageImage(raw))
			})
		}); err != nil {
			log.Fatalf("frame %d: fill pass: %v", frame, err)
		}

		if err := g.AddPass("blur", func(b *framegraph.PassBuilder) {
			b.ReadImage(raw, barrier.AccessShaderRead)
			blurred = b.WriteImage(blurred, barrier.AccessComputeWrite)
			b.Compute(blur)
			b.Render(func(pc *framegraph.PassContext) error {
				return pc.Dispatch(groups, groups, 1,
					framegraph.SampledImage(raw),
					framegraph.StorageImage(blurred))
			})
		}); err != nil {
			log.Fatalf("frame %d: blur pass: %v", frame, err)
		}

		out, err := g.ExportImage(blurred, barrier.AccessShaderRead)
		if err != nil {
			log.Fatalf("frame %d: export: %v", frame, err)
		}

		compiled, err := g.Compile(framegraph.CompileParams{
			Device:    device,
			Pipelines: cache,
			Pool:      pool,
		})
		if err != nil {
			log.Fatalf("frame %d: compile: %v", frame, err)
		}

		retired, err := compiled.Execute(framegraph.ExecParams{
			Queue:      queue,
			Constants:  constants,
			Generation: uint64(frame),
		})
		if err != nil {
			log.Fatalf("frame %d: execute: %v", frame, err)
		}

		if err := retired.Wait(5 * time.Second); err != nil {
			log.Fatalf("frame %d: wait: %v", frame, err)
		}

		if img, access, ok := retired.Image(out); ok {
			log.Printf("frame %d: exported %q (%s) left in %v", frame, img.Label(), img.Desc(), access)
			// Caller owns exports; hand it straight back for reuse.
			pool.RetireImage(uint64(frame), img)
		}
		retired.ReleaseResources(pool)
		// The fence wait above proves the generation is done, so it
		// is safe to drain right away.
		pool.ReleaseAll(uint64(frame))
	}

	s := pool.Stats()
	hits, misses := cache.Stats()
	log.Printf("pool: images created=%d reused=%d, buffers created=%d reused=%d",
		s.ImagesCreated, s.ImagesReused, s.BuffersCreated, s.BuffersReused)
	log.Printf("pipelines: %d cached, %d hits, %d misses", cache.Len(), hits, misses)
}
