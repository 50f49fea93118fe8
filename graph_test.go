package framegraph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph/barrier"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/transient"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func storageDesc(size uint32) resource.ImageDesc {
	return resource.NewImageDesc2D(gputypes.TextureFormatRGBA8Unorm, size, size).
		WithUsage(gputypes.TextureUsageStorageBinding)
}

func noopRender(b *PassBuilder) {
	b.Render(func(*PassContext) error { return nil })
}

func TestCreateImageValidatesDesc(t *testing.T) {
	g := New()
	_, err := g.CreateImage("bad", resource.ImageDesc{})
	if err == nil {
		t.Fatal("expected error for zero desc")
	}
}

func TestHandleVersioning(t *testing.T) {
	g := New()
	h, err := g.CreateImage("img", storageDesc(64))
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	if !h.Valid() || h.version != 0 {
		t.Fatalf("fresh handle = %v, want valid v0", h)
	}

	var h2 ImageHandle
	err = g.AddPass("write", func(b *PassBuilder) {
		h2 = b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	})
	if err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if h2.version != 1 || h2.id != h.id {
		t.Errorf("written handle = %v, want same id v1", h2)
	}
}

func TestWriteStaleHandleRejected(t *testing.T) {
	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))

	if err := g.AddPass("first", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	}); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// h is now one version behind; writing through it must fail.
	err := g.AddPass("second", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	})
	if !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("stale write error = %v, want ErrInvalidHandle", err)
	}
	var pe *PassError
	if !errors.As(err, &pe) || pe.Pass != "second" {
		t.Errorf("error = %v, want PassError for pass %q", err, "second")
	}
}

func TestReadWithWriteAccessRejected(t *testing.T) {
	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))
	err := g.AddPass("p", func(b *PassBuilder) {
		b.ReadImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	})
	if err == nil {
		t.Fatal("expected error for read with write access")
	}
}

func TestWriteWithReadAccessRejected(t *testing.T) {
	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))
	err := g.AddPass("p", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeRead)
		noopRender(b)
	})
	if err == nil {
		t.Fatal("expected error for write with read access")
	}
}

func TestPassWithoutRenderRejected(t *testing.T) {
	g := New()
	err := g.AddPass("empty", func(*PassBuilder) {})
	if err == nil {
		t.Fatal("expected error for pass without render callback")
	}
}

func TestForeignHandleRejected(t *testing.T) {
	other := New()
	h, _ := other.CreateImage("img", storageDesc(64))

	g := New()
	err := g.AddPass("p", func(b *PassBuilder) {
		b.ReadImage(h, barrier.AccessShaderRead)
		noopRender(b)
	})
	if !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("foreign handle error = %v, want ErrInvalidHandle", err)
	}
}

func TestExportStaleHandleRejected(t *testing.T) {
	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))
	if err := g.AddPass("w", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}
	if _, err := g.ExportImage(h, barrier.AccessShaderRead); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("stale export error = %v, want ErrInvalidHandle", err)
	}
}

func TestCompileConsumesGraph(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	g := New()
	if _, err := g.Compile(CompileParams{Device: device}); err != nil {
		t.Fatalf("first Compile failed: %v", err)
	}
	if _, err := g.Compile(CompileParams{Device: device}); !errors.Is(err, ErrGraphConsumed) {
		t.Errorf("second Compile = %v, want ErrGraphConsumed", err)
	}
}

func TestCompileSurfacesBuilderError(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))
	_ = g.AddPass("bad", func(b *PassBuilder) {
		b.ReadImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	})

	if _, err := g.Compile(CompileParams{Device: device}); err == nil {
		t.Fatal("Compile should surface the builder error")
	}
}

func TestCompileColorAttachmentOnDepthFormat(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	depth := resource.NewImageDesc2D(gputypes.TextureFormatDepth24PlusStencil8, 64, 64)
	h, err := g.CreateImage("depth", depth)
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if err := g.AddPass("p", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessColorAttachment)
		noopRender(b)
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}

	_, err = g.Compile(CompileParams{Device: device, Pool: pool})
	var dce *DescriptorConflictError
	if !errors.As(err, &dce) {
		t.Fatalf("Compile error = %v, want DescriptorConflictError", err)
	}
}

func TestCompileDepthAttachmentFormats(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	// Every depth texel format must be usable as a depth attachment,
	// not just the packed depth+stencil one.
	depthFormats := []gputypes.TextureFormat{
		gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8,
	}
	for _, format := range depthFormats {
		pool := transient.NewPool(device)

		g := New()
		h, err := g.CreateImage("depth", resource.NewImageDesc2D(format, 64, 64))
		if err != nil {
			t.Fatalf("CreateImage(%v): %v", format, err)
		}
		if err := g.AddPass("depth_prepass", func(b *PassBuilder) {
			b.WriteImage(h, barrier.AccessDepthAttachment)
			noopRender(b)
		}); err != nil {
			t.Fatalf("AddPass(%v): %v", format, err)
		}
		cg, err := g.Compile(CompileParams{Device: device, Pool: pool})
		if err != nil {
			t.Errorf("Compile with %v depth attachment: %v", format, err)
		} else {
			cg.destroyTransients()
		}
		pool.Destroy()
	}
}

func TestCompileDepthAttachmentOnColorFormat(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	h, err := g.CreateImage("target", resource.NewImageDesc2D(gputypes.TextureFormatRGBA8Unorm, 64, 64))
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if err := g.AddPass("p", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessDepthAttachment)
		noopRender(b)
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}

	_, err = g.Compile(CompileParams{Device: device, Pool: pool})
	var dce *DescriptorConflictError
	if !errors.As(err, &dce) {
		t.Fatalf("Compile error = %v, want DescriptorConflictError", err)
	}
}

func TestCompileImportUsageSubset(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	// Imported image supports only sampling, but the graph wants to
	// storage-write it.
	img, err := resource.NewImage(device, "ext", resource.NewImageDesc2D(
		gputypes.TextureFormatRGBA8Unorm, 64, 64).
		WithUsage(gputypes.TextureUsageTextureBinding))
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	defer img.Destroy()

	g := New()
	h, err := g.ImportImage("ext", img, barrier.AccessShaderRead)
	if err != nil {
		t.Fatalf("ImportImage: %v", err)
	}
	if err := g.AddPass("p", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}

	_, err = g.Compile(CompileParams{Device: device})
	var dce *DescriptorConflictError
	if !errors.As(err, &dce) {
		t.Fatalf("Compile error = %v, want DescriptorConflictError", err)
	}
	if dce.Resource != "ext" {
		t.Errorf("conflict resource = %q, want %q", dce.Resource, "ext")
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	a, err := g.CreateImage("a", storageDesc(128))
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	buf, err := g.CreateBuffer("params", resource.NewBufferDesc(256, 0))
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	var produced, consumed bool
	if err := g.AddPass("produce", func(b *PassBuilder) {
		a = b.WriteImage(a, barrier.AccessComputeWrite)
		buf = b.WriteBuffer(buf, barrier.AccessComputeWrite)
		b.Render(func(pc *PassContext) error {
			produced = true
			if _, err := pc.Image(a); err != nil {
				return err
			}
			if _, err := pc.Buffer(buf); err != nil {
				return err
			}
			return nil
		})
	}); err != nil {
		t.Fatalf("produce pass: %v", err)
	}
	if err := g.AddPass("consume", func(b *PassBuilder) {
		b.ReadImage(a, barrier.AccessComputeRead)
		b.ReadBuffer(buf, barrier.AccessComputeRead)
		b.Render(func(pc *PassContext) error {
			consumed = true
			return nil
		})
	}); err != nil {
		t.Fatalf("consume pass: %v", err)
	}

	compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	retired, err := compiled.Execute(ExecParams{Queue: queue, Generation: 0})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !produced || !consumed {
		t.Error("pass callbacks did not run in order")
	}

	if err := retired.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	retired.ReleaseResources(pool)

	s := pool.Stats()
	if s.ImagesCreated != 1 {
		t.Errorf("images created = %d, want 1", s.ImagesCreated)
	}
	if s.PendingImages != 1 || s.PendingBuffers != 1 {
		t.Errorf("pending after release = %d images %d buffers, want 1/1", s.PendingImages, s.PendingBuffers)
	}

	pool.ReleaseAll(retired.Generation())
	s = pool.Stats()
	if s.FreeImages != 1 || s.FreeBuffers != 1 {
		t.Errorf("free after drain = %d images %d buffers, want 1/1", s.FreeImages, s.FreeBuffers)
	}
}

func TestExecutePoolReuseAcrossFrames(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	frame := func(gen uint64) {
		t.Helper()
		g := New()
		h, err := g.CreateImage("scratch", storageDesc(64))
		if err != nil {
			t.Fatalf("CreateImage: %v", err)
		}
		if err := g.AddPass("p", func(b *PassBuilder) {
			b.WriteImage(h, barrier.AccessComputeWrite)
			noopRender(b)
		}); err != nil {
			t.Fatalf("AddPass: %v", err)
		}
		compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		retired, err := compiled.Execute(ExecParams{Queue: queue, Generation: gen})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if err := retired.Wait(5 * time.Second); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		retired.ReleaseResources(pool)
		pool.ReleaseAll(gen)
	}

	for gen := uint64(0); gen < 4; gen++ {
		frame(gen)
	}

	s := pool.Stats()
	if s.ImagesCreated != 1 {
		t.Errorf("images created = %d, want 1 (reuse across frames)", s.ImagesCreated)
	}
	if s.ImagesReused != 3 {
		t.Errorf("images reused = %d, want 3", s.ImagesReused)
	}
}

func TestExecuteExport(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	h, _ := g.CreateImage("out", storageDesc(64))
	if err := g.AddPass("p", func(b *PassBuilder) {
		h = b.WriteImage(h, barrier.AccessComputeWrite)
		noopRender(b)
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}
	tok, err := g.ExportImage(h, barrier.AccessShaderRead)
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}

	compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	retired, err := compiled.Execute(ExecParams{Queue: queue})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := retired.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	img, access, ok := retired.Image(tok)
	if !ok || img == nil {
		t.Fatal("export token did not resolve")
	}
	if access != barrier.AccessShaderRead {
		t.Errorf("export access = %v, want AccessShaderRead", access)
	}

	retired.ReleaseResources(pool)
	if s := pool.Stats(); s.FreeImages != 0 {
		t.Errorf("exported image was recycled, free = %d", s.FreeImages)
	}

	// The export outlives the frame; the caller owns it now.
	img.Destroy()
}

func TestExecutePassErrorAborts(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	h, _ := g.CreateImage("img", storageDesc(64))
	bang := fmt.Errorf("bang")
	if err := g.AddPass("boom", func(b *PassBuilder) {
		b.WriteImage(h, barrier.AccessComputeWrite)
		b.Render(func(*PassContext) error { return bang })
	}); err != nil {
		t.Fatalf("AddPass: %v", err)
	}

	compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, err = compiled.Execute(ExecParams{Queue: queue})
	if !errors.Is(err, bang) {
		t.Fatalf("Execute error = %v, want wrapped pass error", err)
	}
	var pe *PassError
	if !errors.As(err, &pe) || pe.Pass != "boom" {
		t.Errorf("error = %v, want PassError for %q", err, "boom")
	}
}

func TestPassContextUndeclaredHandle(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	g := New()
	declared, _ := g.CreateImage("declared", storageDesc(64))
	hidden, _ := g.CreateImage("hidden", storageDesc(64))

	var inner error
	if err := g.AddPass("a", func(b *PassBuilder) {
		b.WriteImage(hidden, barrier.AccessComputeWrite)
		noopRender(b)
	}); err != nil {
		t.Fatalf("pass a: %v", err)
	}
	if err := g.AddPass("b", func(b *PassBuilder) {
		b.WriteImage(declared, barrier.AccessComputeWrite)
		b.Render(func(pc *PassContext) error {
			_, inner = pc.Image(hidden)
			return nil
		})
	}); err != nil {
		t.Fatalf("pass b: %v", err)
	}

	compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	retired, err := compiled.Execute(ExecParams{Queue: queue})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer retired.ReleaseResources(pool)

	if !errors.Is(inner, ErrInvalidHandle) {
		t.Errorf("undeclared access = %v, want ErrInvalidHandle", inner)
	}
}

func TestVolumeRasterBlurSteadyState(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	pool := transient.NewPool(device)
	defer pool.Destroy()

	frame := func(gen uint64) {
		t.Helper()
		g := New()

		volume, err := g.CreateImage("volume", resource.NewImageDesc3D(
			gputypes.TextureFormatRGBA8Unorm, 256, 256, 256))
		if err != nil {
			t.Fatalf("volume: %v", err)
		}
		target, err := g.CreateImage("target", resource.NewImageDesc2D(
			gputypes.TextureFormatRGBA8Unorm, 256, 256))
		if err != nil {
			t.Fatalf("target: %v", err)
		}
		blurred, err := g.CreateImage("blurred", storageDesc(256))
		if err != nil {
			t.Fatalf("blurred: %v", err)
		}

		if err := g.AddPass("simulate", func(b *PassBuilder) {
			volume = b.WriteImage(volume, barrier.AccessComputeWrite)
			noopRender(b)
		}); err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if err := g.AddPass("raster", func(b *PassBuilder) {
			b.ReadImage(volume, barrier.AccessShaderRead)
			target = b.WriteImage(target, barrier.AccessColorAttachment)
			b.Render(func(pc *PassContext) error {
				att, err := pc.ColorAttachment(target, gputypes.LoadOpClear, gputypes.Color{A: 1})
				if err != nil {
					return err
				}
				rp := pc.Encoder().BeginRenderPass(&hal.RenderPassDescriptor{
					Label:            "raster",
					ColorAttachments: []hal.RenderPassColorAttachment{att},
				})
				rp.End()
				return nil
			})
		}); err != nil {
			t.Fatalf("raster: %v", err)
		}
		if err := g.AddPass("blur", func(b *PassBuilder) {
			b.ReadImage(target, barrier.AccessShaderRead)
			blurred = b.WriteImage(blurred, barrier.AccessComputeWrite)
			noopRender(b)
		}); err != nil {
			t.Fatalf("blur: %v", err)
		}
		tok, err := g.ExportImage(blurred, barrier.AccessShaderRead)
		if err != nil {
			t.Fatalf("export: %v", err)
		}

		compiled, err := g.Compile(CompileParams{Device: device, Pool: pool})
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		retired, err := compiled.Execute(ExecParams{Queue: queue, Generation: gen})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if err := retired.Wait(5 * time.Second); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if img, _, ok := retired.Image(tok); ok {
			// Done with the export; hand it back for the next frame.
			pool.RetireImage(gen, img)
		}
		retired.ReleaseResources(pool)
		pool.ReleaseAll(gen)
	}

	frame(0)
	after := pool.Stats()

	frame(1)
	s := pool.Stats()
	if s.ImagesCreated != after.ImagesCreated {
		t.Errorf("pool grew after steady state: created %d then %d",
			after.ImagesCreated, s.ImagesCreated)
	}
	if s.ImagesReused != after.ImagesReused+3 {
		t.Errorf("second frame reuse = %d, want %d", s.ImagesReused, after.ImagesReused+3)
	}
}

func TestExecuteConsumed(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	g := New()
	compiled, err := g.Compile(CompileParams{Device: device})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	retired, err := compiled.Execute(ExecParams{Queue: queue})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer retired.ReleaseResources(nil)

	if _, err := compiled.Execute(ExecParams{Queue: queue}); !errors.Is(err, ErrGraphConsumed) {
		t.Errorf("second Execute = %v, want ErrGraphConsumed", err)
	}
}
