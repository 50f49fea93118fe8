// Package framegraph builds and executes per-frame render graphs on a
// HAL device.
//
// # Overview
//
// A Graph is rebuilt every frame. Passes declare which images and
// buffers they read and write through versioned handles; a write
// produces a new handle version, so the dependency order between passes
// is explicit in the declarations themselves. Compile resolves the
// declarations into physical resources (transient ones come from a
// transient.Pool) and pipelines, and Execute records the passes into
// a command encoder, inserting texture barriers where the tracked
// access pattern requires them.
//
// # Quick Start
//
//	g := framegraph.New()
//	img, _ := g.CreateImage("hdr", desc)
//	g.AddPass("sky", func(b *framegraph.PassBuilder) {
//		img = b.WriteImage(img, barrier.AccessComputeWrite)
//		b.Compute(skyPipeline)
//		b.Render(func(pc *framegraph.PassContext) error {
//			return pc.Dispatch(w/8, h/8, 1, framegraph.StorageImage(img))
//		})
//	})
//	out, _ := g.ExportImage(img, barrier.AccessShaderRead)
//	compiled, _ := g.Compile(compileParams)
//	retired, _ := compiled.Execute(execParams)
//	// after the frame's fence signals:
//	retired.ReleaseResources(pool)
//
// # Lifecycle
//
// Graphs are single use. Compile consumes the Graph and Execute
// consumes the CompiledGraph; reusing either returns
// [ErrGraphConsumed]. The RetiredGraph returned by Execute owns the
// transient resources and bind groups of the frame until
// ReleaseResources hands them back to the pool.
//
// # Architecture
//
// The library is organized into:
//   - Public API: Graph, PassBuilder, PassContext, RetiredGraph
//   - resource: HAL image and buffer wrappers with cached views
//   - barrier: access types and the per-frame state tracker
//   - transient: pooled reuse of frame-lifetime images and buffers
//   - pipeline: compiled pipeline cache with hot reload
//   - shader: WGSL loading, naga compilation, binding reflection
//   - dynconst: double-buffered per-frame constant allocator
package framegraph

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
