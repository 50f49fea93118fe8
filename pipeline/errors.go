package pipeline

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph/shader"
)

// Pipeline cache errors.
var (
	// ErrNilDevice is returned when creating a cache without a device.
	ErrNilDevice = errors.New("pipeline: HAL device is nil")

	// ErrNilLoader is returned when creating a cache without a shader loader.
	ErrNilLoader = errors.New("pipeline: shader loader is nil")

	// ErrInvalidHandle is returned when a handle does not refer to a
	// registered pipeline.
	ErrInvalidHandle = errors.New("pipeline: invalid pipeline handle")
)

// ShaderCompileError reports a shader that failed to load or compile.
type ShaderCompileError struct {
	Path  string
	Stage shader.Stage
	Err   error
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("pipeline: compile %s shader %q: %v", e.Stage, e.Path, e.Err)
}

func (e *ShaderCompileError) Unwrap() error { return e.Err }

// ReflectionMismatchError reports reflection metadata that cannot be
// turned into a bind group layout.
type ReflectionMismatchError struct {
	Path    string
	Group   uint32
	Binding uint32
	Reason  string
}

func (e *ReflectionMismatchError) Error() string {
	return fmt.Sprintf("pipeline: shader %q group %d binding %d: %s",
		e.Path, e.Group, e.Binding, e.Reason)
}
