package framegraph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle is returned when a handle does not name a
	// resource of this graph, or names a stale version of one.
	ErrInvalidHandle = errors.New("framegraph: invalid handle")

	// ErrGraphConsumed is returned when a Graph is compiled twice or a
	// CompiledGraph is executed twice.
	ErrGraphConsumed = errors.New("framegraph: graph already consumed")

	// ErrNilDevice is returned when Compile or Execute is given a nil
	// HAL device.
	ErrNilDevice = errors.New("framegraph: nil device")

	// ErrNoPipeline is returned when a pass callback asks for a
	// pipeline the pass never declared.
	ErrNoPipeline = errors.New("framegraph: pass declared no pipeline")
)

// DescriptorConflictError reports a resource whose declared accesses
// cannot be satisfied by a single physical resource, for example a
// color attachment write on a depth format, or an imported resource
// whose HAL usage does not cover an access the graph declares.
type DescriptorConflictError struct {
	Resource string
	Reason   string
}

func (e *DescriptorConflictError) Error() string {
	return fmt.Sprintf("framegraph: resource %q: %s", e.Resource, e.Reason)
}

// PassError wraps an error raised while declaring, compiling, or
// recording a single pass.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("framegraph: pass %q: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }
