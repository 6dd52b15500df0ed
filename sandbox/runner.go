package sandbox

import (
	"context"
)

// RunSpec describes one disposable container run.
type RunSpec struct {
	Image      string
	Cmd        []string
	Binds      []string // host:container volume bindings
	WorkingDir string
	Env        []string // KEY=VALUE pairs
	User       string

	// MemoryBytes is the memory ceiling; zero means unconstrained.
	MemoryBytes int64
	// CPUShares is the relative CPU weight; zero means engine default.
	CPUShares int64
	// NetworkDisabled cuts the container off from any network.
	NetworkDisabled bool
}

// RunResult is the outcome of a completed container run. ExitCode is
// zero on success; stdout and stderr are captured verbatim.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout and stderr concatenated in capture order.
func (r RunResult) Combined() string {
	return r.Stdout + r.Stderr
}

// Runner executes one disposable container per call.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}
