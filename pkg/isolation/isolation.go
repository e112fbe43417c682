// Package isolation defines the Isolation Module contract the agent
// calls synchronously and in-process, and ships two concrete
// backends: a plain os/exec process backend and a containerd-backed
// sandbox backend.
package isolation

import (
	"context"

	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// Config is the subset of agent configuration the bridge needs to
// launch executors: the work-directory root and anything a backend
// requires to reach its sandboxing runtime (e.g. a containerd socket).
type Config struct {
	WorkDirRoot      string
	ContainerdSocket string
	SwitchUser       bool
	HadoopHome       string
	FrameworksHome   string
}

// Bridge is the synchronous interface the agent's control plane calls
// from its own loop — never from a separate goroutine — to launch,
// resize, and kill executor sandboxes. Implementations are not
// required to be reentrant.
type Bridge interface {
	// Initialize is called once, before any LaunchExecutor call, with
	// the agent's own PID (for executors that need to address it) and
	// its local SlaveInfo.
	Initialize(self process.PID, conf Config, local types.SlaveInfo) error

	// LaunchExecutor starts the executor process for the given
	// framework/executor pair under workDir. A returned pid of 0
	// means "launched, but do not reap it via the default child-process
	// reaper" — the backend owns its own lifecycle tracking instead.
	LaunchExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, workDir string) (pid int, err error)

	// ResourcesChanged notifies the backend of an executor's new
	// accumulated resource total, so it can adjust sandbox limits.
	ResourcesChanged(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, newTotal types.Resources) error

	// KillExecutor tears down an executor's sandbox.
	KillExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo) error
}
