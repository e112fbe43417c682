// Package process implements the default Isolation Module backend: it
// forks each executor as a plain child process via os/exec, with no
// sandboxing beyond what the operating system gives any child. This is
// the backend cmd/noded uses for --isolation=process, the default.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/clustercore/noded/pkg/isolation"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

type executorKey struct {
	frameworkID types.FrameworkID
	executorID  types.ExecutorID
}

// Backend launches executors as direct child processes of the agent.
// It is not reentrant — the agent's control-plane loop is its only
// caller, and only ever from one goroutine at a time.
type Backend struct {
	self       process.PID
	conf       isolation.Config
	local      types.SlaveInfo

	mu    sync.Mutex
	procs map[executorKey]*exec.Cmd
}

// New creates an unstarted Backend.
func New() *Backend {
	return &Backend{procs: make(map[executorKey]*exec.Cmd)}
}

func (b *Backend) Initialize(self process.PID, conf isolation.Config, local types.SlaveInfo) error {
	b.self = self
	b.conf = conf
	b.local = local
	return nil
}

// LaunchExecutor starts executorInfo.Command under workDir with an
// environment carrying enough of the agent's address for the executor
// to register back (MESOS_SLAVE_PID) and identify itself
// (MESOS_FRAMEWORK_ID, MESOS_EXECUTOR_ID).
func (b *Backend) LaunchExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, workDir string) (int, error) {
	if executorInfo.Command == "" {
		return 0, fmt.Errorf("isolation/process: empty executor command for %s/%s", frameworkID, executorInfo.ExecutorID)
	}

	command := executorInfo.Command
	if b.conf.FrameworksHome != "" && !filepath.IsAbs(command) {
		command = filepath.Join(b.conf.FrameworksHome, command)
	}

	cmd := exec.CommandContext(ctx, command, executorInfo.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"MESOS_SLAVE_PID="+b.self.String(),
		"MESOS_FRAMEWORK_ID="+string(frameworkID),
		"MESOS_EXECUTOR_ID="+string(executorInfo.ExecutorID),
		"MESOS_DIRECTORY="+workDir,
	)
	if b.conf.HadoopHome != "" {
		cmd.Env = append(cmd.Env, "HADOOP_HOME="+b.conf.HadoopHome)
	}
	cmd.Stdout, cmd.Stderr = executorLogFiles(workDir)

	if b.conf.SwitchUser && frameworkInfo.User != "" {
		cred, err := credentialFor(frameworkInfo.User)
		if err != nil {
			return 0, fmt.Errorf("isolation/process: switch_user %s: %w", frameworkInfo.User, err)
		}
		if cmd.SysProcAttr == nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{}
		}
		cmd.SysProcAttr.Credential = cred
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("isolation/process: start: %w", err)
	}

	key := executorKey{frameworkID, executorInfo.ExecutorID}
	b.mu.Lock()
	b.procs[key] = cmd
	b.mu.Unlock()

	return cmd.Process.Pid, nil
}

// ResourcesChanged is a no-op for the plain process backend: it has no
// cgroup or namespace to resize.
func (b *Backend) ResourcesChanged(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, newTotal types.Resources) error {
	return nil
}

func (b *Backend) KillExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo) error {
	key := executorKey{frameworkID, executorInfo.ExecutorID}
	b.mu.Lock()
	cmd, ok := b.procs[key]
	delete(b.procs, key)
	b.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGKILL)
}

func executorLogFiles(workDir string) (stdout, stderr *os.File) {
	out, err := os.OpenFile(workDir+"/stdout", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		out = os.Stdout
	}
	errf, err := os.OpenFile(workDir+"/stderr", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		errf = os.Stderr
	}
	return out, errf
}

func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, err
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

var _ isolation.Bridge = (*Backend)(nil)
