// Package containerd implements an Isolation Module backend that
// launches each executor inside its own containerd sandbox rather than
// as a bare child process. cmd/noded selects it with
// --isolation=containerd.
package containerd

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	ctrd "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/clustercore/noded/pkg/isolation"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/types"
)

// Namespace is the containerd namespace every executor sandbox is
// created in.
const Namespace = "noded"

type executorKey struct {
	frameworkID types.FrameworkID
	executorID  types.ExecutorID
}

type sandbox struct {
	container ctrd.Container
	task      ctrd.Task
}

// Backend drives executor sandboxes through a containerd client. Like
// the process backend, it is called only from the agent's own loop.
type Backend struct {
	client *ctrd.Client
	self   process.PID
	conf   isolation.Config

	mu       sync.Mutex
	sandboxes map[executorKey]*sandbox
}

// New dials the containerd socket at socketPath. An empty socketPath
// uses containerd's own default.
func New(socketPath string) (*Backend, error) {
	client, err := ctrd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("isolation/containerd: connect: %w", err)
	}
	return &Backend{client: client, sandboxes: make(map[executorKey]*sandbox)}, nil
}

func (b *Backend) Initialize(self process.PID, conf isolation.Config, local types.SlaveInfo) error {
	b.self = self
	b.conf = conf
	return nil
}

func (b *Backend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// LaunchExecutor pulls executorInfo.Command as an image reference,
// creates a container from it, and starts its task. The executor's
// entrypoint is expected to read MESOS_SLAVE_PID etc. from its
// environment, same as the process backend.
func (b *Backend) LaunchExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, workDir string) (int, error) {
	cctx := b.ctx(ctx)

	image, err := b.client.Pull(cctx, executorInfo.Command, ctrd.WithPullUnpack)
	if err != nil {
		return 0, fmt.Errorf("isolation/containerd: pull %s: %w", executorInfo.Command, err)
	}

	id := fmt.Sprintf("%s-%s", frameworkID, executorInfo.ExecutorID)
	env := []string{
		"MESOS_SLAVE_PID=" + b.self.String(),
		"MESOS_FRAMEWORK_ID=" + string(frameworkID),
		"MESOS_EXECUTOR_ID=" + string(executorInfo.ExecutorID),
		"MESOS_DIRECTORY=" + workDir,
	}
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithProcessArgs(append([]string{executorInfo.Command}, executorInfo.Args...)...),
		oci.WithMounts([]specs.Mount{{
			Source:      workDir,
			Destination: "/mnt/mesos/sandbox",
			Type:        "bind",
			Options:     []string{"rbind"},
		}}),
	}

	container, err := b.client.NewContainer(cctx, id,
		ctrd.WithImage(image),
		ctrd.WithNewSnapshot(id+"-snapshot", image),
		ctrd.WithNewSpec(opts...),
	)
	if err != nil {
		return 0, fmt.Errorf("isolation/containerd: create container %s: %w", id, err)
	}

	task, err := container.NewTask(cctx, cio.NullIO)
	if err != nil {
		return 0, fmt.Errorf("isolation/containerd: create task %s: %w", id, err)
	}
	if err := task.Start(cctx); err != nil {
		return 0, fmt.Errorf("isolation/containerd: start task %s: %w", id, err)
	}

	key := executorKey{frameworkID, executorInfo.ExecutorID}
	b.mu.Lock()
	b.sandboxes[key] = &sandbox{container: container, task: task}
	b.mu.Unlock()

	// pid == 0: the reaper does not track containerd sandboxes.
	// KillExecutor tears the sandbox down; nothing in this backend
	// reports the container's own exit back to the agent.
	return 0, nil
}

// ResourcesChanged is not implemented: resizing a running OCI spec's
// resource limits requires a task.Update call this backend does not
// yet make.
func (b *Backend) ResourcesChanged(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo, newTotal types.Resources) error {
	return nil
}

func (b *Backend) KillExecutor(ctx context.Context, frameworkID types.FrameworkID, frameworkInfo types.FrameworkInfo, executorInfo types.ExecutorInfo) error {
	key := executorKey{frameworkID, executorInfo.ExecutorID}
	b.mu.Lock()
	sb, ok := b.sandboxes[key]
	delete(b.sandboxes, key)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	cctx := b.ctx(ctx)
	stopCtx, cancel := context.WithTimeout(cctx, 10*time.Second)
	defer cancel()

	if err := sb.task.Kill(stopCtx, syscall.SIGTERM); err == nil {
		statusC, err := sb.task.Wait(stopCtx)
		if err == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				sb.task.Kill(cctx, syscall.SIGKILL)
			}
		}
	}
	sb.task.Delete(cctx)
	return sb.container.Delete(cctx, ctrd.WithSnapshotCleanup)
}

// Close releases the containerd client connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

var _ isolation.Bridge = (*Backend)(nil)
