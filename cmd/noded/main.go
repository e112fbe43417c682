package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clustercore/noded/pkg/agent"
	"github.com/clustercore/noded/pkg/config"
	"github.com/clustercore/noded/pkg/introspection"
	"github.com/clustercore/noded/pkg/isolation"
	isolcontainerd "github.com/clustercore/noded/pkg/isolation/containerd"
	isolprocess "github.com/clustercore/noded/pkg/isolation/process"
	"github.com/clustercore/noded/pkg/log"
	"github.com/clustercore/noded/pkg/metrics"
	"github.com/clustercore/noded/pkg/metrics/collector"
	"github.com/clustercore/noded/pkg/process"
	"github.com/clustercore/noded/pkg/reaper"
	"github.com/clustercore/noded/pkg/statuslog"
	"github.com/clustercore/noded/pkg/transport"
	"github.com/clustercore/noded/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "noded",
	Short: "noded - the Node Agent control plane",
	Long: `noded runs one Node Agent: it registers with a master, launches
and isolates per-framework executors, and reliably relays task status
updates, independent of any particular scheduling policy.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"noded version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and serve until interrupted",
	RunE:  runAgent,
}

func init() {
	flags := runCmd.Flags()
	flags.String("master", "", "master PID, id@host:port form (empty runs without a master)")
	flags.String("listen", "", "host:port this agent's transport listens on (empty disables the TCP listener)")
	flags.String("introspect-addr", "127.0.0.1:5051", "address the introspection HTTP surface listens on")
	flags.String("resources", config.DefaultResources, "advertised resources, e.g. cpus:4;mem:8192;disk:20480")
	flags.String("attributes", "", "advertised attributes, e.g. rack:a;zone:us-east")
	flags.String("work_dir", "", "work directory root (default: $HOME/work)")
	flags.String("hadoop_home", "", "HADOOP_HOME exported to executors")
	flags.Bool("switch_user", true, "run executors as the task's requested user")
	flags.String("frameworks_home", "", "base directory resolving relative executor commands")
	flags.String("isolation", "process", "isolation backend: process or containerd")
	flags.String("containerd_socket", "/run/containerd/containerd.sock", "containerd socket path, when isolation=containerd")
	flags.Duration("retry_interval", agent.DefaultRetryInterval, "status update retransmission interval")
	flags.Bool("status_log", false, "persist status updates to a local log and replay it across restarts")
	flags.String("log_level", "info", "log level: debug, info, warn, error")
	flags.Bool("log_json", true, "emit structured JSON logs")
}

func runAgent(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	masterStr, _ := flags.GetString("master")
	listen, _ := flags.GetString("listen")
	introspectAddr, _ := flags.GetString("introspect-addr")
	isolationKind, _ := flags.GetString("isolation")
	containerdSocket, _ := flags.GetString("containerd_socket")
	retryInterval, _ := flags.GetDuration("retry_interval")
	enableStatusLog, _ := flags.GetBool("status_log")
	logLevel, _ := flags.GetString("log_level")
	logJSON, _ := flags.GetBool("log_json")

	conf := config.Default()
	conf.Resources, _ = flags.GetString("resources")
	conf.Attributes, _ = flags.GetString("attributes")
	conf.WorkDir, _ = flags.GetString("work_dir")
	conf.HadoopHome, _ = flags.GetString("hadoop_home")
	conf.SwitchUser, _ = flags.GetBool("switch_user")
	conf.FrameworksHome, _ = flags.GetString("frameworks_home")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("noded")

	slaveInfo, err := conf.SlaveInfo()
	if err != nil {
		return fmt.Errorf("noded: resolve slave info: %w", err)
	}

	registry := process.NewRegistry()
	self := process.PID{ID: "slave(1)"}
	reaperPID := process.PID{ID: "reaper(1)"}

	var xport transport.Transport
	local := transport.NewLocal(registry)
	xport = local
	if listen != "" {
		registerWireTypes()
		tcp := transport.NewTCP(registry)
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("noded: listen on %s: %w", listen, err)
		}
		defer ln.Close()
		go tcp.Serve(ln)
		xport = tcp
	}

	bridge, err := newBridge(isolationKind, containerdSocket, conf)
	if err != nil {
		return err
	}

	// The agent's loop must be constructed (and therefore registered)
	// before the reaper: reaper.New links to self immediately, and
	// Registry.Link delivers a synthetic Exited right away for a PID
	// that isn't registered yet, which would fatally terminate the
	// reaper before it ever served a message.
	ag := agent.New(self, registry, slaveInfo, xport, bridge, reaperPID, agent.Config{
		WorkDirRoot:   conf.WorkDirRoot(),
		RetryInterval: retryInterval,
	}, log.WithComponent("agent"))

	r := reaper.New(registry, reaperPID, self, time.Second)
	go r.Run()

	if err := bridge.Initialize(self, isolation.Config{
		WorkDirRoot:      conf.WorkDirRoot(),
		ContainerdSocket: containerdSocket,
		SwitchUser:       conf.SwitchUser,
		HadoopHome:       conf.HadoopHome,
		FrameworksHome:   conf.FrameworksHome,
	}, slaveInfo); err != nil {
		return fmt.Errorf("noded: initialize isolation bridge: %w", err)
	}

	if enableStatusLog {
		slog, err := statuslog.Open(conf.WorkDirRoot())
		if err != nil {
			return fmt.Errorf("noded: open status log: %w", err)
		}
		defer slog.Close()
		if err := ag.EnableStatusLog(slog); err != nil {
			return fmt.Errorf("noded: replay status log: %w", err)
		}
	}

	metrics.RegisterComponent("transport", true, "")
	metrics.RegisterComponent("isolation", true, "")
	metrics.RegisterComponent("reaper", true, "")

	coll := collector.New(ag)
	coll.Start()
	defer coll.Stop()

	introServer := introspection.New(ag, introspection.BuildInfo{Version: Version, Commit: Commit, Built: BuildTime})
	go func() {
		if err := introServer.ListenAndServe(introspectAddr); err != nil {
			logger.Error().Err(err).Msg("introspection server exited")
		}
	}()

	if masterStr != "" {
		masterPID, err := process.ParsePID(masterStr)
		if err != nil {
			return fmt.Errorf("noded: parse master pid: %w", err)
		}
		detector := &transport.StaticDetector{
			MasterPID:         masterPID,
			NewMasterDetected: func(pid process.PID) process.Message { return types.NewMasterDetected{MasterPID: pid.String()} },
		}
		stop := make(chan struct{})
		defer close(stop)
		go detector.Run(ag.Mailbox(), stop)
	}

	go ag.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal, terminating")
		ag.Terminate()
		select {
		case <-ag.Done():
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("agent did not terminate within the shutdown grace period")
		}
		return nil
	case <-ag.Done():
		if err := ag.Err(); err != nil {
			logger.Error().Err(err).Msg("agent terminated fatally")
			return fmt.Errorf("noded: agent exited: %w", err)
		}
		logger.Info().Msg("agent terminated")
		return nil
	case <-r.Done():
		if err := r.Err(); err != nil {
			logger.Error().Err(err).Msg("reaper terminated fatally")
			ag.Terminate()
			return fmt.Errorf("noded: reaper exited: %w", err)
		}
		return nil
	}
}

func newBridge(kind, containerdSocket string, conf config.Config) (isolation.Bridge, error) {
	switch kind {
	case "containerd":
		b, err := isolcontainerd.New(containerdSocket)
		if err != nil {
			return nil, fmt.Errorf("noded: connect containerd: %w", err)
		}
		return b, nil
	case "process", "":
		return isolprocess.New(), nil
	default:
		return nil, fmt.Errorf("noded: unknown isolation backend %q", kind)
	}
}

// registerWireTypes registers every concrete message type the TCP
// transport may carry, required once per binary by encoding/gob.
func registerWireTypes() {
	transport.Register(types.NewMasterDetected{})
	transport.Register(types.NoMasterDetected{})
	transport.Register(types.RegisterSlave{})
	transport.Register(types.ReregisterSlave{})
	transport.Register(types.RegisterReply{})
	transport.Register(types.ReregisterReply{})
	transport.Register(types.Ping{})
	transport.Register(types.Pong{})
	transport.Register(types.RunTask{})
	transport.Register(types.KillTask{})
	transport.Register(types.KillFramework{})
	transport.Register(types.RegisterExecutor{})
	transport.Register(types.ExecutorArgs{})
	transport.Register(types.SchedulerMessage{})
	transport.Register(types.ExecutorMessage{})
	transport.Register(types.UpdateFramework{})
	transport.Register(types.ExecutorStatusUpdate{})
	transport.Register(types.StatusUpdateMessage{})
	transport.Register(types.StatusUpdateAck{})
	transport.Register(types.KillExecutor{})
	transport.Register(types.ExitedExecutor{})
}
