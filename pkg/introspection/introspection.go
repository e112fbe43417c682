// Package introspection serves the agent's read-only HTTP surface:
// info.json, frameworks.json, tasks.json, stats.json, vars, plus
// /health, /ready, /live and /metrics for operators and monitoring
// systems.
package introspection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clustercore/noded/pkg/agent"
	"github.com/clustercore/noded/pkg/metrics"
)

// BuildInfo carries version metadata stamped at build time (normally
// set via -ldflags) and echoed back verbatim in info.json.
type BuildInfo struct {
	Version string
	Commit  string
	Built   string
}

// Server is the introspection HTTP surface over a running Agent.
type Server struct {
	agent *agent.Agent
	build BuildInfo
	mux   *http.ServeMux
}

// New wires every introspection endpoint onto a fresh ServeMux.
func New(ag *agent.Agent, build BuildInfo) *Server {
	mux := http.NewServeMux()
	s := &Server{agent: ag, build: build, mux: mux}

	mux.HandleFunc("/info.json", s.infoHandler)
	mux.HandleFunc("/frameworks.json", s.frameworksHandler)
	mux.HandleFunc("/tasks.json", s.tasksHandler)
	mux.HandleFunc("/stats.json", s.statsHandler)
	mux.HandleFunc("/vars", s.varsHandler)

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the assembled http.Handler for embedding elsewhere.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the introspection server on addr, blocking
// until it exits.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type infoResponse struct {
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	Built          string    `json:"built"`
	SlaveID        string    `json:"slave_id"`
	Hostname       string    `json:"hostname"`
	PublicHostname string    `json:"public_hostname"`
	StartTime      time.Time `json:"start_time"`
	Uptime         string    `json:"uptime"`
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	store := s.agent.Snapshot()
	writeJSON(w, infoResponse{
		Version:        s.build.Version,
		Commit:         s.build.Commit,
		Built:          s.build.Built,
		SlaveID:        string(store.SlaveID),
		Hostname:       store.Info.Hostname,
		PublicHostname: store.Info.PublicHostname,
		StartTime:      store.StartTime,
		Uptime:         time.Since(store.StartTime).String(),
	})
}

type frameworkView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	User      string   `json:"user"`
	Executors []string `json:"executors"`
}

func (s *Server) frameworksHandler(w http.ResponseWriter, r *http.Request) {
	store := s.agent.Snapshot()
	out := make([]frameworkView, 0, len(store.Frameworks))
	for _, fw := range store.Frameworks {
		executors := make([]string, 0, len(fw.Executors))
		for id := range fw.Executors {
			executors = append(executors, string(id))
		}
		out = append(out, frameworkView{
			ID:        string(fw.ID),
			Name:      fw.Info.Name,
			User:      fw.Info.User,
			Executors: executors,
		})
	}
	writeJSON(w, out)
}

type taskView struct {
	FrameworkID string `json:"framework_id"`
	ExecutorID  string `json:"executor_id"`
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	State       string `json:"state"`
}

func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	store := s.agent.Snapshot()
	var out []taskView
	for _, fw := range store.Frameworks {
		for _, ex := range fw.Executors {
			for taskID, desc := range ex.QueuedTasks {
				out = append(out, taskView{
					FrameworkID: string(fw.ID),
					ExecutorID:  string(ex.ID),
					TaskID:      string(taskID),
					Name:        desc.Name,
					State:       "QUEUED",
				})
			}
			for taskID, task := range ex.LaunchedTasks {
				out = append(out, taskView{
					FrameworkID: string(fw.ID),
					ExecutorID:  string(ex.ID),
					TaskID:      string(taskID),
					Name:        task.Name,
					State:       string(task.State),
				})
			}
		}
	}
	writeJSON(w, out)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.agent.Snapshot().Stats)
}

func (s *Server) varsHandler(w http.ResponseWriter, r *http.Request) {
	store := s.agent.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "slave_id %s\n", store.SlaveID)
	fmt.Fprintf(w, "uptime %s\n", time.Since(store.StartTime))
	fmt.Fprintf(w, "frameworks %d\n", len(store.Frameworks))
	fmt.Fprintf(w, "valid_status_updates %d\n", store.Stats.ValidStatusUpdates)
	fmt.Fprintf(w, "invalid_status_updates %d\n", store.Stats.InvalidStatusUpdates)
	fmt.Fprintf(w, "valid_framework_messages %d\n", store.Stats.ValidFrameworkMessages)
	fmt.Fprintf(w, "invalid_framework_messages %d\n", store.Stats.InvalidFrameworkMessages)
	fmt.Fprintf(w, "tasks_starting %d\n", store.Stats.TasksStarting)
	fmt.Fprintf(w, "tasks_running %d\n", store.Stats.TasksRunning)
	fmt.Fprintf(w, "tasks_finished %d\n", store.Stats.TasksFinished)
	fmt.Fprintf(w, "tasks_failed %d\n", store.Stats.TasksFailed)
	fmt.Fprintf(w, "tasks_killed %d\n", store.Stats.TasksKilled)
	fmt.Fprintf(w, "tasks_lost %d\n", store.Stats.TasksLost)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
