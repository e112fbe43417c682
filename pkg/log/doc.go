/*
Package log provides structured logging for the agent using zerolog.

A single global Logger is initialized once via Init with a level and
an output format, then handed out to the rest of the module as
component-scoped child loggers.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	agentLog := log.WithComponent("agent")
	log.WithSlaveID(agentLog, "s1").Info().Msg("registered with master")

	log.WithFrameworkID(agentLog, string(fw.ID)).Warn().Msg("executor registered twice")
*/
package log
