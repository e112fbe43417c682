// Package config loads the agent's configuration: the resource and
// attribute vectors advertised to the master, work directory policy,
// and the executor environment knobs, each recognized as a CLI flag
// bound in cmd/noded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/clustercore/noded/pkg/types"
)

// DefaultResources is the configuration default when "resources" is
// unset.
const DefaultResources = "cpus:1;mem:1024"

// Config is every recognized configuration key.
type Config struct {
	Resources      string
	Attributes     string
	WorkDir        string
	HadoopHome     string
	SwitchUser     bool
	FrameworksHome string
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		Resources:  DefaultResources,
		SwitchUser: true,
	}
}

// WorkDirRoot resolves the work directory root: the configured
// work_dir, else $HOME, else ".", suffixed with "/work".
func (c Config) WorkDirRoot() string {
	root := c.WorkDir
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			root = home
		} else {
			root = "."
		}
	}
	return strings.TrimSuffix(root, "/") + "/work"
}

// SlaveResources parses the "resources" configuration string
// ("cpus:1;mem:1024;disk:2048") into a Resources vector. Unrecognized
// keys are ignored; malformed numeric values are reported.
func (c Config) SlaveResources() (types.Resources, error) {
	return parseResources(c.Resources)
}

// SlaveAttributes parses the "attributes" configuration string
// ("rack:abc;zone:us-east") into a string map.
func (c Config) SlaveAttributes() map[string]string {
	return parseAttributes(c.Attributes)
}

func parseResources(s string) (types.Resources, error) {
	var r types.Resources
	for _, field := range splitNonEmpty(s, ';') {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "cpus":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return r, fmt.Errorf("config: invalid cpus %q: %w", value, err)
			}
			r.CPUs = v
		case "mem":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return r, fmt.Errorf("config: invalid mem %q: %w", value, err)
			}
			r.MemMB = v
		case "disk":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return r, fmt.Errorf("config: invalid disk %q: %w", value, err)
			}
			r.DiskMB = v
		}
	}
	return r, nil
}

func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for _, field := range splitNonEmpty(s, ';') {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PublicHostname resolves SlaveInfo's public hostname per the
// environment rule: MESOS_PUBLIC_DNS overrides, otherwise the system
// hostname is reused.
func PublicHostname(hostname string) string {
	if dns := os.Getenv("MESOS_PUBLIC_DNS"); dns != "" {
		return dns
	}
	return hostname
}

// SlaveInfo builds the SlaveInfo the agent advertises on registration.
func (c Config) SlaveInfo() (types.SlaveInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return types.SlaveInfo{}, fmt.Errorf("config: resolve hostname: %w", err)
	}
	resources, err := c.SlaveResources()
	if err != nil {
		return types.SlaveInfo{}, err
	}
	return types.SlaveInfo{
		Hostname:       hostname,
		PublicHostname: PublicHostname(hostname),
		Resources:      resources,
		Attributes:     c.SlaveAttributes(),
	}, nil
}
