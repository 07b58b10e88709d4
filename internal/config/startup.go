package config

import (
	"fmt"
	"strings"

	"mho/internal/logging"
)

// LogStartupFlags records, at debug level, the settings given on the
// command line.
func LogStartupFlags(logger *logging.Logger, cfg Config) {
	if logger == nil || cfg.Sources == nil {
		return
	}
	var flags []string
	if cfg.Sources["project-root"] == SourceFlag {
		flags = append(flags, formatStringFlag("--project-root", cfg.ProjectRoot))
	}
	if cfg.Sources["deps"] == SourceFlag {
		flags = append(flags, formatStringFlag("--deps", cfg.DepsDir))
	}
	if cfg.Sources["worker-js"] == SourceFlag {
		flags = append(flags, formatStringFlag("--worker-js", cfg.WorkerDir))
	}
	if cfg.Sources["scaffolding"] == SourceFlag {
		flags = append(flags, formatStringFlag("--scaffolding", cfg.ScaffoldingDir))
	}
	if cfg.Sources["port"] == SourceFlag {
		flags = append(flags, fmt.Sprintf("--port %d", cfg.Port))
	}
	if cfg.Sources["sweep-interval"] == SourceFlag {
		flags = append(flags, fmt.Sprintf("--sweep-interval %s", cfg.SweepInterval))
	}
	if cfg.Sources["queue-capacity"] == SourceFlag {
		flags = append(flags, fmt.Sprintf("--queue-capacity %d", cfg.QueueCapacity))
	}
	if cfg.Sources["debounce"] == SourceFlag {
		flags = append(flags, fmt.Sprintf("--debounce %s", cfg.Debounce))
	}
	if cfg.Sources["verbose"] == SourceFlag {
		flags = append(flags, formatBoolFlag("--verbose", cfg.Verbose))
	}
	if cfg.Sources["quiet"] == SourceFlag {
		flags = append(flags, formatBoolFlag("--quiet", cfg.Quiet))
	}

	if len(flags) == 0 {
		return
	}
	logger.Debug("starting with flags", map[string]string{
		"flags": strings.Join(flags, " "),
	})
}

func formatBoolFlag(name string, value bool) string {
	if value {
		return name
	}
	return fmt.Sprintf("%s=%t", name, value)
}

func formatStringFlag(name, value string) string {
	if strings.TrimSpace(value) == "" {
		return fmt.Sprintf("%s=\"\"", name)
	}
	return fmt.Sprintf("%s %s", name, value)
}
