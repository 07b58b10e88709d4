package config

import (
	"fmt"
	"io"
)

type helpOption struct {
	Name string
	Desc string
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: mho [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Development file server with live change notifications")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Project", []helpOption{
		{
			Name: "-r, --project-root DIR",
			Desc: fmt.Sprintf("Project to serve and watch (env: MHO_PROJECT_ROOT, default: %s)", defaults.ProjectRoot),
		},
		{
			Name: "-d, --deps DIR",
			Desc: "Prebuilt packages served at /deps/ (env: MHO_DEPS, default: none)",
		},
		{
			Name: "-w, --worker-js DIR",
			Desc: "Directory with mho-client.js and mho-worker.js (env: MHO_WORKER_JS, default: none)",
		},
		{
			Name: "--scaffolding DIR",
			Desc: "Directory served at /scaffolding/ (env: MHO_SCAFFOLDING, default: none)",
		},
	})

	writeOptionGroup(out, "Server", []helpOption{
		{
			Name: "--port PORT",
			Desc: fmt.Sprintf("HTTP port (env: MHO_PORT, default: %d)", defaults.Port),
		},
		{
			Name: "--config FILE",
			Desc: fmt.Sprintf("Config file, .toml or .yaml (env: MHO_CONFIG, default: %s if present)", DefaultConfigFile),
		},
	})

	writeOptionGroup(out, "Change stream", []helpOption{
		{
			Name: "--sweep-interval DURATION",
			Desc: fmt.Sprintf("Heartbeat and pruning interval (env: MHO_SWEEP_INTERVAL, default: %s)", defaults.SweepInterval),
		},
		{
			Name: "--queue-capacity N",
			Desc: fmt.Sprintf("Per-client event queue size (env: MHO_QUEUE_CAPACITY, default: %d)", defaults.QueueCapacity),
		},
		{
			Name: "--debounce DURATION",
			Desc: fmt.Sprintf("Coalescing window per path, negative disables (env: MHO_DEBOUNCE, default: %s)", defaults.Debounce),
		},
	})

	writeOptionGroup(out, "Common", []helpOption{
		{
			Name: "--verbose",
			Desc: "Enable verbose logging (default: false)",
		},
		{
			Name: "--quiet",
			Desc: "Reduce logging to warnings (default: false)",
		},
		{
			Name: "-h, --help",
			Desc: "Show this help message",
		},
		{
			Name: "-v, --version",
			Desc: "Print version and exit",
		},
	})

	fmt.Fprintln(out, "Config file values override defaults; environment variables override the file; CLI flags override everything.")
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	fmt.Fprintf(out, "  %s:\n", title)
	for _, option := range options {
		fmt.Fprintf(out, "    %-30s %s\n", option.Name, option.Desc)
	}
	fmt.Fprintln(out, "")
}
