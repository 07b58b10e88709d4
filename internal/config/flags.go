package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"time"
)

type flagValues struct {
	ProjectRoot    string
	DepsDir        string
	WorkerDir      string
	ScaffoldingDir string
	Port           int
	SweepInterval  time.Duration
	QueueCapacity  int
	Debounce       time.Duration
	ConfigFile     string
	Verbose        bool
	Quiet          bool
	Help           bool
	Version        bool
	Set            map[string]bool
}

// shortFlags maps single-letter aliases to their long names.
var shortFlags = map[string]string{
	"r": "project-root",
	"d": "deps",
	"w": "worker-js",
	"h": "help",
	"v": "version",
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	var values flagValues
	fs := flag.NewFlagSet("mho", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&values.ProjectRoot, "project-root", defaults.ProjectRoot, "Project directory to serve and watch")
	fs.StringVar(&values.ProjectRoot, "r", defaults.ProjectRoot, "Project directory to serve and watch")
	fs.StringVar(&values.DepsDir, "deps", defaults.DepsDir, "Directory of prebuilt packages served at /deps/")
	fs.StringVar(&values.DepsDir, "d", defaults.DepsDir, "Directory of prebuilt packages served at /deps/")
	fs.StringVar(&values.WorkerDir, "worker-js", defaults.WorkerDir, "Directory holding mho-client.js and mho-worker.js")
	fs.StringVar(&values.WorkerDir, "w", defaults.WorkerDir, "Directory holding mho-client.js and mho-worker.js")
	fs.StringVar(&values.ScaffoldingDir, "scaffolding", defaults.ScaffoldingDir, "Directory served at /scaffolding/")
	fs.IntVar(&values.Port, "port", defaults.Port, "HTTP port")
	fs.DurationVar(&values.SweepInterval, "sweep-interval", defaults.SweepInterval, "Heartbeat and pruning interval")
	fs.IntVar(&values.QueueCapacity, "queue-capacity", defaults.QueueCapacity, "Per-client event queue size")
	fs.DurationVar(&values.Debounce, "debounce", defaults.Debounce, "Per-path change coalescing window")
	fs.StringVar(&values.ConfigFile, "config", DefaultConfigFile, "Config file (TOML or YAML)")
	fs.BoolVar(&values.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&values.Quiet, "quiet", false, "Reduce logging to warnings")
	fs.BoolVar(&values.Help, "help", false, "Show help")
	fs.BoolVar(&values.Help, "h", false, "Show help")
	fs.BoolVar(&values.Version, "version", false, "Print version and exit")
	fs.BoolVar(&values.Version, "v", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output(), defaults)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	set := make(map[string]bool)
	fs.Visit(func(flagValue *flag.Flag) {
		name := flagValue.Name
		if long, ok := shortFlags[name]; ok {
			name = long
		}
		set[name] = true
	})
	values.Set = set

	if values.Help {
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return values, flag.ErrHelp
	}

	return values, nil
}

// IsHelp reports whether err came from a --help request.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
