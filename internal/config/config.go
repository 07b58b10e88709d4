package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mho/internal/logging"
)

const (
	DefaultPort          = 8000
	DefaultSweepInterval = 10 * time.Second
	DefaultQueueCapacity = 100
	DefaultDebounce      = 50 * time.Millisecond
	DefaultConfigFile    = "mho.toml"
)

type Config struct {
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
	ShowVersion    bool
	Sources        map[string]Source
}

// Source records which layer supplied a setting.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

type configDefaults struct {
	ProjectRoot    string
	DepsDir        string
	WorkerDir      string
	ScaffoldingDir string
	Port           int
	SweepInterval  time.Duration
	QueueCapacity  int
	Debounce       time.Duration
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		ProjectRoot:   ".",
		Port:          DefaultPort,
		SweepInterval: DefaultSweepInterval,
		QueueCapacity: DefaultQueueCapacity,
		Debounce:      DefaultDebounce,
	}
}

// LoadConfig resolves settings from defaults, the config file, MHO_*
// environment variables and flags, later layers winning. It returns
// flag.ErrHelp after printing usage for --help.
func LoadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Sources: make(map[string]Source),
	}

	configFile, explicit := DefaultConfigFile, false
	if raw := strings.TrimSpace(os.Getenv("MHO_CONFIG")); raw != "" {
		configFile, explicit = raw, true
	}
	if flags.Set["config"] {
		if strings.TrimSpace(flags.ConfigFile) == "" {
			return Config{}, fmt.Errorf("invalid --config: value cannot be empty")
		}
		configFile, explicit = flags.ConfigFile, true
	}
	file, err := loadFile(configFile, explicit)
	if err != nil {
		return Config{}, err
	}
	if file.loaded {
		cfg.ConfigFile = configFile
	}

	cfg.ProjectRoot, cfg.Sources["project-root"], err = resolveString("project-root", defaults.ProjectRoot, file.ProjectRoot, "MHO_PROJECT_ROOT", flags, flags.ProjectRoot, true)
	if err != nil {
		return Config{}, err
	}
	cfg.DepsDir, cfg.Sources["deps"], err = resolveString("deps", defaults.DepsDir, file.Deps, "MHO_DEPS", flags, flags.DepsDir, false)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerDir, cfg.Sources["worker-js"], err = resolveString("worker-js", defaults.WorkerDir, file.WorkerJS, "MHO_WORKER_JS", flags, flags.WorkerDir, false)
	if err != nil {
		return Config{}, err
	}
	cfg.ScaffoldingDir, cfg.Sources["scaffolding"], err = resolveString("scaffolding", defaults.ScaffoldingDir, file.Scaffolding, "MHO_SCAFFOLDING", flags, flags.ScaffoldingDir, false)
	if err != nil {
		return Config{}, err
	}

	port := defaults.Port
	portSource := SourceDefault
	if file.Port != nil {
		port = *file.Port
		portSource = SourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("MHO_PORT")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && validPort(parsed) {
			port = parsed
			portSource = SourceEnv
		}
	}
	if flags.Set["port"] {
		port = flags.Port
		portSource = SourceFlag
	}
	if !validPort(port) {
		return Config{}, fmt.Errorf("invalid port %d: must be between 0 and 65535", port)
	}
	cfg.Port = port
	cfg.Sources["port"] = portSource

	sweep, sweepSource := resolveDuration("sweep-interval", defaults.SweepInterval, file.sweepInterval, "MHO_SWEEP_INTERVAL", flags, flags.SweepInterval)
	if sweep <= 0 {
		return Config{}, fmt.Errorf("invalid sweep interval %s: must be > 0", sweep)
	}
	cfg.SweepInterval = sweep
	cfg.Sources["sweep-interval"] = sweepSource

	capacity := defaults.QueueCapacity
	capacitySource := SourceDefault
	if file.QueueCapacity != nil {
		capacity = *file.QueueCapacity
		capacitySource = SourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("MHO_QUEUE_CAPACITY")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			capacity = parsed
			capacitySource = SourceEnv
		}
	}
	if flags.Set["queue-capacity"] {
		capacity = flags.QueueCapacity
		capacitySource = SourceFlag
	}
	if capacity <= 0 {
		return Config{}, fmt.Errorf("invalid queue capacity %d: must be > 0", capacity)
	}
	cfg.QueueCapacity = capacity
	cfg.Sources["queue-capacity"] = capacitySource

	debounce, debounceSource := resolveDuration("debounce", defaults.Debounce, file.debounce, "MHO_DEBOUNCE", flags, flags.Debounce)
	cfg.Debounce = debounce
	cfg.Sources["debounce"] = debounceSource

	verboseSource := SourceDefault
	if flags.Set["verbose"] {
		cfg.Verbose = flags.Verbose
		verboseSource = SourceFlag
	}
	cfg.Sources["verbose"] = verboseSource

	quietSource := SourceDefault
	if flags.Set["quiet"] {
		cfg.Quiet = flags.Quiet
		quietSource = SourceFlag
	}
	cfg.Sources["quiet"] = quietSource

	versionSource := SourceDefault
	cfg.ShowVersion = flags.Version
	if flags.Set["version"] {
		versionSource = SourceFlag
	}
	cfg.Sources["version"] = versionSource

	return cfg, nil
}

// LogLevel maps --verbose and --quiet onto a logger level.
func (c Config) LogLevel() logging.Level {
	switch {
	case c.Verbose:
		return logging.LevelDebug
	case c.Quiet:
		return logging.LevelWarning
	default:
		return logging.LevelInfo
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}

func resolveString(name, fallback string, fromFile *string, env string, flags flagValues, fromFlag string, required bool) (string, Source, error) {
	value := fallback
	source := SourceDefault
	if fromFile != nil {
		value = *fromFile
		source = SourceFile
	}
	if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
		value = raw
		source = SourceEnv
	}
	if flags.Set[name] {
		trimmed := strings.TrimSpace(fromFlag)
		if trimmed == "" && required {
			return "", "", fmt.Errorf("invalid --%s: value cannot be empty", name)
		}
		value = trimmed
		source = SourceFlag
	}
	if required && strings.TrimSpace(value) == "" {
		return "", "", fmt.Errorf("invalid %s: value cannot be empty", name)
	}
	return value, source, nil
}

func resolveDuration(name string, fallback time.Duration, fromFile *time.Duration, env string, flags flagValues, fromFlag time.Duration) (time.Duration, Source) {
	value := fallback
	source := SourceDefault
	if fromFile != nil {
		value = *fromFile
		source = SourceFile
	}
	if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			value = parsed
			source = SourceEnv
		}
	}
	if flags.Set[name] {
		value = fromFlag
		source = SourceFlag
	}
	return value, source
}
