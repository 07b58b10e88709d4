package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileValues mirrors the config file. Unset keys stay nil so they do not
// shadow defaults.
type fileValues struct {
	ProjectRoot   *string `toml:"project_root" yaml:"project_root"`
	Deps          *string `toml:"deps" yaml:"deps"`
	WorkerJS      *string `toml:"worker_js" yaml:"worker_js"`
	Scaffolding   *string `toml:"scaffolding" yaml:"scaffolding"`
	Port          *int    `toml:"port" yaml:"port"`
	SweepInterval *string `toml:"sweep_interval" yaml:"sweep_interval"`
	QueueCapacity *int    `toml:"queue_capacity" yaml:"queue_capacity"`
	Debounce      *string `toml:"debounce" yaml:"debounce"`

	loaded        bool
	sweepInterval *time.Duration
	debounce      *time.Duration
}

// loadFile reads path when it exists. A missing file is an error only when
// the path was given explicitly.
func loadFile(path string, explicit bool) (fileValues, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return fileValues{}, nil
		}
		return fileValues{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	values, err := decodeFile(path, data)
	if err != nil {
		return fileValues{}, err
	}
	values.loaded = true

	if values.sweepInterval, err = parseFileDuration(path, "sweep_interval", values.SweepInterval); err != nil {
		return fileValues{}, err
	}
	if values.debounce, err = parseFileDuration(path, "debounce", values.Debounce); err != nil {
		return fileValues{}, err
	}

	base := filepath.Dir(path)
	for _, dir := range []*string{values.ProjectRoot, values.Deps, values.WorkerJS, values.Scaffolding} {
		if dir != nil && *dir != "" && !filepath.IsAbs(*dir) {
			*dir = filepath.Join(base, *dir)
		}
	}
	return values, nil
}

func decodeFile(path string, data []byte) (fileValues, error) {
	var values fileValues
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &values)
		if err != nil {
			var parseErr toml.ParseError
			if errors.As(err, &parseErr) {
				return fileValues{}, fmt.Errorf("parse config file %s: %s", path, parseErr.ErrorWithPosition())
			}
			return fileValues{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return fileValues{}, fmt.Errorf("parse config file %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&values); err != nil && !errors.Is(err, io.EOF) {
			return fileValues{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		return fileValues{}, fmt.Errorf("unsupported config file extension %q", ext)
	}
	return values, nil
}

func parseFileDuration(path, key string, raw *string) (*time.Duration, error) {
	if raw == nil {
		return nil, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %s: %w", path, key, err)
	}
	return &parsed, nil
}
