package logging

import (
	"strings"
	"time"
)

// Level orders log severities; a logger emits its minimum level and above.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = [...]string{
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelWarning: "warning",
	LevelError:   "error",
}

func (l Level) valid() bool {
	return l >= LevelDebug && l <= LevelError
}

func (l Level) String() string {
	if !l.valid() {
		return levelNames[LevelInfo]
	}
	return levelNames[l]
}

// ParseLevel accepts the level names, case-insensitively, plus "warn".
func ParseLevel(value string) (Level, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "warn" {
		return LevelWarning, true
	}
	for level, levelName := range levelNames {
		if name == levelName {
			return Level(level), true
		}
	}
	return LevelInfo, false
}

// Entry is a single log record before formatting.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Context   map[string]string
}
