package processes

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the severity of a log entry as reported by the emulator.
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = []string{"unknown", "trace", "debug", "info", "warning", "error", "critical"}

// String returns the lower-case name of the level.
func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelUnknown, fmt.Errorf("unknown log level %q", s)
}

// emulatorLevel maps the level names the emulator prints. Anything else is
// LevelUnknown.
func emulatorLevel(s string) Level {
	switch s {
	case "Trace":
		return LevelTrace
	case "Debug":
		return LevelDebug
	case "Info":
		return LevelInfo
	case "Warning":
		return LevelWarning
	case "Error":
		return LevelError
	case "Critical":
		return LevelCritical
	default:
		return LevelUnknown
	}
}

var logLineRegex = regexp.MustCompile(`^\[(.*?)]\s?<(.*?)>\s?(.*)$`)

// ParseLogLine splits an emulator log line of the form "[Class] <Level> message".
func ParseLogLine(line string) (class string, level Level, message string, ok bool) {
	m := logLineRegex.FindStringSubmatch(line)
	if m == nil {
		return "", LevelUnknown, "", false
	}
	return m[1], emulatorLevel(m[2]), m[3], true
}
