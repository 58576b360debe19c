// ABOUTME: Ordered severity level for the scope and for breadcrumbs
// ABOUTME: Text form is what gets persisted for the native crash handler

package scope

import "fmt"

// Level is the severity attached to a scope or breadcrumb. Levels are ordered:
// LevelDebug < LevelInfo < LevelWarning < LevelError < LevelFatal.
// LevelNone means no level has been set.
type Level uint8

const (
	LevelNone Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{
	LevelNone:    "",
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelWarning: "warning",
	LevelError:   "error",
	LevelFatal:   "fatal",
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", uint8(l))
	}
	return levelNames[l]
}

// Valid reports whether l is LevelNone or one of the named levels.
func (l Level) Valid() bool {
	return l <= LevelFatal
}

// ParseLevel converts the text form back into a Level. The empty string
// parses as LevelNone.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	if s == "warn" {
		return LevelWarning, nil
	}
	return LevelNone, invalid("level", "unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, invalid("level", "out of range %d", uint8(l))
	}
	return []byte(levelNames[l]), nil
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
