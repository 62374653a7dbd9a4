package engine

import (
	"strings"
	"sync"
)

// Transform is a pure per-line function applied to tailed lines before they
// are written. Returning false drops the line.
type Transform func(line string) (string, bool)

var (
	transformMu sync.RWMutex
	transforms  = map[string]Transform{}
)

// RegisterTransform adds a named line transform. Later registrations under
// the same name win.
func RegisterTransform(name string, fn Transform) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

// LookupTransform finds a registered transform by name.
func LookupTransform(name string) (Transform, bool) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}

func init() {
	RegisterTransform("trim", func(line string) (string, bool) {
		return strings.TrimSpace(line), true
	})
	RegisterTransform("upper", func(line string) (string, bool) {
		return strings.ToUpper(line), true
	})
	RegisterTransform("lower", func(line string) (string, bool) {
		return strings.ToLower(line), true
	})
	RegisterTransform("nonempty", func(line string) (string, bool) {
		return line, strings.TrimSpace(line) != ""
	})
}

// applyTransform runs lines through the node's named transform, if any.
// Unknown transform names leave the lines untouched.
func applyTransform(name string, lines []string) []string {
	if name == "" {
		return lines
	}
	fn, ok := LookupTransform(name)
	if !ok {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if transformed, keep := fn(line); keep {
			out = append(out, transformed)
		}
	}
	return out
}
