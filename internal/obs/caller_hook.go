package obs

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook rewrites logrus's reported caller to the first stack frame
// outside of logrus itself and this package, so log lines point at the
// call site that actually logged, not at a wrapper method.
type callerHook struct {
	skipSubstrings []string
}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pc := make([]uintptr, 32)
	n := runtime.Callers(0, pc)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if !h.shouldSkip(frame.Function) {
			entry.Caller = &runtime.Frame{
				File:     frame.File,
				Line:     frame.Line,
				Function: frame.Function,
			}
			return nil
		}
		if !more {
			break
		}
	}
	return nil
}

func (h *callerHook) shouldSkip(fn string) bool {
	for _, s := range h.skipSubstrings {
		if strings.Contains(fn, s) {
			return true
		}
	}
	return false
}
