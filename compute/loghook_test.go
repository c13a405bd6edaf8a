package compute_test

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/openfluke/saxpy/internal/logging"
)

// countingHook counts warnings emitted through the package logger.
type countingHook struct {
	mu       sync.Mutex
	warnings int
}

func (h *countingHook) Levels() []logrus.Level { return []logrus.Level{logrus.WarnLevel} }

func (h *countingHook) Fire(*logrus.Entry) error {
	h.mu.Lock()
	h.warnings++
	h.mu.Unlock()
	return nil
}

func withLogHook(t *testing.T, hook logrus.Hook) {
	t.Helper()
	l := logging.Get()
	saved, out := l.ReplaceHooks(make(logrus.LevelHooks)), l.Out
	l.AddHook(hook)
	l.SetOutput(io.Discard)
	t.Cleanup(func() {
		l.ReplaceHooks(saved)
		l.SetOutput(out)
	})
}
