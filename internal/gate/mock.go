// mock.go: in-memory gate controller for tests and hardware-less runs
package gate

import (
	"context"
	"sync"
)

// Mock records unlock commands without contacting a controller.
type Mock struct {
	mu      sync.Mutex
	reasons []string

	// Err, when set, is returned by every Open call.
	Err error
}

// Open records the command and returns the configured error, if any.
func (m *Mock) Open(_ context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.reasons = append(m.reasons, reason)
	return nil
}

// Enabled always reports true so callers exercise the actuation path.
func (m *Mock) Enabled() bool {
	return true
}

// Opens returns the reasons of all recorded unlock commands.
func (m *Mock) Opens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reasons))
	copy(out, m.reasons)
	return out
}

// Reset clears the recorded commands.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = nil
}
