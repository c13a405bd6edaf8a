package compute

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfluke/saxpy/internal/logging"
)

// Opener acquires a device from a backend.
type Opener func(opts Options) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// DefaultOrder is the preference order Acquire walks when no backend is named.
var DefaultOrder = []string{"webgpu", "host"}

// Register makes a backend available by name. It panics if Register is
// called twice with the same name or if open is nil.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if open == nil {
		panic("compute: Register opener is nil")
	}
	if _, dup := registry[name]; dup {
		panic("compute: Register called twice for backend " + name)
	}
	registry[name] = open
}

// Backends returns the sorted names of the registered backends.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle is an acquired device together with its command channel.
type Handle struct {
	dev  Device
	info DeviceInfo
	opts Options

	mu       sync.Mutex
	live     map[*Buffer]struct{}
	released bool
}

// Acquire opens the named backend. An empty name tries DefaultOrder and
// returns the first device that opens.
func Acquire(backend string, opts Options) (*Handle, error) {
	const op = "device.acquire"
	candidates := []string{backend}
	if backend == "" {
		candidates = DefaultOrder
	}

	var lastErr error
	for _, name := range candidates {
		registryMu.RLock()
		open, ok := registry[name]
		registryMu.RUnlock()
		if !ok {
			lastErr = fmt.Errorf("backend %q is not registered (available: %v)", name, Backends())
			continue
		}
		dev, err := open(opts)
		if err != nil {
			logging.Debugf("backend %s unavailable: %v", name, err)
			lastErr = fmt.Errorf("%s: %w", name, err)
			continue
		}
		h := &Handle{dev: dev, info: dev.Info(), opts: opts, live: map[*Buffer]struct{}{}}
		logging.Debugf("acquired %s device %q (tier %s, debug=%v)", h.info.Backend, h.info.Name, h.info.Tier, opts.Debug)
		return h, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no backends registered")
	}
	return nil, wrapError(KindDeviceUnavailable, op, lastErr)
}

func (h *Handle) Info() DeviceInfo { return h.info }

// Debug reports whether validation instrumentation was requested.
func (h *Handle) Debug() bool { return h.opts.Debug }

// Sync blocks until every command submitted on the channel has completed.
func (h *Handle) Sync() error {
	if err := h.check("device.sync"); err != nil {
		return err
	}
	if err := h.dev.Sync(); err != nil {
		return wrapError(KindDispatchFailed, "device.sync", err)
	}
	return nil
}

// Release frees buffers still owned by the handle and closes the device.
// It is safe to call more than once.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	leaked := make([]*Buffer, 0, len(h.live))
	for b := range h.live {
		leaked = append(leaked, b)
	}
	h.live = nil
	h.mu.Unlock()

	if len(leaked) > 0 {
		logging.Warnf("releasing %d buffer(s) still owned at device teardown", len(leaked))
	}
	for _, b := range leaked {
		b.dev.Release()
		b.released = true
	}
	return h.dev.Close()
}

func (h *Handle) check(op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return newError(KindInvalidAccess, op, "device handle has been released")
	}
	return nil
}

func (h *Handle) track(b *Buffer) {
	h.mu.Lock()
	h.live[b] = struct{}{}
	h.mu.Unlock()
}

func (h *Handle) forget(b *Buffer) {
	h.mu.Lock()
	delete(h.live, b)
	h.mu.Unlock()
}
