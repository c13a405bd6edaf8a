package compute

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfluke/saxpy/compute/wgsl"
	"github.com/openfluke/saxpy/internal/logging"
)

// ProfileWGSL is the only target profile the backends accept.
const ProfileWGSL = "wgsl"

// Profiles lists the supported target profiles.
var Profiles = []string{ProfileWGSL}

// KernelSource is kernel text plus the name used in its diagnostics.
type KernelSource struct {
	Name string
	Text string
}

// LoadKernelSource reads a kernel file. Relative paths are resolved against
// the directory of the running executable.
func LoadKernelSource(path string) (KernelSource, error) {
	const op = "kernel.load"
	if !filepath.IsAbs(path) {
		exe, err := os.Executable()
		if err != nil {
			return KernelSource{}, wrapError(KindKernelBuildFailed, op, fmt.Errorf("locating executable: %w", err))
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		path = filepath.Join(filepath.Dir(exe), path)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return KernelSource{}, wrapError(KindKernelBuildFailed, op, err)
	}
	return KernelSource{Name: filepath.Base(path), Text: string(text)}, nil
}

// Program is a kernel module built for one device.
type Program struct {
	h        *Handle
	src      KernelSource
	entry    string
	dev      DeviceProgram
	released bool
}

// BuildProgram compiles src for the device behind h. On failure the error is
// KindKernelBuildFailed and carries the backend diagnostics in its Log.
func BuildProgram(h *Handle, src KernelSource, entry, profile string) (*Program, error) {
	const op = "program.build"
	if err := h.check(op); err != nil {
		return nil, err
	}
	if profile != ProfileWGSL {
		log := fmt.Sprintf("%s: error: unsupported target profile %q (supported: %s)", src.Name, profile, strings.Join(Profiles, ", "))
		return nil, &Error{Kind: KindKernelBuildFailed, Op: op, Err: fmt.Errorf("unsupported target profile %q", profile), Log: log}
	}
	dev, err := h.dev.BuildProgram(src)
	if err != nil {
		return nil, &Error{Kind: KindKernelBuildFailed, Op: op, Err: fmt.Errorf("compiling %s", src.Name), Log: err.Error()}
	}
	logging.Debugf("built program %s (%d bindings, %d entry points)", src.Name, len(dev.Reflection().Bindings), len(dev.Reflection().EntryPoints))
	for _, w := range dev.Reflection().Warnings {
		logging.Warnf("%s:%s: warning: %s", src.Name, w.Pos, w.Msg)
	}
	return &Program{h: h, src: src, entry: entry, dev: dev}, nil
}

// Reflection is the parameter signature and entry points of the module.
func (p *Program) Reflection() *wgsl.Reflection { return p.dev.Reflection() }

// Instantiate returns the invocable kernel for the program's entry point.
func (p *Program) Instantiate() (*Kernel, error) {
	const op = "program.instantiate"
	if p.released {
		return nil, newError(KindInvalidAccess, op, "program %s has been released", p.src.Name)
	}
	refl := p.dev.Reflection()
	ep, ok := refl.Entry(p.entry)
	if !ok {
		return nil, newError(KindEntryPointNotFound, op, "entry point %q not found in %s", p.entry, p.src.Name)
	}
	dk, err := p.dev.Kernel(p.entry)
	if err != nil {
		return nil, &Error{Kind: KindKernelBuildFailed, Op: op, Err: fmt.Errorf("preparing %s", p.entry), Log: err.Error()}
	}
	return &Kernel{program: p, entry: ep, params: refl.Bindings, dev: dk}, nil
}

func (p *Program) Release() {
	if p.released {
		return
	}
	p.released = true
	p.dev.Release()
}

// Kernel is an instantiated entry point with its reflected signature.
type Kernel struct {
	program *Program
	entry   wgsl.EntryPoint
	params  []wgsl.Binding
	dev     DeviceKernel
}

func (k *Kernel) Name() string { return k.entry.Name }

// WorkgroupSize is the kernel-declared work-group extent.
func (k *Kernel) WorkgroupSize() [3]uint32 { return k.entry.WorkgroupSize }

// GroupSize is the number of work-items in one work-group. Device limits
// cap it well below the u32 range.
func (k *Kernel) GroupSize() uint32 { return uint32(k.entry.Invocations()) }

// Params returns the parameter slots in slot order.
func (k *Kernel) Params() []wgsl.Binding { return k.params }

func (k *Kernel) Param(slot uint32) (wgsl.Binding, bool) {
	for _, p := range k.params {
		if p.Slot == slot {
			return p, true
		}
	}
	return wgsl.Binding{}, false
}

func (k *Kernel) Release() { k.dev.Release() }
