// Package host is a CPU device adapter. Kernels are interpreted by the wgsl
// package; work-groups of one dispatch run in parallel.
package host

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/compute/wgsl"
	"github.com/openfluke/saxpy/internal/logging"
)

// Device limits, matching the WebGPU defaults.
const (
	MaxWorkgroupSize    = 1024
	MaxWorkgroupSizeX   = 1024
	MaxWorkgroupSizeY   = 1024
	MaxWorkgroupSizeZ   = 64
	MaxWorkgroupsPerDim = 65535
	MaxBufferSize       = 1 << 30
	commandQueueDepth   = 64
)

// ErrClosed is returned for commands issued after Close.
var ErrClosed = errors.New("host device is closed")

func init() {
	compute.Register("host", func(opts compute.Options) (compute.Device, error) {
		return Open(opts), nil
	})
}

// Tier names the best SIMD feature level of the running CPU.
func Tier() string {
	switch {
	case cpu.X86.HasAVX512F:
		return "avx512"
	case cpu.X86.HasAVX2:
		return "avx2"
	case cpu.X86.HasSSE42:
		return "sse4.2"
	case cpu.ARM64.HasASIMD:
		return "neon"
	}
	return "generic"
}

type command struct {
	run   func() error
	fence chan error
}

// Device executes commands in submission order on one worker goroutine.
// The first failing command marks the device lost; later commands are
// skipped and every fence reports the failure.
type Device struct {
	debug   bool
	workers int
	info    compute.DeviceInfo

	cmds   chan command
	done   chan struct{}
	closed bool
}

// Open starts a host device.
func Open(opts compute.Options) *Device {
	workers := runtime.GOMAXPROCS(0)
	d := &Device{
		debug:   opts.Debug,
		workers: workers,
		info: compute.DeviceInfo{
			Name:             fmt.Sprintf("host %s/%s (%d threads)", runtime.GOOS, runtime.GOARCH, workers),
			Backend:          "host",
			Tier:             Tier(),
			MaxWorkgroupSize: MaxWorkgroupSize,
		},
		cmds: make(chan command, commandQueueDepth),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Device) loop() {
	defer close(d.done)
	var lost error
	for cmd := range d.cmds {
		if lost == nil && cmd.run != nil {
			if err := cmd.run(); err != nil {
				lost = err
				logging.Errorf("host device lost: %v", err)
			}
		}
		if cmd.fence != nil {
			cmd.fence <- lost
		}
	}
}

func (d *Device) submit(run func() error) error {
	if d.closed {
		return ErrClosed
	}
	d.cmds <- command{run: run}
	return nil
}

// fence blocks until every command submitted before it has run.
func (d *Device) fence(run func() error) error {
	if d.closed {
		return ErrClosed
	}
	ch := make(chan error, 1)
	d.cmds <- command{run: run, fence: ch}
	return <-ch
}

func (d *Device) Info() compute.DeviceInfo { return d.info }

type buffer struct {
	label string
	data  []byte
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }
func (b *buffer) Release()     {}

func (d *Device) CreateBuffer(desc compute.BufferDesc) (compute.DeviceBuffer, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if desc.Size > MaxBufferSize {
		return nil, fmt.Errorf("buffer %q: %d bytes exceeds the maximum buffer size %d", desc.Label, desc.Size, MaxBufferSize)
	}
	b := &buffer{label: desc.Label, data: make([]byte, desc.Size)}
	if d.debug {
		// poison uninitialised memory so reads of unwritten output stand out
		for i := range b.data {
			b.data[i] = 0xff
		}
	}
	return b, nil
}

func (d *Device) WriteBuffer(buf compute.DeviceBuffer, data []byte) error {
	b := buf.(*buffer)
	if len(data) > len(b.data) {
		return fmt.Errorf("write of %d bytes overflows buffer %q (%d bytes)", len(data), b.label, len(b.data))
	}
	snapshot := append([]byte(nil), data...)
	return d.submit(func() error {
		copy(b.data, snapshot)
		return nil
	})
}

func (d *Device) ReadBuffer(buf compute.DeviceBuffer) ([]byte, error) {
	b := buf.(*buffer)
	var out []byte
	err := d.fence(func() error {
		out = append([]byte(nil), b.data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Device) CopyBuffer(dst, src compute.DeviceBuffer) error {
	db, sb := dst.(*buffer), src.(*buffer)
	if len(db.data) != len(sb.data) {
		return fmt.Errorf("copy from %q (%d bytes) into %q (%d bytes)", sb.label, len(sb.data), db.label, len(db.data))
	}
	return d.submit(func() error {
		copy(db.data, sb.data)
		return nil
	})
}

func (d *Device) Sync() error { return d.fence(nil) }

// Close drains the channel and stops the worker.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	err := d.fence(nil)
	d.closed = true
	close(d.cmds)
	<-d.done
	return err
}

type program struct {
	d    *Device
	prog *wgsl.Program
}

func (d *Device) BuildProgram(src compute.KernelSource) (compute.DeviceProgram, error) {
	prog, err := wgsl.Compile(src.Name, src.Text)
	if err != nil {
		return nil, err
	}
	err = prog.CheckLimits(src.Name, wgsl.Limits{
		MaxInvocations: MaxWorkgroupSize,
		MaxSize:        [3]uint32{MaxWorkgroupSizeX, MaxWorkgroupSizeY, MaxWorkgroupSizeZ},
	})
	if err != nil {
		return nil, err
	}
	return &program{d: d, prog: prog}, nil
}

func (p *program) Reflection() *wgsl.Reflection { return &p.prog.Reflection }

func (p *program) Kernel(entry string) (compute.DeviceKernel, error) {
	k, ok := p.prog.Kernel(entry)
	if !ok {
		return nil, fmt.Errorf("no entry point '%s'", entry)
	}
	return &kernel{d: p.d, k: k}, nil
}

func (p *program) Release() {}

type kernel struct {
	d *Device
	k *wgsl.Kernel
}

func (k *kernel) Dispatch(bindings []compute.SlotBinding, groups [3]uint32) error {
	for i, n := range groups {
		if n == 0 || n > MaxWorkgroupsPerDim {
			return fmt.Errorf("work-group count %d in dimension %d is outside 1..%d", n, i, MaxWorkgroupsPerDim)
		}
	}
	mem := wgsl.NewMemory()
	for _, b := range bindings {
		mem.Bind(b.Slot, b.Buffer.(*buffer).data)
	}
	debug := k.d.debug
	return k.d.submit(func() error {
		var g errgroup.Group
		g.SetLimit(k.d.workers)
		for z := uint32(0); z < groups[2]; z++ {
			for y := uint32(0); y < groups[1]; y++ {
				for x := uint32(0); x < groups[0]; x++ {
					wid := [3]uint32{x, y, z}
					g.Go(func() error {
						return k.k.RunWorkgroup(mem, wid, groups, debug)
					})
				}
			}
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("kernel %s: %w", k.k.Name, err)
		}
		return nil
	})
}

func (k *kernel) Unbind()  {}
func (k *kernel) Release() {}
