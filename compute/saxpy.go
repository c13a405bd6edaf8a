package compute

import (
	"errors"
	"time"

	"github.com/openfluke/saxpy/internal/logging"
)

// Kernel parameter slots of the saxpy entry point.
const (
	SlotX uint32 = iota
	SlotY
	SlotZ
	SlotA
)

// SaxpyConfig describes one z = a*x + y run.
type SaxpyConfig struct {
	Source  KernelSource
	Entry   string
	Profile string

	// Elements is the problem size; it must be a multiple of GroupSize.
	Elements  int
	GroupSize uint32
	A         float32

	MaxReported int
	Tolerance   Tolerance

	// Corrupt, when set, may modify the observed output before verification.
	Corrupt func(observed []float32)
}

// Timings are host wall-clock durations of the pipeline stages.
type Timings struct {
	Build    time.Duration
	Upload   time.Duration
	Dispatch time.Duration
	Readback time.Duration
	Verify   time.Duration
}

type SaxpyReport struct {
	Elements int
	Groups   uint32
	Observed []float32
	Result   Result
	Timings  Timings
}

// SaxpyInputs returns x[i] = i and y[i] = 100 - i.
func SaxpyInputs(n int) (x, y []float32) {
	x = make([]float32, n)
	y = make([]float32, n)
	for i := range x {
		x[i] = float32(i)
		y[i] = float32(100 - i)
	}
	return x, y
}

// SaxpyReference computes a*x[i] + y[i] on the host, rounding the product
// before the add as the kernel does.
func SaxpyReference(a float32, x, y []float32) []float32 {
	z := make([]float32, len(x))
	for i := range x {
		z[i] = float32(a*x[i]) + y[i]
	}
	return z
}

// RunSaxpy stages x and y on the device, dispatches the kernel, copies z
// into a staging buffer, reads it back and verifies it against the host
// reference. A verification failure returns both the report and a
// KindVerificationMismatch error.
func RunSaxpy(h *Handle, cfg SaxpyConfig) (report *SaxpyReport, err error) {
	desc, err := NewDispatchDescriptor(uint64(max(cfg.Elements, 0)), cfg.GroupSize)
	if err != nil {
		return nil, err
	}
	n := cfg.Elements
	report = &SaxpyReport{Elements: n, Groups: desc.Groups()}

	start := time.Now()
	prog, err := BuildProgram(h, cfg.Source, cfg.Entry, cfg.Profile)
	if err != nil {
		return nil, err
	}
	defer prog.Release()
	kernel, err := prog.Instantiate()
	if err != nil {
		return nil, err
	}
	defer kernel.Release()
	report.Timings.Build = time.Since(start)
	if gs := kernel.GroupSize(); gs != desc.PerGroup() {
		return nil, newError(KindDimensionMismatch, "saxpy.run", "kernel %s runs %d items per group, configured group size is %d",
			kernel.Name(), gs, desc.PerGroup())
	}

	var bufs []*Buffer
	defer func() {
		for i := len(bufs) - 1; i >= 0; i-- {
			if rerr := bufs[i].Release(); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}()
	alloc := func(label string, access Access, role Role) (*Buffer, error) {
		b, err := NewBuffer(h, label, n, access, role)
		if err == nil {
			bufs = append(bufs, b)
		}
		return b, err
	}
	x, err := alloc("x", HostWrite, RoleInput)
	if err != nil {
		return nil, err
	}
	y, err := alloc("y", HostWrite, RoleInput)
	if err != nil {
		return nil, err
	}
	z, err := alloc("z", DeviceOnly, RoleOutput)
	if err != nil {
		return nil, err
	}
	staging, err := alloc("z.staging", HostRead, RoleStaging)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	xs, ys := SaxpyInputs(n)
	if err := x.Upload(xs); err != nil {
		return nil, err
	}
	if err := y.Upload(ys); err != nil {
		return nil, err
	}
	report.Timings.Upload = time.Since(start)

	sess, err := NewSession(h, kernel)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	for _, b := range []struct {
		slot uint32
		res  Resource
	}{{SlotX, x}, {SlotY, y}, {SlotZ, z}, {SlotA, Scalar(cfg.A)}} {
		if err := sess.Bind(b.slot, b.res); err != nil {
			return nil, err
		}
	}

	start = time.Now()
	if err := sess.Dispatch(desc, desc.Groups()); err != nil {
		return nil, err
	}
	if err := staging.CopyFrom(z); err != nil {
		return nil, err
	}
	report.Timings.Dispatch = time.Since(start)

	start = time.Now()
	observed, err := staging.Download()
	if err != nil {
		return nil, err
	}
	report.Timings.Readback = time.Since(start)
	sess.UnbindAll()

	if cfg.Corrupt != nil {
		cfg.Corrupt(observed)
	}
	report.Observed = observed

	start = time.Now()
	opts := []VerifyOption{WithMaxReported(cfg.MaxReported)}
	if !cfg.Tolerance.exact() {
		opts = append(opts, WithTolerance(cfg.Tolerance))
	}
	res, err := Verify(SaxpyReference(cfg.A, xs, ys), observed, opts...)
	if err != nil {
		return nil, err
	}
	report.Result = res
	report.Timings.Verify = time.Since(start)
	logging.Debugf("saxpy: %d elements, %d mismatches, dispatch %v, readback %v",
		n, res.Count, report.Timings.Dispatch, report.Timings.Readback)
	return report, res.Err()
}

// IdentityConfig describes a copy-through run of the identity kernel.
type IdentityConfig struct {
	Source  KernelSource
	Entry   string
	Profile string
	Data    []float32
}

// RunIdentity uploads cfg.Data, dispatches a kernel that copies slot 0 into
// slot 1 and returns what was read back. The work-group size comes from the
// kernel itself.
func RunIdentity(h *Handle, cfg IdentityConfig) (out []float32, err error) {
	prog, err := BuildProgram(h, cfg.Source, cfg.Entry, cfg.Profile)
	if err != nil {
		return nil, err
	}
	defer prog.Release()
	kernel, err := prog.Instantiate()
	if err != nil {
		return nil, err
	}
	defer kernel.Release()

	desc, err := NewDispatchDescriptor(uint64(len(cfg.Data)), kernel.GroupSize())
	if err != nil {
		return nil, err
	}

	var bufs []*Buffer
	defer func() {
		for i := len(bufs) - 1; i >= 0; i-- {
			if rerr := bufs[i].Release(); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}()
	for _, d := range []struct {
		label  string
		access Access
		role   Role
	}{
		{"src", HostWrite, RoleInput},
		{"dst", DeviceOnly, RoleOutput},
		{"dst.staging", HostRead, RoleStaging},
	} {
		b, err := NewBuffer(h, d.label, len(cfg.Data), d.access, d.role)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}
	src, dst, staging := bufs[0], bufs[1], bufs[2]

	if err := src.Upload(cfg.Data); err != nil {
		return nil, err
	}
	sess, err := NewSession(h, kernel)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	if err := sess.Bind(0, src); err != nil {
		return nil, err
	}
	if err := sess.Bind(1, dst); err != nil {
		return nil, err
	}
	if err := sess.Dispatch(desc, desc.Groups()); err != nil {
		return nil, err
	}
	if err := staging.CopyFrom(dst); err != nil {
		return nil, err
	}
	out, err = staging.Download()
	if err != nil {
		return nil, err
	}
	sess.UnbindAll()
	return out, nil
}
