package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"

	"github.com/spf13/cobra"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/internal/config"
	"github.com/openfluke/saxpy/internal/logging"
	"github.com/openfluke/saxpy/kernels"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run saxpy on a device and verify the output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSaxpy(cmd, opts.cfg)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	def := config.DefaultConfig()
	f := cmd.Flags()
	f.String("kernel", def.Kernel.Path, "kernel source, relative to the executable directory")
	f.String("entry", def.Kernel.Entry, "kernel entry point")
	f.String("profile", def.Kernel.Profile, "kernel target profile")
	f.Int("groups", def.Dispatch.Groups, "number of work-groups")
	f.Int("group-size", def.Dispatch.GroupSize, "elements per work-group")
	f.Int("elements", 0, "problem size (default groups*group-size)")
	f.Float32("a", def.Saxpy.A, "scalar multiplier")
	f.Int("max-report", def.Verify.MaxReport, "mismatches to print (0 for all)")
	f.Float64("tolerance-abs", 0, "absolute verification tolerance (0 with rel 0 is bit-exact)")
	f.Float64("tolerance-rel", 0, "relative verification tolerance")
}

// kernelSource loads path, falling back to the embedded copy of a shipped
// kernel when the file does not exist.
func kernelSource(path string) (compute.KernelSource, error) {
	src, err := compute.LoadKernelSource(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return src, err
	}
	if text, ok := kernels.Lookup(path); ok {
		logging.Debugf("kernel %s not found next to the executable, using the embedded copy", path)
		return compute.KernelSource{Name: path, Text: text}, nil
	}
	return src, err
}

func runSaxpy(cmd *cobra.Command, cfg *config.Config) (err error) {
	out := cmd.OutOrStdout()

	src, err := kernelSource(cfg.Kernel.Path)
	if err != nil {
		return err
	}
	if uint64(cfg.Dispatch.GroupSize) > math.MaxUint32 {
		return fmt.Errorf("group size %d is out of range", cfg.Dispatch.GroupSize)
	}

	h, err := compute.Acquire(cfg.Backend, compute.Options{Debug: cfg.Debug})
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	info := h.Info()
	logging.Infof("device: %s (%s, %s)", info.Name, info.Backend, info.Tier)

	rep, err := compute.RunSaxpy(h, compute.SaxpyConfig{
		Source:      src,
		Entry:       cfg.Kernel.Entry,
		Profile:     cfg.Kernel.Profile,
		Elements:    cfg.Elements(),
		GroupSize:   uint32(cfg.Dispatch.GroupSize),
		A:           cfg.Saxpy.A,
		MaxReported: cfg.Verify.MaxReport,
		Tolerance:   compute.Tolerance{Abs: cfg.Verify.ToleranceAbs, Rel: cfg.Verify.ToleranceRel},
	})
	if err != nil {
		printFailure(out, err)
		return err
	}
	fmt.Fprintf(out, "saxpy: %d elements in %d groups on %s verified (dispatch %v, readback %v)\n",
		rep.Elements, rep.Groups, info.Backend, rep.Timings.Dispatch, rep.Timings.Readback)
	return nil
}

// printFailure writes the user-facing details of a compute failure.
func printFailure(w io.Writer, err error) {
	var ce *compute.Error
	if !errors.As(err, &ce) {
		return
	}
	switch ce.Kind {
	case compute.KindKernelBuildFailed:
		if ce.Log != "" {
			fmt.Fprintln(w, ce.Log)
		}
	case compute.KindVerificationMismatch:
		fmt.Fprintln(w, "GPU results differed from the CPU results.")
		for _, m := range ce.Mismatches {
			fmt.Fprintln(w, m.String())
		}
	}
}
