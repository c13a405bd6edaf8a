// Package commands implements the saxpy command line.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/internal/config"
	"github.com/openfluke/saxpy/internal/logging"
)

type rootOptions struct {
	cfgFile string
	verbose bool
	cfg     *config.Config
}

// NewRootCommand builds the command tree. The root command runs saxpy when
// no subcommand is given.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "saxpy",
		Short: "Offload z = a*x + y to a compute device and verify the result",
		Long: `saxpy compiles a compute kernel, stages its inputs on a device,
dispatches it, reads the output back and checks every element against a
host reference.

Without a subcommand it behaves like "saxpy run".`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			if err := logging.Init(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.saxpy/config.yaml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (log level debug)")
	pf.String("log-level", "warn", "log level: trace, debug, info, warn, error")
	pf.String("log-file", "", "also write logs to this file")
	pf.String("backend", "", "compute backend (default: webgpu, then host)")
	pf.Bool("debug", false, "enable device validation instrumentation")

	addRunFlags(rootCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSaxpy(cmd, opts.cfg)
	}

	rootCmd.AddCommand(newRunCommand(opts), newDevicesCommand(opts))
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// ExitCode maps an error to the process exit status: 1 for errors outside
// the compute core, 1 + kind for a classified compute failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *compute.Error
	if errors.As(err, &ce) && ce.Kind != compute.KindUnknown {
		return 1 + int(ce.Kind)
	}
	return 1
}
