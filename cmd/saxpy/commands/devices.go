package commands

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/detector"
)

func newDevicesCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List compute backends and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var backends []string
			if opts.cfg.Backend != "" {
				backends = []string{opts.cfg.Backend}
			}
			devOpts := compute.Options{Debug: opts.cfg.Debug}
			out := cmd.OutOrStdout()

			if asJSON {
				s, err := detector.DetectJSON(backends, devOpts)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}

			rep := detector.Detect(backends, devOpts)
			var data [][]string
			for _, d := range rep.Devices {
				if !d.Available {
					data = append(data, []string{d.Backend, "-", "-", "-", "unavailable: " + d.Error})
					continue
				}
				data = append(data, []string{d.Backend, d.Info.Name, d.Info.Tier, strconv.FormatUint(uint64(d.Info.MaxWorkgroupSize), 10), "ok"})
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"BACKEND", "DEVICE", "TIER", "MAX GROUP", "STATUS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetAutoWrapText(false)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full capability report as JSON")
	return cmd
}
