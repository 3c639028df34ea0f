package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/uyouii/cytometry-algorithms/kde"
	"github.com/uyouii/cytometry-algorithms/transform"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
)

type peaksFlags struct {
	channel     string
	transform   string
	minHeight   float64
	minDistance int
}

func (c *CLI) peaksCommand() *cobra.Command {
	var flags peaksFlags

	cmd := &cobra.Command{
		Use:   "peaks FILE",
		Short: "Find the density peaks of one channel",
		Long: `Find the density peaks of one channel.

The channel is optionally transformed, then a kernel density estimate is
evaluated on a grid and the local maxima reaching --min-height times the
highest density and at least --min-distance grid steps apart are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.cfg.PeakOptions()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("min-height") {
				opts.MinHeight = flags.minHeight
			}
			if cmd.Flags().Changed("min-distance") {
				opts.MinDistance = flags.minDistance
			}
			method := c.cfg.Transform.Method
			if cmd.Flags().Changed("transform") {
				method = flags.transform
			}
			return c.runPeaks(cmd.Context(), cmd.OutOrStdout(), args[0], flags.channel, method, opts)
		},
	}

	cmd.Flags().StringVar(&flags.channel, "channel", "", "channel (column) to analyse")
	cmd.Flags().StringVarP(&flags.transform, "transform", "t", "", "transform applied first: asinh, log, logicle, hyperlog")
	cmd.Flags().Float64Var(&flags.minHeight, "min-height", kde.DefaultMinHeight, "peak threshold as a fraction of the highest density")
	cmd.Flags().IntVar(&flags.minDistance, "min-distance", kde.DefaultMinDistance, "minimum grid steps between peaks")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func (c *CLI) runPeaks(ctx context.Context, out io.Writer, path, channel, method string, opts kde.PeakOptions) error {
	frame, _, err := loadFrame(ctx, path)
	if err != nil {
		return err
	}
	if method != "" {
		var params map[string]float64
		if method == c.cfg.Transform.Method {
			params = c.cfg.Transform.Params
		}
		if frame, _, err = transform.ApplyTransform(ctx, frame, []string{channel}, method, params); err != nil {
			return err
		}
	}
	values, err := frame.Column(channel)
	if err != nil {
		return err
	}

	res, err := kde.DensityPeaks(ctx, values, opts)
	if err != nil {
		return err
	}
	c.Logger.Info("density peaks", zap.String("channel", channel), zap.Int("events", len(values)),
		zap.Int("peaks", len(res.Peaks)), zap.Float64("bandwidth", res.BandWidth))

	if len(res.Peaks) == 0 {
		_, err = fmt.Fprintln(out, "no peaks above threshold")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEAK\tLOCATION\tDENSITY")
	locations, heights := res.PeakLocations(), res.PeakHeights()
	for i := range res.Peaks {
		fmt.Fprintf(tw, "%d\t%v\t%v\n", i+1, utils.FormatFloat(locations[i], 4), utils.FormatFloat(heights[i], 6))
	}
	return tw.Flush()
}
