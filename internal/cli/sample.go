package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/uyouii/cytometry-algorithms/fcs"
	"github.com/uyouii/cytometry-algorithms/sampling"
	"go.uber.org/zap"
)

type sampleFlags struct {
	size   float64
	method string
	seed   uint64
	output string
}

func (c *CLI) sampleCommand() *cobra.Command {
	var flags sampleFlags

	cmd := &cobra.Command{
		Use:   "sample FILE",
		Short: "Down-sample an event table",
		Long: `Down-sample an event table.

--size of 1 or more is a number of events, below 1 a fraction of the events.
Faithful sampling ignores --size, its output size follows from the radius set
in the config file. The output format follows the extension of --out
(.fcs or .csv, optionally .gz or .zst compressed).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("size") {
				c.cfg.Sampling.Size = flags.size
			}
			if cmd.Flags().Changed("method") {
				c.cfg.Sampling.Method = flags.method
			}
			if cmd.Flags().Changed("seed") {
				c.cfg.Sampling.Seed = flags.seed
			}
			return c.runSample(cmd.Context(), args[0], flags.output)
		},
	}

	cmd.Flags().Float64VarP(&flags.size, "size", "n", 0.1, "events to keep, a count or a fraction")
	cmd.Flags().StringVarP(&flags.method, "method", "m", sampling.MethodUniform, "uniform, density or faithful")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 42, "random seed")
	cmd.Flags().StringVarP(&flags.output, "out", "o", "", "output file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (c *CLI) runSample(ctx context.Context, path, output string) error {
	frame, markers, err := loadFrame(ctx, path)
	if err != nil {
		return err
	}
	res, err := sampling.SampleFrame(ctx, frame, c.cfg.SampleSize(), c.cfg.Sampling.Method, c.cfg.SampleOptions())
	if err != nil {
		return err
	}
	if err := fcs.WriteToDisk(output, res, markers); err != nil {
		return err
	}
	c.Logger.Info("sampled events", zap.String("method", c.cfg.Sampling.Method),
		zap.Int("events", frame.Rows()), zap.Int("kept", res.Rows()), zap.String("out", output))
	return nil
}
