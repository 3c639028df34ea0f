package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/uyouii/cytometry-algorithms/fcs"
)

func (c *CLI) channelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "channels FILE",
		Short: "List the channels and markers of an FCS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := fcs.ReadFlowData(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCHANNEL\tMARKER")
			for i, m := range fcs.ChannelMappings(fd) {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, m.Channel, m.Marker)
			}
			return tw.Flush()
		},
	}
}
