package debug

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var breaksCmd = &cobra.Command{
	Use:     "breaks",
	Short:   "列出所有断点",
	Long:    "列出所有断点",
	Aliases: []string{"bs", "breakpoints"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		bps, err := CurrentSession.dbg.Breakpoints()
		if err != nil {
			return err
		}
		if len(bps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no breakpoints")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tENABLED\tHITS\tSTOP\tLOCATION\tADDRESSES")
		for _, bp := range bps {
			enabled := "y"
			if !bp.Enabled {
				enabled = "n"
			}
			loc := bp.Location
			if bp.OneShot {
				loc += " (once)"
			}
			addrs := "pending"
			if !bp.Pending() {
				addrs = ""
				for i, l := range bp.Locations {
					if i > 0 {
						addrs += ","
					}
					addrs += fmt.Sprintf("%d:%#x", l.Process, l.Address)
				}
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", bp.ID, enabled, bp.HitCount, bp.StopMode, loc, addrs)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(breaksCmd)
}
