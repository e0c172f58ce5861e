package debug

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

var disassCmd = &cobra.Command{
	Use:   "disass [address]",
	Short: "反汇编机器指令",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	Aliases: []string{"dis", "disassemble"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			max, _    = cmd.Flags().GetUint64("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)
		if syntax == "" {
			syntax = CurrentSession.syntax
		}

		// 默认从当前PC开始
		var addr uint64
		if len(args) != 0 {
			loc, err := debugger.ParseLocation(args[0])
			if err != nil || loc.Address == 0 {
				return fmt.Errorf("invalid address: %s", args[0])
			}
			addr = loc.Address
		}

		insts, err := CurrentSession.dbg.Disassemble(addr, int(max), syntax)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 8, ' ', 0)
		for _, inst := range insts {
			fmt.Fprintf(tw, "%#x:\t% x\t%s\n", inst.Address, inst.Bytes, inst.Text)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(disassCmd)

	disassCmd.Flags().Uint64P("max", "n", 10, "反汇编指令数量")
	disassCmd.Flags().StringP("syntax", "s", "", "反汇编指令语法，支持：go, gnu, intel")
}
