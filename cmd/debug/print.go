package debug

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

var printCmd = &cobra.Command{
	Use:   "print <reg|addr>",
	Short: "打印寄存器或内存值",
	Long: `打印寄存器或内存值。

寄存器支持 ip, sp, bp (rip, rsp, rbp)，地址打印该处的8个字节，-n 指定字节数。`,
	Aliases: []string{"p"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("need register or address")
		}
		out := cmd.OutOrStdout()

		switch strings.ToLower(args[0]) {
		case "ip", "rip", "pc", "sp", "rsp", "bp", "rbp", "regs":
			regs, err := CurrentSession.dbg.Registers()
			if err != nil {
				return err
			}
			switch strings.TrimPrefix(strings.ToLower(args[0]), "r") {
			case "ip", "pc":
				fmt.Fprintf(out, "rip = %#x\n", regs.IP)
			case "sp":
				fmt.Fprintf(out, "rsp = %#x\n", regs.SP)
			case "bp":
				fmt.Fprintf(out, "rbp = %#x\n", regs.BP)
			default:
				fmt.Fprintf(out, "rip = %#x\nrsp = %#x\nrbp = %#x\n", regs.IP, regs.SP, regs.BP)
			}
			return nil
		}

		loc, err := debugger.ParseLocation(args[0])
		if err != nil || loc.Address == 0 {
			return fmt.Errorf("unknown register or address: %s", args[0])
		}
		size, _ := cmd.Flags().GetUint32("n")
		dat, err := CurrentSession.dbg.ReadMemory(loc.Address, size)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%#x: % x\n", loc.Address, dat)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(printCmd)

	printCmd.Flags().Uint32P("n", "n", 8, "读取的字节数")
}
