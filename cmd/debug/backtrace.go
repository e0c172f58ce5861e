package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backtraceCmd = &cobra.Command{
	Use:     "bt",
	Short:   "打印调用栈信息",
	Aliases: []string{"backtrace"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")

		// 沿着rbp链回溯，要求被调试程序保留了frame pointer
		frames, err := CurrentSession.dbg.Backtrace(depth)
		if err != nil {
			return err
		}
		for i, f := range frames {
			fmt.Fprintf(cmd.OutOrStdout(), "#%-3d %#x in %s\n", i, f.PC, f.Location)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(backtraceCmd)

	backtraceCmd.Flags().IntP("depth", "d", 32, "最大栈帧数")
}
