package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearallCmd = &cobra.Command{
	Use:   "clearall",
	Short: "清除所有的断点",
	Long:  `清除所有的断点`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := CurrentSession.dbg.ClearAll()
		if err != nil {
			return fmt.Errorf("清除断点失败: %v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "清空断点成功，共%d个\n", n)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearallCmd)
}
