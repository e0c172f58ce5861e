package debug

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

var untilCmd = &cobra.Command{
	Use:   "until <locspec>",
	Short: "当前线程运行到指定位置",
	Long: `当前线程运行到指定位置，其他线程保持原状态。

locspec格式同break命令。`,
	Aliases: []string{"u"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("参数错误")
		}
		loc, err := debugger.ParseLocation(args[0])
		if err != nil {
			return err
		}
		if err := CurrentSession.dbg.Until(loc); err != nil {
			return err
		}
		CurrentSession.waitStop()
		return nil
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "当前线程运行到函数返回",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := CurrentSession.dbg.Finish(); err != nil {
			return err
		}
		CurrentSession.waitStop()
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(untilCmd)
	debugRootCmd.AddCommand(finishCmd)
}
