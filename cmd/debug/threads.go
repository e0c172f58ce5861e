package debug

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "列出所有线程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		threads, err := CurrentSession.dbg.Threads()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, th := range threads {
			mark := " "
			if th.Current {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", mark, th.Process, th.Thread, th.Name, th.State, th.Location)
		}
		return tw.Flush()
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread <tid>",
	Short: "切换当前线程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("参数错误")
		}
		tid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tid: %s", args[0])
		}
		if err := CurrentSession.dbg.SelectThread(tid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "switched to thread %d\n", tid)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(threadsCmd)
	debugRootCmd.AddCommand(threadCmd)
}
