package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <breakpoint no.>",
	Short: "清除指定编号的断点",
	Long:  `清除指定编号的断点，编号也可以通过 -n 指定`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := breakpointID(cmd, args)
		if err != nil {
			return err
		}

		bp, err := CurrentSession.dbg.Clear(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "移除断点成功: %d %s\n", bp.ID, bp.Location)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Uint32P("n", "n", 0, "断点编号")
}

// breakpointID reads the breakpoint number from the -n flag or the first argument.
func breakpointID(cmd *cobra.Command, args []string) (uint32, error) {
	if len(args) == 1 {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid breakpoint no.: %s", args[0])
		}
		return uint32(v), nil
	}
	if len(args) > 1 {
		return 0, errors.New("参数错误")
	}
	if cmd.Flags().Lookup("n") != nil {
		if id, _ := cmd.Flags().GetUint32("n"); id != 0 {
			return id, nil
		}
	}
	return 0, errors.New("参数错误")
}
