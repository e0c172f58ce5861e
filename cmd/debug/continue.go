package debug

import (
	"github.com/spf13/cobra"
)

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "运行到下个断点",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Aliases: []string{"c"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := CurrentSession.dbg.Continue(); err != nil {
			return err
		}
		CurrentSession.waitStop()
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(continueCmd)
}
