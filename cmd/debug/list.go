package debug

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

var listCmd = &cobra.Command{
	Use:     "list [file:lineno]",
	Short:   "查看源码信息",
	Aliases: []string{"l"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			file   string
			lineno int
		)

		// parse location
		if len(args) != 0 {
			loc, err := debugger.ParseLocation(args[0])
			if err != nil {
				return err
			}
			if loc.Type != breakpoint.LocationLine {
				return fmt.Errorf("invalid location: %s, must be file:lineno", args[0])
			}
			file, lineno = loc.File, loc.Line
		} else {
			pos, err := CurrentSession.dbg.Where()
			if err != nil {
				return err
			}
			if pos.File == "" {
				return fmt.Errorf("no line info for %s", pos.Location)
			}
			file, lineno = pos.File, pos.Line
		}

		// print lines
		return listFileLines(cmd.OutOrStdout(), file, lineno, 5)
	},
}

// list file lines, lineno is 1-based
func listFileLines(w io.Writer, file string, lineno, rng int) error {

	lines, offset, err := listFile(file, lineno, rng)
	if err != nil {
		return fmt.Errorf("list file err: %v", err)
	}

	// use 1-based counter
	idx := offset + 1
	for _, ln := range lines {
		if idx != lineno {
			fmt.Fprintf(w, "%-4s\t%d\t%s\n", "", idx, ln)
		} else {
			fmt.Fprintf(w, "%-4s\t%d\t%s\n", "=>", idx, ln)
		}
		idx++
	}

	return nil
}

func init() {
	debugRootCmd.AddCommand(listCmd)
}

// return value `offset` is zero-based counter
func listFile(file string, lineno, rng int) (lines []string, offset int, err error) {
	dat, err := os.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("read file err: %v", err)
		return
	}

	raw := strings.Split(string(dat), "\n")
	count := len(raw)

	begin := lineno - 1 - rng
	if begin < 0 {
		begin = 0
	}
	if begin > count {
		return
	}

	end := lineno + rng
	if end > count {
		end = count
	}

	return raw[begin:end], begin, nil
}
