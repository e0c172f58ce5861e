package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupSource      = "2-source"
	cmdGroupCtrlFlow    = "3-execute"
	cmdGroupInfo        = "4-info"
	cmdGroupOthers      = "5-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	prefix    = "rdbg> "
	descShort = "rdbg interactive debugging commands"
)

var debugRootCmd = &cobra.Command{
	Use:           "help [command]",
	Short:         descShort,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	CurrentSession *DebugSession
)

// DebugSession 调试会话
type DebugSession struct {
	done   chan bool
	prefix string
	root   *cobra.Command
	liner  *liner.State
	last   string

	dbg    *debugger.Debugger
	syntax string
	out    io.Writer

	defers []func()
}

// NewDebugSession 创建一个debug专用的交互管理器
func NewDebugSession(dbg *debugger.Debugger, syntax string, out io.Writer) *DebugSession {

	fn := func(cmd *cobra.Command, args []string) {
		// 描述信息
		fmt.Fprintln(out, cmd.Short)
		fmt.Fprintln(out)

		// 使用信息
		fmt.Fprintln(out, cmd.Use)
		fmt.Fprintln(out, cmd.Flags().FlagUsages())

		// 命令分组
		usage := helpMessageByGroups(cmd)
		fmt.Fprintln(out, usage)
	}
	debugRootCmd.SetHelpFunc(fn)
	debugRootCmd.CompletionOptions.DisableDefaultCmd = true
	debugRootCmd.SetOut(out)
	debugRootCmd.SetErr(out)

	return &DebugSession{
		done:   make(chan bool),
		prefix: prefix,
		root:   debugRootCmd,
		last:   "",
		dbg:    dbg,
		syntax: syntax,
		out:    out,
	}
}

func (s *DebugSession) Start() {
	s.liner = liner.NewLiner()
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)
	s.liner.SetCtrlCAborts(true)

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()
	defer s.liner.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		// 上条命令执行期间到达的事件
		s.drainEvents()

		txt, err := s.liner.Prompt(s.prefix)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			// io.EOF, ctrl-d
			fmt.Fprintln(s.out)
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}
		if txt == "" {
			continue
		}
		s.Exec(txt)
	}
}

// Exec runs one command line.
func (s *DebugSession) Exec(txt string) {
	resetFlags(s.root)
	s.root.SetArgs(strings.Fields(txt))
	if err := s.root.Execute(); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

// resetFlags restores flag defaults, cobra keeps parsed values across Execute.
func resetFlags(root *cobra.Command) {
	for _, c := range root.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
}

func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

func (s *DebugSession) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *DebugSession) drainEvents() {
	for {
		select {
		case ev := <-s.dbg.Events():
			s.printEvent(ev)
		default:
			return
		}
	}
}

// waitStop blocks until a thread stops or a process exits.
func (s *DebugSession) waitStop() {
	for ev := range s.dbg.Events() {
		s.printEvent(ev)
		if ev.Kind != debugger.EventBreakpointFailure {
			return
		}
	}
}

func (s *DebugSession) printEvent(ev debugger.Event) {
	switch ev.Kind {
	case debugger.EventStop:
		if len(ev.Hits) == 0 {
			fmt.Fprintf(s.out, "thread %d stopped (%s) at %s\n", ev.Thread, ev.Exception, ev.Location)
			return
		}
		for _, bp := range ev.Hits {
			fmt.Fprintf(s.out, "breakpoint %d hit (%d times), thread %d at %s\n", bp.ID, bp.HitCount, ev.Thread, ev.Location)
		}
	case debugger.EventExit:
		fmt.Fprintf(s.out, "process %d exited with code %d\n", ev.Process, ev.ExitCode)
	case debugger.EventBreakpointFailure:
		for _, bp := range ev.Hits {
			fmt.Fprintf(s.out, "breakpoint %d (%s) disabled: %v\n", bp.ID, bp.Location, ev.Err)
		}
	}
}

func completer(line string) []string {
	cmds := []string{}
	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		var groupName string
		v, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		} else {
			groupName = v
		}

		groupCmds := groups[groupName]
		groupCmds = append(groupCmds, fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)

		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
