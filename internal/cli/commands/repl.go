package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive query session",
		Long: `An interactive session against the configured database. Pick a
layout with use, then find, get and count against it. Type .help
inside the session for the command list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return runREPL(cmd, cmdCtx)
		},
	}
}

// replSession is the state of one interactive session: the selected
// layout's model and manager, and the output mode.
type replSession struct {
	cmd    *cobra.Command
	cmdCtx *CommandContext
	layout string
	model  *orm.Model
	mgr    *orm.Manager
	mode   output.OutputMode
}

func runREPL(cmd *cobra.Command, cmdCtx *CommandContext) error {
	layouts := layoutNames(cmd, cmdCtx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "fmdata> ",
		HistoryFile:     ".fmdata_history",
		AutoComplete:    newREPLCompleter(layouts),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("initialize repl: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "fmdata session (%s)\n", cmdCtx.Client)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	s := &replSession{
		cmd:    cmd,
		cmdCtx: cmdCtx,
		mode:   output.Mode(cmdCtx.Cfg.OutputFormat),
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ".quit" || line == ".exit" {
			break
		}
		if strings.HasPrefix(line, ".") {
			s.handleDotCommand(line)
			continue
		}
		if err := s.handleCommand(line); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		if s.layout != "" {
			rl.SetPrompt("fmdata[" + s.layout + "]> ")
		}
	}
	return nil
}

func (s *replSession) handleDotCommand(line string) {
	errOut := s.cmd.ErrOrStderr()
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".help":
		printREPLHelp(s.cmd.OutOrStdout())
	case ".format":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(errOut, "Current format: %s (usage: .format text|markdown|json)\n", s.mode)
			return
		}
		s.mode = output.Mode(parts[1])
	case ".clear":
		fmt.Print("\033[H\033[2J")
	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
}

func (s *replSession) handleCommand(line string) error {
	parts := strings.Fields(line)
	verb, args := strings.ToLower(parts[0]), parts[1:]

	switch verb {
	case "use":
		if len(args) != 1 {
			return fmt.Errorf("usage: use <layout>")
		}
		return s.useLayout(args[0])
	case "layouts":
		r := s.renderer()
		for _, name := range layoutNames(s.cmd, s.cmdCtx) {
			r.Println("  " + name)
		}
		return nil
	case "find":
		return s.find(args)
	case "count":
		q, err := s.query(args)
		if err != nil {
			return err
		}
		n, err := q.Count(s.cmd.Context())
		if err != nil {
			return err
		}
		s.renderer().Printf("%d\n", n)
		return nil
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <record-id>")
		}
		if s.mgr == nil {
			return fmt.Errorf("no layout selected, run: use <layout>")
		}
		rec, err := s.mgr.Get(s.cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return renderRecords(s.renderer(), s.model, []*orm.Record{rec})
	default:
		return fmt.Errorf("unknown command %q (type .help for commands)", verb)
	}
}

func (s *replSession) useLayout(layout string) error {
	mgr, err := layoutManager(s.cmd, s.cmdCtx, layout)
	if err != nil {
		return err
	}
	s.layout = layout
	s.model = mgr.Model()
	s.mgr = mgr
	s.renderer().Printf("Using %s (%d fields)\n", layout, len(s.model.FieldNames()))
	return nil
}

// query builds a find from space-separated field__op=value expressions.
func (s *replSession) query(exprs []string) (*orm.Query, error) {
	if s.mgr == nil {
		return nil, fmt.Errorf("no layout selected, run: use <layout>")
	}
	q := s.mgr.Query()
	criteria, err := parseCriteria(s.model, exprs)
	if err != nil {
		return nil, err
	}
	if len(criteria) > 0 {
		q = q.Find(criteria...)
	}
	return q, nil
}

func (s *replSession) find(exprs []string) error {
	q, err := s.query(exprs)
	if err != nil {
		return err
	}
	fs, err := q.Slice(0, replFindLimit).Execute(s.cmd.Context())
	if err != nil {
		return err
	}
	recs, err := fs.Records()
	if err != nil {
		return err
	}
	return renderRecords(s.renderer(), s.model, recs)
}

// replFindLimit caps interactive finds so a bare find on a big layout
// stays responsive.
const replFindLimit = 50

func (s *replSession) renderer() *output.Renderer {
	return output.NewRenderer(s.cmd.OutOrStdout(), s.cmd.ErrOrStderr(), s.mode)
}

func layoutNames(cmd *cobra.Command, cmdCtx *CommandContext) []string {
	infos, err := cmdCtx.Client.GetLayouts(cmd.Context())
	if err != nil {
		return nil
	}
	return flattenLayouts(infos)
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  use <layout>         Select the layout to query
  layouts              List layouts
  find [expr...]       Find records, e.g. find age__gte=18
  count [expr...]      Count matching records
  get <record-id>      Fetch one record by ID
  .format <mode>       Switch output: text, markdown or json
  .clear               Clear the screen
  .help                Show this help message
  .quit / .exit        Exit the session

Tips:
  - Expressions use find's field__op=value syntax
  - Tab completion works for layout names
`
	_, _ = fmt.Fprintln(w, help)
}

// newREPLCompleter builds tab completion over layout names and the
// session commands.
func newREPLCompleter(layouts []string) *readline.PrefixCompleter {
	layoutItems := make([]readline.PrefixCompleterInterface, 0, len(layouts))
	for _, name := range layouts {
		layoutItems = append(layoutItems, readline.PcItem(name))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("use", layoutItems...),
		readline.PcItem("layouts"),
		readline.PcItem("find"),
		readline.PcItem("count"),
		readline.PcItem("get"),
		readline.PcItem(".format",
			readline.PcItem("text"),
			readline.PcItem("markdown"),
			readline.PcItem("json"),
		),
		readline.PcItem(".clear"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
