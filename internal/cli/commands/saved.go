package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/internal/macro"
)

// NewSavedCommand creates the saved command group.
func NewSavedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage saved queries",
		Long: `Saved queries are Starlark functions in the queries directory that
return criteria shorthand. Run one with find --saved.`,
	}
	cmd.AddCommand(newSavedListCommand())
	return cmd
}

func newSavedListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutClient(cmd)
			r := cmdCtx.Renderer

			set, err := macro.Load(cmdCtx.Cfg.QueriesDir)
			if err != nil {
				return err
			}
			infos := set.Queries()

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]any{"queries": infos})
			}

			if len(infos) == 0 {
				r.Muted("No saved queries in " + cmdCtx.Cfg.QueriesDir)
				return nil
			}

			tab := r.Table()
			tab.AppendHeader(table.Row{"Query", "File", "Doc"})
			for _, qi := range infos {
				tab.AppendRow(table.Row{qi.Signature(), qi.File, qi.Doc})
			}
			if r.EffectiveMode() == output.ModeMarkdown {
				tab.RenderMarkdown()
				return nil
			}
			tab.Render()
			return nil
		},
	}
}
