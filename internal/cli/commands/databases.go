package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
)

// NewDatabasesCommand creates the databases command.
func NewDatabasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases hosted on the server",
		Long: `List the databases the configured account can see.

This endpoint authenticates with the account credentials directly and
does not open a session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			r := cmdCtx.Renderer

			names, err := cmdCtx.Client.GetDatabases(cmd.Context(), cmdCtx.Cfg.Username, cmdCtx.Cfg.Password)
			if err != nil {
				return err
			}

			switch r.EffectiveMode() {
			case output.ModeJSON:
				return r.JSON(map[string]any{"databases": names})
			case output.ModeMarkdown:
				r.Println(output.FormatHeader(1, "Databases"))
				r.Println("")
				for _, name := range names {
					r.Println("- " + name)
				}
			default:
				r.Header(1, "Databases")
				for _, name := range names {
					r.Println("  " + name)
				}
			}
			return nil
		},
	}
}
