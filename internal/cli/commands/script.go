package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// NewScriptCommand creates the script command group.
func NewScriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Run FileMaker scripts",
	}
	cmd.AddCommand(newScriptRunCommand())
	return cmd
}

func newScriptRunCommand() *cobra.Command {
	var (
		layout string
		param  string
	)

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a script and print its result",
		Long: `Run a named FileMaker script. Scripts execute in a layout context;
--layout names it. The script's text result, if any, is printed.`,
		Example: `  fmdata script run "Nightly Cleanup" --layout Contacts --param dry-run`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			r := cmdCtx.Renderer

			if layout == "" {
				return core.Validationf("script run needs --layout")
			}

			outcome, err := cmdCtx.Client.PerformScript(cmd.Context(), layout, args[0], param)
			if err != nil {
				return err
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]any{
					"script": args[0],
					"error":  outcome.Error,
					"result": outcome.Result,
				})
			}
			if outcome.Error != "" && outcome.Error != "0" {
				return core.Validationf("script %q finished with error %s", args[0], outcome.Error)
			}
			if outcome.Result != "" {
				r.Println(outcome.Result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layout, "layout", "", "Layout context for the script")
	cmd.Flags().StringVar(&param, "param", "", "Script parameter")

	return cmd
}
