package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// NewGlobalsCommand creates the globals command group.
func NewGlobalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "globals",
		Short: "Set global field values",
	}
	cmd.AddCommand(newGlobalsSetCommand())
	return cmd
}

func newGlobalsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field=value>...",
		Short: "Set global fields for the session",
		Long: `Set global field values. Globals hold for the rest of the session
and reset when it ends. Field names are fully qualified, as in
Globals::gDiscount.`,
		Example: `  fmdata globals set 'Globals::gDiscount=0.15' 'Globals::gRegion=EU'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			globals := make(map[string]any, len(args))
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok || name == "" {
					return core.Validationf("malformed global %q, expected field=value", arg)
				}
				globals[name] = value
			}

			if err := cmdCtx.Client.SetGlobals(cmd.Context(), globals); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Set " + plural(len(globals), "global field"))
			return nil
		},
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
