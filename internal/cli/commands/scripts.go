package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/client"
)

// NewScriptsCommand creates the scripts command.
func NewScriptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List scripts in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			r := cmdCtx.Renderer

			scripts, err := cmdCtx.Client.GetScripts(cmd.Context())
			if err != nil {
				return err
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]any{"scripts": scripts})
			}

			r.Header(1, fmt.Sprintf("Scripts (%d total)", countScripts(scripts)))
			printScriptTree(r, scripts, 0)
			return nil
		},
	}
}

func countScripts(infos []client.ScriptInfo) int {
	n := 0
	for _, info := range infos {
		if info.IsFolder {
			n += countScripts(info.FolderScriptNames)
			continue
		}
		n++
	}
	return n
}

func printScriptTree(r *output.Renderer, infos []client.ScriptInfo, depth int) {
	indent := strings.Repeat("  ", depth+1)
	for _, info := range infos {
		if info.IsFolder {
			r.Println(indent + info.Name + "/")
			printScriptTree(r, info.FolderScriptNames, depth+1)
			continue
		}
		r.Println(indent + info.Name)
	}
}
