package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/client"
)

// NewLayoutsCommand creates the layouts command.
func NewLayoutsCommand() *cobra.Command {
	var withFields bool

	cmd := &cobra.Command{
		Use:   "layouts [layout]",
		Short: "List layouts, or show one layout's fields",
		Long: `List the database's layouts, folders included.

With a layout name, show that layout's field metadata instead: field
names, types and value lists. --fields adds field metadata to every
layout in the listing.`,
		Example: `  # List all layouts
  fmdata layouts

  # Show the fields of one layout
  fmdata layouts Contacts`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				return runLayoutDetail(cmd, cmdCtx, args[0])
			}
			return runLayoutList(cmd, cmdCtx, withFields)
		},
	}

	cmd.Flags().BoolVar(&withFields, "fields", false, "Include field metadata for every layout")

	return cmd
}

func runLayoutList(cmd *cobra.Command, cmdCtx *CommandContext, withFields bool) error {
	r := cmdCtx.Renderer
	layouts, err := cmdCtx.Client.GetLayouts(cmd.Context())
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"layouts": layouts})
	}

	r.Header(1, fmt.Sprintf("Layouts (%d total)", countLayouts(layouts)))
	printLayoutTree(r, layouts, 0)

	if !withFields {
		return nil
	}
	for _, name := range flattenLayouts(layouts) {
		meta, err := cmdCtx.Client.GetLayoutMetadata(cmd.Context(), name)
		if err != nil {
			return err
		}
		r.Println("")
		r.Header(2, name)
		renderFieldTable(r, meta)
	}
	return nil
}

func runLayoutDetail(cmd *cobra.Command, cmdCtx *CommandContext, layout string) error {
	r := cmdCtx.Renderer
	meta, err := cmdCtx.Client.GetLayoutMetadata(cmd.Context(), layout)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(meta)
	}

	r.Header(1, layout)
	renderFieldTable(r, meta)

	for portal, fields := range meta.PortalMetaData {
		r.Println("")
		r.Header(2, "Portal: "+portal)
		renderFieldTable(r, &client.LayoutMetadata{FieldMetaData: fields})
	}

	if len(meta.ValueLists) > 0 {
		r.Println("")
		r.Header(2, "Value lists")
		for _, vl := range meta.ValueLists {
			values := make([]string, 0, len(vl.Values))
			for _, v := range vl.Values {
				values = append(values, v.Value)
			}
			r.Println(output.FormatKeyValue(vl.Name, strings.Join(values, ", ")))
		}
	}
	return nil
}

func renderFieldTable(r *output.Renderer, meta *client.LayoutMetadata) {
	tab := r.Table()
	tab.AppendHeader(table.Row{"Field", "Type", "Result", "Global"})
	for _, fm := range meta.FieldMetaData {
		global := ""
		if fm.Global {
			global = "yes"
		}
		tab.AppendRow(table.Row{fm.Name, fm.Type, fm.Result, global})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		tab.RenderMarkdown()
		return
	}
	tab.Render()
}

func printLayoutTree(r *output.Renderer, infos []client.LayoutInfo, depth int) {
	indent := strings.Repeat("  ", depth+1)
	for _, info := range infos {
		if info.IsFolder {
			r.Println(indent + info.Name + "/")
			printLayoutTree(r, info.FolderLayoutNames, depth+1)
			continue
		}
		r.Println(indent + info.Name)
	}
}

func flattenLayouts(infos []client.LayoutInfo) []string {
	var out []string
	for _, info := range infos {
		if info.IsFolder {
			out = append(out, flattenLayouts(info.FolderLayoutNames)...)
			continue
		}
		out = append(out, info.Name)
	}
	return out
}
