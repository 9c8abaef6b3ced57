package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// NewRecordsCommand creates the records command.
func NewRecordsCommand() *cobra.Command {
	var (
		offset    int
		limit     int
		sortSpec  string
		chunkSize int
		portals   []string
	)

	cmd := &cobra.Command{
		Use:   "records <layout>",
		Short: "List a layout's records",
		Long: `List records from a layout, windowed by --offset and --limit.

Sort fields are comma separated; a leading - sorts descending. Field
names are the layout's field names, lowercased with punctuation
collapsed to underscores.`,
		Example: `  # First 20 contacts
  fmdata records Contacts --limit 20

  # Oldest first, page two
  fmdata records Contacts --sort -age --offset 20 --limit 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			meta, err := cmdCtx.Client.GetLayoutMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			model, err := layoutModel(args[0], meta)
			if err != nil {
				return err
			}

			mgr := orm.NewManager(cmdCtx.Client, model, managerOptions(cmdCtx, chunkSize)...)
			q := mgr.Query()
			if sortSpec != "" {
				q = q.OrderBy(splitSort(sortSpec)...)
			}
			for _, spec := range portals {
				portal, po, pl, err := parsePrefetch(spec)
				if err != nil {
					return err
				}
				name, err := portalAccessor(model, portal)
				if err != nil {
					return err
				}
				q = q.Prefetch(name, po, pl)
			}
			// Slice freezes the query shape, so it goes last.
			q = q.Slice(offset, offset+limit)

			fs, err := q.Execute(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := fs.Records()
			if err != nil {
				return err
			}
			return renderRecords(cmdCtx.Renderer, model, recs)
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Number of records to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of records to return")
	cmd.Flags().StringVar(&sortSpec, "sort", "", "Comma-separated sort fields, prefix - for descending")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Records fetched per request (0 uses the default)")
	cmd.Flags().StringArrayVar(&portals, "portal", nil, "Portal to prefetch with each record, portal[:offset:limit] (repeatable)")

	return cmd
}

func splitSort(spec string) []string {
	parts := strings.Split(spec, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
