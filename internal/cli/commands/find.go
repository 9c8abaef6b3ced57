package commands

import (
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/macro"
	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// NewFindCommand creates the find command.
func NewFindCommand() *cobra.Command {
	var (
		wheres    []string
		omits     []string
		sortSpec  string
		offset    int
		limit     int
		prefetch  []string
		chunkSize int
		countOnly bool
		saved     string
		savedArgs []string
		script    string
		scriptArg string
	)

	cmd := &cobra.Command{
		Use:   "find <layout>",
		Short: "Find records matching criteria",
		Long: `Find records on a layout. Each --where is one criterion in
field__op=value form; criteria are combined with AND. Each --omit is a
criterion whose matches are excluded from the result.

Operators: exact (default), startswith, endswith, contains, gt, gte,
lt, lte, range (lo...hi), empty, notempty, blank, raw.

--saved runs a saved query from the queries directory instead;
--arg passes its parameters.`,
		Example: `  # Adults named Bo-something
  fmdata find Contacts --where 'age__gte=18' --where 'name__startswith=Bo'

  # Everyone except retirees, youngest first
  fmdata find Contacts --where 'age__gte=0' --omit 'age__gte=65' --sort age

  # A saved query with an argument
  fmdata find Contacts --saved adults --arg min_age=21`,
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

			savedLimit := 0
			if saved != "" {
				set, err := macro.Load(cmdCtx.Cfg.QueriesDir)
				if err != nil {
					return err
				}
				shorthand, err := set.Run(saved, parsePairs(savedArgs))
				if err != nil {
					return err
				}
				if q, savedLimit, err = applyShorthand(model, q, shorthand); err != nil {
					return err
				}
			}

			criteria, err := parseCriteria(model, wheres)
			if err != nil {
				return err
			}
			if len(criteria) > 0 {
				q = q.Find(criteria...)
			}
			for _, expr := range omits {
				c, err := parseCriterion(model, expr)
				if err != nil {
					return err
				}
				q = q.Omit(c)
			}

			if sortSpec != "" {
				q = q.OrderBy(splitSort(sortSpec)...)
			}
			for _, spec := range prefetch {
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
			if script != "" {
				q = q.AfterScript(script, scriptArg)
			}
			// Slices freeze the query shape, so they go last; a saved
			// query's limit composes with the flag window.
			if savedLimit > 0 {
				q = q.Slice(0, savedLimit)
			}
			if offset > 0 || limit > 0 {
				end := offset + limit
				if limit <= 0 {
					end = math.MaxInt
				}
				q = q.Slice(offset, end)
			}

			if countOnly {
				n, err := q.Count(cmd.Context())
				if err != nil {
					return err
				}
				cmdCtx.Renderer.Printf("%d\n", n)
				return nil
			}

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

	cmd.Flags().StringArrayVar(&wheres, "where", nil, "Criterion in field__op=value form (repeatable, ANDed)")
	cmd.Flags().StringArrayVar(&omits, "omit", nil, "Criterion whose matches are excluded (repeatable)")
	cmd.Flags().StringVar(&sortSpec, "sort", "", "Comma-separated sort fields, prefix - for descending")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of matching records to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records to return (0 for all)")
	cmd.Flags().StringArrayVar(&prefetch, "prefetch", nil, "Portal rows to prefetch, as portal[:offset:limit]")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Records fetched per request (0 uses the default)")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print the match count instead of records")
	cmd.Flags().StringVar(&saved, "saved", "", "Run a saved query by name")
	cmd.Flags().StringArrayVar(&savedArgs, "arg", nil, "Saved query argument as name=value (repeatable)")
	cmd.Flags().StringVar(&script, "script", "", "Script to run after the find")
	cmd.Flags().StringVar(&scriptArg, "script-param", "", "Parameter for --script")

	return cmd
}

// parsePrefetch parses "portal", "portal:limit" or "portal:offset:limit".
func parsePrefetch(spec string) (portal string, offset, limit int, err error) {
	parts := strings.Split(spec, ":")
	portal = parts[0]
	if portal == "" {
		return "", 0, 0, core.Validationf("prefetch %q has no portal name", spec)
	}
	switch len(parts) {
	case 1:
		return portal, 0, 0, nil
	case 2:
		limit, err = strconv.Atoi(parts[1])
	case 3:
		if offset, err = strconv.Atoi(parts[1]); err == nil {
			limit, err = strconv.Atoi(parts[2])
		}
	default:
		err = core.Validationf("prefetch %q, expected portal[:offset:limit]", spec)
	}
	if err != nil {
		return "", 0, 0, core.Validationf("prefetch %q: %v", spec, err)
	}
	return portal, offset, limit, nil
}

// parsePairs splits name=value strings into a map. Malformed entries
// keep an empty value so the saved query reports the missing argument.
func parsePairs(args []string) map[string]string {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, _ := strings.Cut(arg, "=")
		out[k] = v
	}
	return out
}
