package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// NewRecordCommand creates the record command group.
func NewRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Work with single records",
	}
	cmd.AddCommand(
		newRecordGetCommand(),
		newRecordCreateCommand(),
		newRecordEditCommand(),
		newRecordDeleteCommand(),
		newRecordDuplicateCommand(),
	)
	return cmd
}

func newRecordGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <layout> <record-id>",
		Short: "Fetch one record by its record ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			mgr, err := layoutManager(cmd, cmdCtx, args[0])
			if err != nil {
				return err
			}
			rec, err := mgr.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return renderRecords(cmdCtx.Renderer, mgr.Model(), []*orm.Record{rec})
		},
	}
}

func newRecordCreateCommand() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "create <layout>",
		Short: "Create a record",
		Example: `  fmdata record create Contacts --field name=Bob --field age=42`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			mgr, err := layoutManager(cmd, cmdCtx, args[0])
			if err != nil {
				return err
			}
			rec := mgr.NewRecord()
			if err := setFields(mgr.Model(), rec, fields); err != nil {
				return err
			}
			if err := mgr.Create(cmd.Context(), rec); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Created record " + rec.RecordID())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field value as name=value (repeatable)")

	return cmd
}

func newRecordEditCommand() *cobra.Command {
	var (
		fields []string
		modID  string
	)

	cmd := &cobra.Command{
		Use:   "edit <layout> <record-id>",
		Short: "Edit a record's fields",
		Long: `Edit a record. With --mod-id the edit only applies if the record
has not been modified since that modification ID was read; a stale ID
fails instead of overwriting newer data.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			mgr, err := layoutManager(cmd, cmdCtx, args[0])
			if err != nil {
				return err
			}
			rec, err := mgr.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if modID != "" && rec.ModID() != modID {
				return core.Validationf("record %s is at mod_id %s, expected %s",
					args[1], rec.ModID(), modID)
			}
			if err := setFields(mgr.Model(), rec, fields); err != nil {
				return err
			}

			var opts []orm.SaveOption
			if modID != "" {
				opts = append(opts, orm.CheckModID())
			}
			if err := mgr.Save(cmd.Context(), rec, opts...); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Updated record " + rec.RecordID() + " (mod_id " + rec.ModID() + ")")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field value as name=value (repeatable)")
	cmd.Flags().StringVar(&modID, "mod-id", "", "Only edit if the record is still at this modification ID")

	return cmd
}

func newRecordDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <layout> <record-id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Client.DeleteRecord(cmd.Context(), args[0], args[1], client.Scripts{}); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Deleted record " + args[1])
			return nil
		},
	}
}

func newRecordDuplicateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <layout> <record-id>",
		Short: "Duplicate a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := cmdCtx.Client.DuplicateRecord(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Created record " + resp.RecordID)
			return nil
		},
	}
}

// layoutManager builds an ad hoc manager for one layout.
func layoutManager(cmd *cobra.Command, cmdCtx *CommandContext, layout string) (*orm.Manager, error) {
	meta, err := cmdCtx.Client.GetLayoutMetadata(cmd.Context(), layout)
	if err != nil {
		return nil, err
	}
	model, err := layoutModel(layout, meta)
	if err != nil {
		return nil, err
	}
	return orm.NewManager(cmdCtx.Client, model, orm.WithLogger(cmdCtx.Logger)), nil
}

// setFields applies name=value pairs to a record, coercing values to
// each field's wire type.
func setFields(model *orm.Model, rec *orm.Record, pairs []string) error {
	if len(pairs) == 0 {
		return core.Validationf("no fields given, use --field name=value")
	}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return core.Validationf("malformed field %q, expected name=value", pair)
		}
		column, err := fieldColumn(model, name)
		if err != nil {
			return err
		}
		v, err := coerceValue(column, raw)
		if err != nil {
			return err
		}
		if err := rec.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}
