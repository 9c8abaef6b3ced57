package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewContainerCommand creates the container command group.
func NewContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Work with container fields",
	}
	cmd.AddCommand(newContainerUploadCommand())
	return cmd
}

func newContainerUploadCommand() *cobra.Command {
	var repetition int

	cmd := &cobra.Command{
		Use:   "upload <layout> <record-id> <field> <file>",
		Short: "Upload a file into a container field",
		Example: `  fmdata container upload Contacts 17 photo ./avatar.png`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			f, err := os.Open(args[3])
			if err != nil {
				return err
			}
			defer f.Close()

			filename := filepath.Base(args[3])
			err = cmdCtx.Client.UploadContainer(cmd.Context(),
				args[0], args[1], args[2], repetition, filename, f)
			if err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Uploaded " + filename + " into " + args[2])
			return nil
		},
	}

	cmd.Flags().IntVar(&repetition, "repetition", 1, "Container field repetition")

	return cmd
}
