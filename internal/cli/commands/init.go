package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/fmdata/internal/cli/config"
	"github.com/leapstack-labs/fmdata/internal/cli/output"
)

// starterQuery is the example saved query written by init.
const starterQuery = `# Saved queries are Starlark functions that return a find shorthand.
# Run one with: fmdata find <layout> --saved adults --arg min_age=21

def adults(min_age=18):
    """Contacts at or above a minimum age."""
    return {
        "age__gte": min_age,
        "sort": ["-age"],
    }
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize an fmdata project",
		Long: `Initialize an fmdata project with a starter configuration.

This creates:
  - fmdata.yaml configuration file with a dev and a prod target
  - queries/ directory with an example saved query`,
		Example: `  # Initialize in current directory
  fmdata init

  # Initialize in a new directory
  fmdata init my-project

  # Force overwrite existing config
  fmdata init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			// Create renderer
			cfg := getConfig()
			mode := output.Mode(cfg.OutputFormat)
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "fmdata.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("fmdata.yaml already exists. Use --force to overwrite")
	}

	starter := map[string]any{
		"host":        "https://fms.example.com",
		"database":    "MyDatabase",
		"username":    "api_user",
		"password":    "${FMDATA_PASSWORD}",
		"api_version": config.DefaultAPIVersion,
		"timeout":     config.DefaultTimeout.String(),
		"queries_dir": config.DefaultQueriesDir,
		"targets": map[string]any{
			"dev": map[string]any{
				"host":     "https://fms-dev.example.com",
				"insecure": true,
			},
			"prod": map[string]any{
				"host": "https://fms.example.com",
			},
		},
	}
	raw, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(configPath, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	queriesDir := filepath.Join(dir, config.DefaultQueriesDir)
	if err := os.MkdirAll(queriesDir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", queriesDir, err)
	}
	queryPath := filepath.Join(queriesDir, "adults.star")
	if _, err := os.Stat(queryPath); err != nil || force {
		if err := os.WriteFile(queryPath, []byte(starterQuery), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", queryPath, err)
		}
	}

	r.Header(2, "Configuration")
	r.StatusLine("fmdata.yaml", "success", "")
	r.Header(2, "Saved queries")
	r.StatusLine(filepath.Join(config.DefaultQueriesDir, "adults.star"), "success", "")

	r.Println("")
	r.Success("fmdata project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Edit fmdata.yaml with your server and account")
	r.Println("  2. Run 'fmdata doctor' to check the connection")
	r.Println("  3. Run 'fmdata layouts' to browse the database")

	return nil
}
