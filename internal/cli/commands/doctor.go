package commands

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/config"
	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format string // Output format: text, json
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run a connection health check",
		Long: `Check that fmdata can reach and use the configured server.

The doctor command walks the connection layers in order and reports each
one: configuration, server reachability, account login, database
visibility, and layout and script metadata.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  fmdata doctor

  # Check the prod target
  fmdata doctor --target prod

  # Output as JSON
  fmdata doctor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, json")

	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Host            string        `json:"host"`
	Database        string        `json:"database"`
	Target          string        `json:"target,omitempty"`
	Checks          []HealthCheck `json:"checks"`
	Healthy         bool          `json:"healthy"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "success", "failed", "skipped"
	Detail string `json:"detail,omitempty"`
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	// Override renderer if format flag is set
	if opts.Format != "" {
		r = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(opts.Format))
	}

	doctorOutput := collectDoctorOutput(cmd, cmdCtx)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(doctorOutput)
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, doctorOutput)
	default:
		renderDoctorText(r, doctorOutput)
	}
	if !doctorOutput.Healthy {
		return fmt.Errorf("%d check(s) failed against %s", failedCount(doctorOutput.Checks), cfg.Host)
	}
	return nil
}

func collectDoctorOutput(cmd *cobra.Command, cmdCtx *CommandContext) *DoctorOutput {
	cfg := cmdCtx.Cfg
	c := cmdCtx.Client
	ctx := cmd.Context()

	out := &DoctorOutput{
		Host:     cfg.Host,
		Database: cfg.Database,
		Target:   cfg.TargetName,
	}
	check := func(name, detail string, err error) bool {
		hc := HealthCheck{Name: name, Status: "success", Detail: detail}
		if err != nil {
			hc.Status = "failed"
			hc.Detail = err.Error()
			if rec := doctorRecommendation(err); rec != "" {
				out.Recommendations = append(out.Recommendations, rec)
			}
		}
		out.Checks = append(out.Checks, hc)
		return err == nil
	}

	detail := "defaults only"
	if f := config.GetConfigFileUsed(); f != "" {
		detail = f
	}
	check("configuration", detail, nil)

	info, err := c.GetProductInfo(ctx)
	serverDetail := ""
	if err == nil {
		serverDetail = strings.TrimSpace(info.Name + " " + info.Version)
	}
	if !check("server", serverDetail, err) {
		// Nothing below can work without the server.
		out.Healthy = false
		return out
	}

	loginOK := check("login", "session established", c.Login(ctx))

	if loginOK {
		layouts, err := c.GetLayouts(ctx)
		check("layouts", fmt.Sprintf("%d visible", countLayouts(layouts)), err)

		scripts, err := c.GetScripts(ctx)
		check("scripts", fmt.Sprintf("%d visible", len(scripts)), err)
	}

	out.Healthy = failedCount(out.Checks) == 0
	return out
}

// countLayouts counts layouts recursively, skipping folder entries.
func countLayouts(infos []client.LayoutInfo) int {
	n := 0
	for _, info := range infos {
		if info.IsFolder {
			n += countLayouts(info.FolderLayoutNames)
			continue
		}
		n++
	}
	return n
}

func failedCount(checks []HealthCheck) int {
	n := 0
	for _, hc := range checks {
		if hc.Status == "failed" {
			n++
		}
	}
	return n
}

// doctorRecommendation maps common failure codes to a next step.
func doctorRecommendation(err error) string {
	switch {
	case core.HasCode(err, core.CodeInvalidAccount):
		return "Check username and password; the account needs the fmrest extended privilege"
	case core.HasCode(err, core.CodeFileMissing):
		return "Check the database name; it must match the hosted file without the .fmp12 suffix"
	default:
		return ""
	}
}

var titleCaser = cases.Title(language.English)

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	r.Header(1, "fmdata doctor")
	r.Printf("Host:     %s\n", out.Host)
	r.Printf("Database: %s\n", out.Database)
	if out.Target != "" {
		r.Printf("Target:   %s\n", out.Target)
	}
	r.Println("")
	for _, hc := range out.Checks {
		r.StatusLine(titleCaser.String(hc.Name), hc.Status, hc.Detail)
	}
	r.Println("")
	if out.Healthy {
		r.Success("All checks passed")
	} else {
		r.Warning(fmt.Sprintf("%d check(s) failed", failedCount(out.Checks)))
		for _, rec := range out.Recommendations {
			r.Println("  - " + rec)
		}
	}
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println(output.FormatHeader(1, "fmdata doctor"))
	r.Println("")
	r.Println(output.FormatKeyValue("Host", out.Host))
	r.Println(output.FormatKeyValue("Database", out.Database))
	if out.Target != "" {
		r.Println(output.FormatKeyValue("Target", out.Target))
	}
	r.Println("")
	r.Println(output.FormatHeader(2, "Checks"))
	r.Println("")
	for _, hc := range out.Checks {
		r.StatusLine(titleCaser.String(hc.Name), hc.Status, hc.Detail)
	}
	if len(out.Recommendations) > 0 {
		r.Println("")
		r.Println(output.FormatHeader(2, "Recommendations"))
		r.Println("")
		for _, rec := range out.Recommendations {
			r.Println("- " + rec)
		}
	}
}
