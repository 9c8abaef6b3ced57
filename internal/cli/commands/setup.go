// Package commands implements the fmdata CLI subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/fmdata/internal/cli/config"
	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Client   *client.Client
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a connected client.
// Returns the context and a cleanup function that must be called
// (typically via defer); cleanup releases the server session.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	c, err := newFMClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	cleanup := func() {
		_ = c.Logout(cmd.Context())
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Client:   c,
		Renderer: r,
	}, cleanup, nil
}

// NewCommandContextWithoutClient creates a CommandContext without a
// client. Useful for commands that never talk to a server.
func NewCommandContextWithoutClient(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to
// environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	return &config.Config{
		Host:           os.Getenv("FMDATA_HOST"),
		Database:       os.Getenv("FMDATA_DATABASE"),
		Username:       os.Getenv("FMDATA_USERNAME"),
		Password:       os.Getenv("FMDATA_PASSWORD"),
		APIVersion:     getEnvOrDefault("FMDATA_API_VERSION", config.DefaultAPIVersion),
		Timeout:        config.DefaultTimeout,
		ConnectTimeout: config.DefaultConnectTimeout,
		LoginCooldown:  config.DefaultLoginCooldown,
		Retries:        config.DefaultRetries,
		QueriesDir:     config.DefaultQueriesDir,
		OutputFormat:   getEnvOrDefault("FMDATA_OUTPUT", config.DefaultOutput),
		Verbose:        os.Getenv("FMDATA_VERBOSE") == "true",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// newFMClient validates the configuration and builds a Data API client
// from it. A missing password is prompted for on a terminal.
func newFMClient(cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	password := cfg.Password
	if password == "" {
		p, err := promptPassword(cfg)
		if err != nil {
			return nil, err
		}
		password = p
		// Keep the prompted password for endpoints that re-authenticate
		// directly, like the databases listing.
		cfg.Password = p
	}

	topts := []client.TransportOption{
		client.WithConnectTimeout(cfg.ConnectTimeout),
		client.WithReadTimeout(cfg.Timeout),
		client.WithTransportLogger(logger),
	}
	if cfg.Insecure {
		topts = append(topts, client.WithInsecureSkipVerify())
	}
	if cfg.Retries > 0 {
		topts = append(topts, client.WithRetries(uint64(cfg.Retries), 500*time.Millisecond))
	}
	transport, err := client.NewHTTPTransport(cfg.Host, topts...)
	if err != nil {
		return nil, err
	}

	return client.New(transport, cfg.Database,
		client.UsernamePassword{Username: cfg.Username, Password: password},
		client.WithAPIVersion(cfg.APIVersion),
		client.WithLoginCooldown(cfg.LoginCooldown),
		client.WithLogger(logger),
	), nil
}

// promptPassword reads the account password from the terminal. Refused
// off-terminal so scripts fail fast instead of hanging on a read.
func promptPassword(cfg *config.Config) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password configured for %s\nHint: set password in fmdata.yaml or FMDATA_PASSWORD", cfg.Host)
	}
	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", cfg.Username, cfg.Host)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

// managerOptions builds the manager options shared by record commands.
func managerOptions(cmdCtx *CommandContext, chunkSize int) []orm.ManagerOption {
	opts := []orm.ManagerOption{orm.WithLogger(cmdCtx.Logger)}
	if chunkSize > 0 {
		opts = append(opts, orm.WithChunkSize(chunkSize))
	}
	return opts
}

// =============================================================================
// Ad hoc models from layout metadata
// =============================================================================

// layoutModel builds a typed model from live layout metadata, so ad hoc
// commands get typed queries and decoding without a declared schema.
// Related fields (Table::field) on the layout body are skipped; portal
// metadata becomes portal sub-models keyed by the portal's layout name.
func layoutModel(layout string, meta *client.LayoutMetadata) (*orm.Model, error) {
	fields := orm.Fields{}
	taken := map[string]bool{}
	for _, fm := range meta.FieldMetaData {
		if strings.Contains(fm.Name, "::") {
			continue
		}
		name := accessorName(fm.Name, taken)
		taken[name] = true
		fields[name] = fieldDefFor(fm)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("layout %q has no usable fields", layout)
	}

	var portals []orm.PortalDef
	for _, portal := range slices.Sorted(maps.Keys(meta.PortalMetaData)) {
		rows := orm.Fields{}
		rowTaken := map[string]bool{}
		for _, fm := range meta.PortalMetaData[portal] {
			short := fm.Name
			if _, f, ok := strings.Cut(fm.Name, "::"); ok {
				short = f
			}
			name := accessorName(short, rowTaken)
			rowTaken[name] = true
			rows[name] = fieldDefFor(fm)
		}
		if len(rows) == 0 {
			continue
		}
		pname := accessorName(portal, taken)
		taken[pname] = true
		portals = append(portals, orm.Portal(pname, portal, rows))
	}
	return orm.Define(layout, fields, portals...)
}

// fieldDefFor maps FileMaker result types onto codecs. Numbers decode as
// floats because the metadata cannot distinguish integer fields.
func fieldDefFor(fm client.FieldMetadata) orm.FieldDef {
	switch fm.Result {
	case "number":
		return orm.Float(fm.Name)
	case "date":
		return orm.Date(fm.Name)
	case "time":
		return orm.Time(fm.Name)
	case "timeStamp":
		return orm.Timestamp(fm.Name)
	case "container":
		return orm.Container(fm.Name)
	default:
		return orm.Text(fm.Name)
	}
}

// accessorName derives a valid accessor from a FileMaker field name:
// lowercase, runs of other characters collapsed to single underscores,
// numeric suffix on collision.
func accessorName(remote string, taken map[string]bool) string {
	var b strings.Builder
	lastUnderscore := true // swallow leading underscores
	for _, r := range strings.ToLower(remote) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "field"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "f" + name
	}
	base := name
	for i := 2; taken[name] || reservedAccessor(name); i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	return name
}

// portalAccessor resolves a user-supplied portal name (the layout's
// portal name or its derived accessor) against the model's portals.
func portalAccessor(model *orm.Model, name string) (string, error) {
	cand := accessorName(name, map[string]bool{})
	for _, p := range model.PortalNames() {
		if p == name || p == cand {
			return p, nil
		}
	}
	if len(model.PortalNames()) == 0 {
		return "", fmt.Errorf("layout %q has no portals", model.Layout())
	}
	return "", fmt.Errorf("unknown portal %q, layout has: %s",
		name, strings.Join(model.PortalNames(), ", "))
}

// reservedAccessor mirrors the model's reserved name list.
func reservedAccessor(name string) bool {
	switch name {
	case "record_id", "mod_id", "portal_name", "table_occurrence", "model", "portal", "layout":
		return true
	}
	return false
}
