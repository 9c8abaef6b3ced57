// Package output renders CLI output in text, markdown or JSON form.
//
// Text mode targets an interactive terminal and uses lipgloss styling;
// markdown mode produces plain pipeable output; JSON mode emits machine
// readable documents. Auto mode picks text on a TTY and markdown
// otherwise, so piping fmdata into a file or another tool never captures
// escape codes.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// OutputMode selects how a renderer formats its output.
type OutputMode string

const (
	ModeAuto     OutputMode = "auto"
	ModeText     OutputMode = "text"
	ModeMarkdown OutputMode = "markdown"
	ModeJSON     OutputMode = "json"
)

// Mode normalizes a user-supplied format string to an OutputMode.
// Unrecognized values fall back to auto.
func Mode(s string) OutputMode {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText:
		return ModeText
	case ModeMarkdown:
		return ModeMarkdown
	case ModeJSON:
		return ModeJSON
	default:
		return ModeAuto
	}
}

// Styles holds the lipgloss styles used for text output.
type Styles struct {
	Header1       lipgloss.Style
	Header2       lipgloss.Style
	Bold          lipgloss.Style
	Muted         lipgloss.Style
	Info          lipgloss.Style
	Success       lipgloss.Style
	Warning       lipgloss.Style
	Error         lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header1:       r.NewStyle().Bold(true).Underline(true),
		Header2:       r.NewStyle().Bold(true),
		Bold:          r.NewStyle().Bold(true),
		Muted:         r.NewStyle().Foreground(lipgloss.Color("8")),
		Info:          r.NewStyle().Foreground(lipgloss.Color("12")),
		Success:       r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:       r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:         r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		StatusSuccess: r.NewStyle().Foreground(lipgloss.Color("10")),
		StatusFailed:  r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// Renderer writes command output in one mode to a pair of streams.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   OutputMode
	styles Styles
}

// NewRenderer creates a renderer, detecting TTY state from the output
// writer.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return NewRendererWithTTY(out, errOut, isTTY, mode)
}

// NewRendererWithTTY creates a renderer with an explicit TTY state. Tests
// use it to pin down mode resolution regardless of how they are run.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	lr := lipgloss.NewRenderer(out)
	if !isTTY {
		// No escape codes on pipes and files.
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		isTTY:  isTTY,
		mode:   mode,
		styles: newStyles(lr),
	}
}

// EffectiveMode resolves auto to text on a TTY and markdown otherwise.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// IsTTY reports whether output goes to an interactive terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Writer returns the underlying output stream, for writers that render
// their own bytes (tables, raw JSON, CSV).
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns the error stream.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// Styles returns the renderer's style set.
func (r *Renderer) Styles() Styles { return r.styles }

// Println writes a line to the output stream.
func (r *Renderer) Println(args ...any) {
	fmt.Fprintln(r.out, args...)
}

// Printf writes formatted text to the output stream.
func (r *Renderer) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Error writes an error line to the error stream.
func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.errOut, r.styles.Error.Render("Error:"), msg)
}

// Success writes a success line.
func (r *Renderer) Success(msg string) {
	if r.EffectiveMode() == ModeMarkdown {
		fmt.Fprintln(r.out, "**"+msg+"**")
		return
	}
	fmt.Fprintln(r.out, r.styles.Success.Render("✓"), msg)
}

// Warning writes a warning line.
func (r *Renderer) Warning(msg string) {
	if r.EffectiveMode() == ModeMarkdown {
		fmt.Fprintln(r.out, "Warning: "+msg)
		return
	}
	fmt.Fprintln(r.out, r.styles.Warning.Render("!"), msg)
}

// Muted writes a de-emphasized line.
func (r *Renderer) Muted(msg string) {
	fmt.Fprintln(r.out, r.styles.Muted.Render(msg))
}

// Header writes a section header at the given level.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		fmt.Fprintln(r.out, FormatHeader(level, text))
		fmt.Fprintln(r.out)
		return
	}
	style := r.styles.Header2
	if level <= 1 {
		style = r.styles.Header1
	}
	fmt.Fprintln(r.out, style.Render(text))
}

// StatusLine writes one "name: status" line, styled by status in text
// mode. Status is "success", "failed" or anything else (rendered muted).
func (r *Renderer) StatusLine(name, status, detail string) {
	if r.EffectiveMode() == ModeMarkdown {
		line := "- " + name + ": " + status
		if detail != "" {
			line += " (" + detail + ")"
		}
		fmt.Fprintln(r.out, line)
		return
	}
	var marker string
	switch status {
	case "success":
		marker = r.styles.StatusSuccess.Render("✓")
	case "failed":
		marker = r.styles.StatusFailed.Render("✗")
	default:
		marker = r.styles.Muted.Render("-")
	}
	line := "  " + marker + " " + name
	if detail != "" {
		line += " " + r.styles.Muted.Render("("+detail+")")
	}
	fmt.Fprintln(r.out, line)
}

// JSON writes v as an indented JSON document.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table returns a table writer mirrored to the output stream, styled for
// the effective mode: box drawing on a terminal, pipe-delimited markdown
// elsewhere.
func (r *Renderer) Table() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	if r.EffectiveMode() == ModeText {
		t.SetStyle(table.StyleLight)
	}
	return t
}

// =============================================================================
// Markdown formatting helpers
// =============================================================================

// FormatHeader renders a markdown header at the given level.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue renders one markdown bullet with a bold key.
func FormatKeyValue(key, value string) string {
	return "- **" + key + ":** " + value
}

// FormatCodeBlock renders a fenced code block.
func FormatCodeBlock(lang, code string) string {
	return "```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```"
}
