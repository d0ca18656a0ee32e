// Package ui renders CLI output for scansync.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Status icons.
const (
	IconOK      = "✓"
	IconWarning = "⚠"
	IconError   = "✗"
	IconBullet  = "•"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A89")
	colorTitle   = lipgloss.Color("#20B9B4")
)

// Printer writes styled lines to a single writer.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

// New returns a Printer for w. Colour is used only when color is true and w
// is a terminal.
func New(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color || !IsTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:       w,
		r:       r,
		title:   r.NewStyle().Bold(true).Foreground(colorTitle),
		label:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		ok:      r.NewStyle().Foreground(colorOK),
		warning: r.NewStyle().Foreground(colorWarning),
		err:     r.NewStyle().Foreground(colorError),
	}
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.title.Render(text))
}

// OK prints a success line.
func (p *Printer) OK(format string, args ...any) {
	p.line(p.ok, IconOK, fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.line(p.warning, IconWarning, fmt.Sprintf(format, args...))
}

// Fail prints an error line.
func (p *Printer) Fail(format string, args ...any) {
	p.line(p.err, IconError, fmt.Sprintf(format, args...))
}

// Bullet prints a plain list item.
func (p *Printer) Bullet(format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.muted.Render(IconBullet), fmt.Sprintf(format, args...))
}

// Field prints an aligned "label: value" pair.
func (p *Printer) Field(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.label.Render(fmt.Sprintf("%-18s", label+":")), value)
}

// Muted prints secondary text.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Blank prints an empty line.
func (p *Printer) Blank() {
	fmt.Fprintln(p.w)
}

func (p *Printer) line(style lipgloss.Style, icon, text string) {
	fmt.Fprintf(p.w, "%s %s\n", style.Render(icon), text)
}

// Confirm asks a yes/no question on the terminal. The answer defaults to no.
func Confirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
