// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output: lipgloss styling on a terminal, plain
// machine-readable lines otherwise.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared text and box styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a one-glyph status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
)

// Render colors the icon by meaning.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Field is one labeled row of a Fields block.
type Field struct {
	Label string
	Value string
}

// Printer writes CLI output to one writer.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter styles output only when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styled: IsTerminal(out)}
}

// NewPlainPrinter never styles.
func NewPlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Styled reports whether output is styled.
func (p *Printer) Styled() bool { return p.styled }

// Success prints a confirmation line.
func (p *Printer) Success(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if !p.styled {
		fmt.Fprintf(p.out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Fields prints a titled block of aligned label/value rows, boxed on a
// terminal.
func (p *Printer) Fields(title string, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := fmt.Sprintf("%-*s", width, f.Label)
		if p.styled {
			label = Styles.Label.Render(label)
		}
		b.WriteString(label + "  " + f.Value)
	}

	if !p.styled {
		fmt.Fprintf(p.out, "%s\n%s\n", title, b.String())
		return
	}
	fmt.Fprintln(p.out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+b.String()))
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
