package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/3cpo-dev/calprov/internal/core"
	"github.com/3cpo-dev/calprov/pkg/api"
)

var (
	brandAccent  = lipgloss.Color("#10B981")
	brandWarning = lipgloss.Color("#F59E0B")
	brandError   = lipgloss.Color("#EF4444")
	textMuted    = lipgloss.Color("#6B7280")

	successStyle = lipgloss.NewStyle().Foreground(brandAccent).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(brandWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(brandError).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(textMuted)

	errorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brandError).
			Padding(1, 2)
)

func renderRemediation(fe *core.FatalError) string {
	if fe == nil {
		return errorBox.Render(errorStyle.Render("Provisioning aborted"))
	}
	var b strings.Builder
	b.WriteString(errorStyle.Render("Provisioning aborted at step: " + fe.Step))
	b.WriteString("\n\n")
	if fe.Remediation != "" {
		b.WriteString(fe.Remediation)
		b.WriteString("\n")
	}
	if fe.URL != "" {
		b.WriteString("\nManual install: " + fe.URL + "\n")
	}
	if fe.Err != nil {
		b.WriteString("\n" + dimStyle.Render(fe.Err.Error()))
	}
	return errorBox.Render(b.String())
}

func renderSummary(rep core.Report, p core.Profile, paths core.Paths) string {
	var b strings.Builder
	b.WriteString(successStyle.Render("Setup complete"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  python     %s (%s)\n", rep.Runtime.Path, rep.Runtime.Version)
	fmt.Fprintf(&b, "  tesseract  %s (%s)\n", rep.Tool.Path, rep.Tool.Version)
	switch rep.Asset {
	case api.AssetDegraded:
		b.WriteString("  model      " + warningStyle.Render("unavailable, Romanian OCR falls back to the default language") + "\n")
	default:
		fmt.Fprintf(&b, "  model      %s\n", rep.Asset)
	}
	fmt.Fprintf(&b, "  config     %s\n", paths.Config)
	fmt.Fprintf(&b, "  launcher   %s\n", paths.Launcher)
	b.WriteString(dimStyle.Render(fmt.Sprintf("Start the app with the launcher, then open http://localhost:%d", p.App.Port)))
	return b.String()
}

func renderCheck(rep core.CheckReport, p core.Profile, paths core.Paths) string {
	var b strings.Builder
	for _, f := range []core.Finding{rep.Runtime, rep.Tool} {
		if f.Err != nil {
			fmt.Fprintf(&b, "%-10s %s %s\n", f.Name, errorStyle.Render("missing"), dimStyle.Render(f.Requirement.String()))
			continue
		}
		fmt.Fprintf(&b, "%-10s %s %s (%s)\n", f.Name, successStyle.Render("ok"), f.Binding.Path, f.Binding.Version)
	}
	mark := func(ok bool) string {
		if ok {
			return successStyle.Render("present")
		}
		return warningStyle.Render("absent")
	}
	fmt.Fprintf(&b, "%-10s %s %s\n", "model", mark(rep.Asset), p.Asset.Dest)
	fmt.Fprintf(&b, "%-10s %s %s\n", "manifest", mark(rep.Manifest), paths.Manifest)
	fmt.Fprintf(&b, "%-10s %s %s\n", "config", mark(rep.Config), paths.Config)
	fmt.Fprintf(&b, "%-10s %s %s", "launcher", mark(rep.Launcher), paths.Launcher)
	return b.String()
}
