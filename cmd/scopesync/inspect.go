// ABOUTME: Renders a reconstructed scope report for the inspect command
// ABOUTME: Text, JSON, Markdown, and HTML via goldmark

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/scopesync/internal/bridge"
	"github.com/2389/scopesync/internal/scope"
)

func renderReport(w io.Writer, report *bridge.Report, format string) error {
	switch format {
	case "", "text":
		return renderText(w, report)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "markdown", "md":
		_, err := io.WriteString(w, renderMarkdown(report))
		return err
	case "html":
		md := goldmark.New(goldmark.WithExtensions(extension.GFM))
		var buf bytes.Buffer
		if err := md.Convert([]byte(renderMarkdown(report)), &buf); err != nil {
			return fmt.Errorf("converting markdown: %w", err)
		}
		_, err := buf.WriteTo(w)
		return err
	default:
		return fmt.Errorf("unknown format %q (want text, json, markdown or html)", format)
	}
}

func renderText(w io.Writer, report *bridge.Report) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)
	snap := report.Scope

	heading := func(title string) {
		fmt.Fprintln(w)
		cyan.Fprintln(w, "  "+title)
		cyan.Fprintln(w, "  "+strings.Repeat("-", len(title)))
	}

	if report.Session != nil {
		heading("Session")
		fmt.Fprintf(w, "  ID:              %s\n", report.Session.ID)
		fmt.Fprintf(w, "  Started:         %s\n", report.Session.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Max breadcrumbs: %d\n", report.Session.MaxBreadcrumbs)
	} else {
		yellow.Fprintln(w, "  no session record (store never synced)")
	}

	heading("Scope")
	fmt.Fprintf(w, "  Level:       %s\n", orDash(snap.Level.String()))
	fmt.Fprintf(w, "  Transaction: %s\n", orDash(snap.Transaction))
	fmt.Fprintf(w, "  Fingerprint: %s\n", orDash(strings.Join(snap.Fingerprint, ", ")))
	if snap.User != nil {
		fmt.Fprintf(w, "  User:        %s\n", userSummary(snap.User))
	} else {
		fmt.Fprintf(w, "  User:        -\n")
	}

	if len(snap.Tags) > 0 {
		heading("Tags")
		for _, k := range sortedKeys(snap.Tags) {
			fmt.Fprintf(w, "  %s = %s\n", k, snap.Tags[k])
		}
	}

	if len(snap.Contexts) > 0 {
		heading("Contexts")
		for _, k := range sortedKeys(snap.Contexts) {
			fmt.Fprintf(w, "  %s = %s\n", k, valueJSON(snap.Contexts[k]))
		}
	}

	if len(snap.Extras) > 0 {
		heading("Extras")
		for _, k := range sortedKeys(snap.Extras) {
			fmt.Fprintf(w, "  %s = %s\n", k, valueJSON(snap.Extras[k]))
		}
	}

	if len(snap.Breadcrumbs) > 0 {
		heading(fmt.Sprintf("Breadcrumbs (%d)", len(snap.Breadcrumbs)))
		for _, b := range snap.Breadcrumbs {
			gray.Fprintf(w, "  #%-4d %s ", b.Seq, b.Timestamp.Format("15:04:05.000"))
			fmt.Fprintf(w, "[%s] %s %s\n", orDash(b.Level.String()), orDash(b.Category), b.Message)
		}
	}

	if len(report.Skipped) > 0 {
		heading("Skipped records")
		for _, s := range report.Skipped {
			yellow.Fprintf(w, "  %s: %s\n", s.Key, s.Reason)
		}
	}

	fmt.Fprintln(w)
	return nil
}

func renderMarkdown(report *bridge.Report) string {
	var b strings.Builder
	snap := report.Scope

	b.WriteString("# Scope report\n\n")
	if report.Session != nil {
		fmt.Fprintf(&b, "Session `%s`, started %s, max breadcrumbs %d.\n\n",
			report.Session.ID, report.Session.StartedAt.Format(time.RFC3339), report.Session.MaxBreadcrumbs)
	}

	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| level | %s |\n", mdCell(orDash(snap.Level.String())))
	fmt.Fprintf(&b, "| transaction | %s |\n", mdCell(orDash(snap.Transaction)))
	fmt.Fprintf(&b, "| fingerprint | %s |\n", mdCell(orDash(strings.Join(snap.Fingerprint, ", "))))
	if snap.User != nil {
		fmt.Fprintf(&b, "| user | %s |\n", mdCell(userSummary(snap.User)))
	}
	b.WriteString("\n")

	if len(snap.Tags) > 0 {
		b.WriteString("## Tags\n\n| Tag | Value |\n|---|---|\n")
		for _, k := range sortedKeys(snap.Tags) {
			fmt.Fprintf(&b, "| %s | %s |\n", mdCell(k), mdCell(snap.Tags[k]))
		}
		b.WriteString("\n")
	}

	writeValues := func(title string, m map[string]scope.Value) {
		if len(m) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n| Name | Value |\n|---|---|\n", title)
		for _, k := range sortedKeys(m) {
			fmt.Fprintf(&b, "| %s | `%s` |\n", mdCell(k), mdCell(valueJSON(m[k])))
		}
		b.WriteString("\n")
	}
	writeValues("Contexts", snap.Contexts)
	writeValues("Extras", snap.Extras)

	if len(snap.Breadcrumbs) > 0 {
		b.WriteString("## Breadcrumbs\n\n| Seq | Time | Level | Category | Message |\n|---|---|---|---|---|\n")
		for _, c := range snap.Breadcrumbs {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				c.Seq,
				c.Timestamp.Format(time.RFC3339),
				mdCell(orDash(c.Level.String())),
				mdCell(orDash(c.Category)),
				mdCell(c.Message))
		}
		b.WriteString("\n")
	}

	if len(report.Skipped) > 0 {
		b.WriteString("## Skipped records\n\n")
		for _, s := range report.Skipped {
			fmt.Fprintf(&b, "- `%s`: %s\n", s.Key, s.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func userSummary(u *scope.User) string {
	var parts []string
	for _, p := range [][2]string{
		{"id", u.ID},
		{"username", u.Username},
		{"email", u.Email},
		{"ip", u.IPAddress},
		{"segment", u.Segment},
	} {
		if p[1] != "" {
			parts = append(parts, p[0]+"="+p[1])
		}
	}
	for _, k := range sortedKeys(u.Data) {
		parts = append(parts, k+"="+u.Data[k])
	}
	return orDash(strings.Join(parts, " "))
}

func valueJSON(v scope.Value) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
