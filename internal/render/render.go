// Package render formats content records for the terminal.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/olekukonko/tablewriter"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

// Markdown converts an HTML description, as produced by the admin editor, to
// Markdown. Plain text passes through unchanged.
func Markdown(html string) (string, error) {
	if !strings.Contains(html, "<") {
		return html, nil
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "iframe")

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(markdown), nil
}

// PlainText strips markup from an HTML description and collapses whitespace.
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, noscript, iframe").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Summary returns at most n runes of the record's plain-text description.
func Summary(rec types.ContentRecord, n int) string {
	if n < 1 {
		return ""
	}
	text := []rune(PlainText(rec.Description))
	if len(text) <= n {
		return string(text)
	}
	return strings.TrimSpace(string(text[:n-1])) + "…"
}

// Record writes one record as a Markdown section.
func Record(w io.Writer, rec types.ContentRecord) error {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", rec.Title)

	var meta []string
	meta = append(meta, fmt.Sprintf("id %d", rec.ID))
	if rec.Category != "" {
		meta = append(meta, rec.Category)
	}
	if rec.Priority != "" {
		meta = append(meta, string(rec.Priority)+" priority")
	}
	if rec.Date != "" {
		meta = append(meta, "on "+rec.Date)
	}
	if rec.Location != "" {
		meta = append(meta, "at "+rec.Location)
	}
	if !rec.IsActive {
		meta = append(meta, "inactive")
	}
	fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " · "))

	if rec.Description != "" {
		body, err := Markdown(rec.Description)
		if err != nil {
			return fmt.Errorf("failed to render record %d: %w", rec.ID, err)
		}
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	if rec.ValidFrom != "" || rec.ValidUntil != "" {
		fmt.Fprintf(&b, "Valid: %s to %s\n\n", orDash(rec.ValidFrom), orDash(rec.ValidUntil))
	}
	if rec.MediaURL != "" {
		fmt.Fprintf(&b, "Media: %s\n\n", rec.MediaURL)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(rec.Tags, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Table writes records as a table, one row per record.
func Table(w io.Writer, records []types.ContentRecord) error {
	table := tablewriter.NewTable(w)
	table.Header("ID", "Title", "Category", "Priority", "Active", "Updated")

	for _, rec := range records {
		if err := table.Append(
			strconv.FormatInt(rec.ID, 10),
			rec.Title,
			orDash(rec.Category),
			orDash(string(rec.Priority)),
			strconv.FormatBool(rec.IsActive),
			Timestamp(rec.UpdatedAt),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// Timestamp formats Unix milliseconds in local time.
func Timestamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
