// Package report renders meeting records into downloadable documents.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/user/notetaker/internal/types"
)

// Format names an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "txt"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
)

// ErrUnsupportedFormat is returned for unknown export formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Formats lists the supported formats in display order.
var Formats = []Format{FormatJSON, FormatText, FormatHTML, FormatMarkdown}

// ParseFormat resolves a user-supplied format name. Empty means json.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatJSON, nil
	}
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnsupportedFormat)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

const timeLayout = "2006-01-02 15:04 UTC"

// Render produces the document body for m in format f.
func Render(m *types.Meeting, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(m, "", "  ")
	case FormatText:
		return []byte(renderText(m)), nil
	case FormatHTML:
		return renderHTML(m)
	case FormatMarkdown:
		page, err := renderHTML(m)
		if err != nil {
			return nil, err
		}
		md, err := htmltomarkdown.ConvertString(string(page))
		if err != nil {
			return nil, fmt.Errorf("convert to markdown: %w", err)
		}
		return []byte(md + "\n"), nil
	}
	return nil, fmt.Errorf("%q: %w", f, ErrUnsupportedFormat)
}

func section(b *strings.Builder, title string) {
	bar := strings.Repeat("=", 20)
	fmt.Fprintf(b, "\n%s %s %s\n\n", bar, title, bar)
}

func renderText(m *types.Meeting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting Report - %s\n", m.ID)
	fmt.Fprintf(&b, "Title: %s\n", m.Title)
	fmt.Fprintf(&b, "Date: %s\n", m.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "Status: %s\n", m.Status)
	if len(m.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(m.Languages, ", "))
	}

	section(&b, "SUMMARY")
	if m.Summary != "" {
		b.WriteString(m.Summary + "\n")
	} else {
		b.WriteString("No summary available.\n")
	}

	if len(m.ActionItems) > 0 {
		section(&b, "ACTION ITEMS")
		for _, item := range m.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if len(m.Decisions) > 0 {
		section(&b, "DECISIONS")
		for _, item := range m.Decisions {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	section(&b, "TRANSCRIPT")
	if text := m.FullText(); text != "" {
		b.WriteString(text + "\n")
	} else {
		b.WriteString("No transcript available.\n")
	}
	return b.String()
}

var pageTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"clock": clock,
	"date":  func(t time.Time) string { return t.UTC().Format(timeLayout) },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Date: {{date .CreatedAt}}<br>Meeting: {{.ID}}<br>Status: {{.Status}}</p>
<h2>Summary</h2>
{{if .Summary}}<p>{{.Summary}}</p>{{else}}<p>No summary available.</p>{{end}}
{{if .ActionItems}}<h2>Action Items</h2>
<ol>{{range .ActionItems}}<li>{{.}}</li>{{end}}</ol>
{{end}}{{if .Decisions}}<h2>Decisions</h2>
<ol>{{range .Decisions}}<li>{{.}}</li>{{end}}</ol>
{{end}}<h2>Transcript</h2>
{{if .Segments}}{{range .Segments}}<p><strong>[{{clock .Start}}] {{if .SpeakerName}}{{.SpeakerName}}{{else}}Unknown{{end}}:</strong> {{.Text}}</p>
{{end}}{{else if .Transcript}}<p>{{.Transcript}}</p>{{else}}<p>No transcript available.</p>{{end}}
</body>
</html>
`))

func renderHTML(m *types.Meeting) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, m); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// clock formats seconds as HH:MM:SS.
func clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
