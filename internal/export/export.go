// Package export renders a report as downloadable files and mail links.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/finanalyzer/internal/report"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename derives a download name from the company name, replacing every
// character outside [a-zA-Z0-9] with an underscore.
func Filename(company, ext string) string {
	return unsafeFilenameChars.ReplaceAllString(company, "_") + "_Analysis." + ext
}

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"markdown": report.Markdown,
}).Parse(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Financial Analysis - {{.CompanyName}}</title></head><body>
<h1>Financial Analysis Report</h1>
<h2>{{.CompanyName}}</h2>
<p><strong>Period:</strong> {{.PeriodCovered}}</p>
<h2>Executive Summary</h2>
{{markdown .Summary}}
<h2>Credit Decision: {{.CreditRecommendation.Decision}}</h2>
<p>{{.CreditRecommendation.Reasoning}}</p>
</body></html>
`))

// HTML renders a standalone HTML document for the report.
func HTML(r *report.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("rendering HTML export: %w", err)
	}
	return buf.Bytes(), nil
}

// CSV renders the report header and the revenue metric row. Missing amounts
// are written as 0 and a missing change as N/A.
func CSV(r *report.Report, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Financial Analysis Report - %s\n", r.CompanyName)
	fmt.Fprintf(&buf, "Generated: %s\n\n", now.Format("1/2/2006"))
	buf.WriteString("KEY METRICS\n")

	w := csv.NewWriter(&buf)
	rev := r.KeyMetrics.Revenue
	rows := [][]string{
		{"Metric", "Current", "Previous", "Change"},
		{"Revenue", amountOrZero(rev.CurrentValue()), amountOrZero(rev.PreviousValue()), report.FormatChange(rev)},
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("writing CSV export: %w", err)
	}
	return buf.Bytes(), nil
}

// amountOrZero writes null, empty and zero amounts as 0 and anything else as
// received.
func amountOrZero(v report.Value) string {
	if f, ok := v.Float(); ok && f != 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if s := v.String(); s != "" && s != "0" {
		return s
	}
	return "0"
}

// Mailto builds a mailto link with no recipient and the report summary as
// subject and body. Components are escaped with url.QueryEscape, which also
// escapes !'()* where encodeURIComponent would not; mail clients decode both
// the same way.
func Mailto(r *report.Report) string {
	subject := "Financial Analysis: " + r.CompanyName
	body := fmt.Sprintf("Financial Analysis Report for %s\n\nExecutive Summary:\n%s\n\nCredit Decision: %s",
		r.CompanyName, r.Summary(), r.CreditRecommendation.Decision)
	return "mailto:?subject=" + encodeComponent(subject) + "&body=" + encodeComponent(body)
}

// encodeComponent percent-encodes s for a URI component, spaces as %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
