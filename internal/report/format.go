package report

import (
	"bytes"
	"html/template"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
)

// NotAvailable is shown in place of missing values.
const NotAvailable = "N/A"

var md = goldmark.New()

// FormatCurrency renders an amount rounded to whole units with thousands
// separators, e.g. 1234567.8 -> "1,234,568". Numeric strings are formatted
// the same way; any other string is shown unchanged.
func FormatCurrency(v Value) string {
	if v.IsNull() {
		return NotAvailable
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return v.String()
	}
	return humanize.Comma(d.Round(0).IntPart())
}

// FormatRatio renders a numeric ratio with two decimals and shows a string
// ratio unchanged.
func FormatRatio(v Value) string {
	if v.IsNull() {
		return NotAvailable
	}
	f, ok := v.Float()
	if !ok {
		return v.String()
	}
	return decimal.NewFromFloat(f).StringFixed(2)
}

// FormatChange renders a metric's change.
func FormatChange(m *Metric) string {
	if m == nil || m.Change.String() == "" {
		return NotAvailable
	}
	return m.Change.String()
}

// CurrentValue returns a metric's current value, tolerating a nil metric.
func (m *Metric) CurrentValue() Value {
	if m == nil {
		return Value{}
	}
	return m.Current
}

// PreviousValue returns a metric's previous value, tolerating a nil metric.
func (m *Metric) PreviousValue() Value {
	if m == nil {
		return Value{}
	}
	return m.Previous
}

// Markdown renders model-written markdown as HTML. Raw HTML in the input is
// omitted.
func Markdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
	}
	return template.HTML(buf.String()) //nolint: gosec
}
