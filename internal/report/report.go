// Package report defines the structured analysis returned by the model for
// one document, and how it is requested, extracted and displayed.
package report

import "encoding/json"

// Decision is the model's credit recommendation.
type Decision string

const (
	Approve     Decision = "APPROVE"
	Decline     Decision = "DECLINE"
	Conditional Decision = "CONDITIONAL"
)

// Confidence qualifies a Decision.
type Confidence string

const (
	High   Confidence = "HIGH"
	Medium Confidence = "MEDIUM"
	Low    Confidence = "LOW"
)

type CreditRecommendation struct {
	Decision   Decision   `json:"decision"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Metric is a value for the current and previous period. Null values are
// figures the model could not find. Change is usually a percentage string.
type Metric struct {
	Current  Value `json:"current"`
	Previous Value `json:"previous"`
	Change   Value `json:"change"`

	Extra map[string]json.RawMessage `json:"-"`
}

type KeyMetrics struct {
	Revenue          *Metric `json:"revenue"`
	NetIncome        *Metric `json:"netIncome"`
	TotalAssets      *Metric `json:"totalAssets"`
	TotalLiabilities *Metric `json:"totalLiabilities"`
	Equity           *Metric `json:"equity"`
	CashFlow         *Metric `json:"cashFlow"`

	Extra map[string]json.RawMessage `json:"-"`
}

type Ratios struct {
	CurrentRatio      Value  `json:"currentRatio"`
	QuickRatio        Value  `json:"quickRatio"`
	DebtToEquity      Value  `json:"debtToEquity"`
	ReturnOnAssets    Value  `json:"returnOnAssets"`
	ReturnOnEquity    Value  `json:"returnOnEquity"`
	ProfitMargin      Value  `json:"profitMargin"`
	IndustryBenchmark string `json:"industryBenchmark"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Report is the analysis of one uploaded document.
type Report struct {
	FileName             string               `json:"fileName,omitempty"`
	CompanyName          string               `json:"companyName"`
	PeriodCovered        string               `json:"periodCovered"`
	CurrentPeriod        string               `json:"currentPeriod"`
	PreviousPeriod       string               `json:"previousPeriod"`
	Industry             string               `json:"industry"`
	ExecutiveSummary     string               `json:"executiveSummary"`
	OnePageSummary       string               `json:"onePageSummary"`
	CreditRecommendation CreditRecommendation `json:"creditRecommendation"`
	KeyMetrics           KeyMetrics           `json:"keyMetrics"`
	Ratios               Ratios               `json:"ratios"`
	Strengths            []string             `json:"strengths"`
	Concerns             []string             `json:"concerns"`
	Trends               []string             `json:"trends"`

	// Extra holds members outside the schema above, kept verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// Summary prefers the one-page summary and falls back to the executive summary.
func (r *Report) Summary() string {
	if r.OnePageSummary != "" {
		return r.OnePageSummary
	}
	return r.ExecutiveSummary
}

// NamedMetric pairs a display label with a metric.
type NamedMetric struct {
	Label  string
	Metric *Metric
}

// Metrics lists the key metrics in display order.
func (r *Report) Metrics() []NamedMetric {
	m := r.KeyMetrics
	return []NamedMetric{
		{"Revenue", m.Revenue},
		{"Net Income", m.NetIncome},
		{"Total Assets", m.TotalAssets},
		{"Total Liabilities", m.TotalLiabilities},
		{"Equity", m.Equity},
		{"Cash Flow", m.CashFlow},
	}
}

// ChartPoint is one period on the revenue / net income chart.
type ChartPoint struct {
	Period    string
	Revenue   float64
	NetIncome float64
}

// ChartData returns the previous and current period points. Missing and
// non-numeric values plot as zero and missing period labels fall back to "Previous"/"Current".
func (r *Report) ChartData() []ChartPoint {
	prev := ChartPoint{Period: orDefault(r.PreviousPeriod, "Previous")}
	cur := ChartPoint{Period: orDefault(r.CurrentPeriod, "Current")}
	if m := r.KeyMetrics.Revenue; m != nil {
		prev.Revenue, cur.Revenue = deref(m.Previous), deref(m.Current)
	}
	if m := r.KeyMetrics.NetIncome; m != nil {
		prev.NetIncome, cur.NetIncome = deref(m.Previous), deref(m.Current)
	}
	return []ChartPoint{prev, cur}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func deref(v Value) float64 {
	f, _ := v.Float()
	return f
}
