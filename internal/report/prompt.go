package report

import (
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

// AnalysisPrompt instructs the model to return a Report as bare JSON.
const AnalysisPrompt = `You are a financial analyst. Analyze these financial accounts and provide a comprehensive report in JSON format ONLY. Do not include any preamble, explanation, or markdown formatting - return ONLY valid JSON.

The JSON should have this exact structure:
{
  "companyName": "string",
  "periodCovered": "string",
  "currentPeriod": "e.g., FY 2023 or Q3 2024",
  "previousPeriod": "e.g., FY 2022 or Q3 2023",
  "industry": "string (if identifiable)",
  "executiveSummary": "2-3 sentence overview",
  "onePageSummary": "Single paragraph capturing the essence of financial health, key highlights, and critical concerns",
  "creditRecommendation": {
    "decision": "APPROVE|DECLINE|CONDITIONAL",
    "confidence": "HIGH|MEDIUM|LOW",
    "reasoning": "brief explanation"
  },
  "keyMetrics": {
    "revenue": {"current": number, "previous": number, "change": "percentage string"},
    "netIncome": {"current": number, "previous": number, "change": "percentage string"},
    "totalAssets": {"current": number, "previous": number, "change": "percentage string"},
    "totalLiabilities": {"current": number, "previous": number, "change": "percentage string"},
    "equity": {"current": number, "previous": number, "change": "percentage string"},
    "cashFlow": {"current": number, "previous": number, "change": "percentage string"}
  },
  "ratios": {
    "currentRatio": number,
    "quickRatio": number,
    "debtToEquity": number,
    "returnOnAssets": number,
    "returnOnEquity": number,
    "profitMargin": number,
    "industryBenchmark": "comparison if possible"
  },
  "strengths": ["array of 3-5 key strengths"],
  "concerns": ["array of 3-5 key concerns or risks"],
  "trends": ["array of 3-4 notable trends across periods"]
}

If data for previous periods is not available, use null for previous values and changes. Extract all financial data in the company's reported currency. Be precise with numbers and clearly identify time periods.`

// AnalysisRequest builds the analyze request for one document: the PDF as a
// base64 document block followed by the instruction text.
func AnalysisRequest(doc upload.Document) *proxy.Request {
	return &proxy.Request{
		Messages: []proxy.Message{{
			Role: "user",
			Content: proxy.BlockContent(
				proxy.Block{
					Type: proxy.BlockDocument,
					Source: &proxy.Source{
						Type:      "base64",
						MediaType: upload.PDFMediaType,
						Data:      upload.Encode(doc),
					},
				},
				proxy.Block{Type: proxy.BlockText, Text: AnalysisPrompt},
			),
		}},
	}
}
