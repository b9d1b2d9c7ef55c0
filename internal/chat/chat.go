// Package chat answers follow-up questions about the current reports.
package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/report"
)

// Roles of a chat transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const chatPrompt = `You are a financial analyst assistant. Here is the analysis data: %s

User question: %s

Provide a helpful response.`

// contextEntry is the projection of a report sent as chat context.
type contextEntry struct {
	Company string                      `json:"company"`
	Summary string                      `json:"summary"`
	Credit  report.CreditRecommendation `json:"credit"`
	Metrics report.KeyMetrics           `json:"metrics"`
}

// Context serializes the summarized projection of every report.
func Context(reports []*report.Report) (string, error) {
	entries := make([]contextEntry, 0, len(reports))
	for _, r := range reports {
		entries = append(entries, contextEntry{
			Company: r.CompanyName,
			Summary: r.ExecutiveSummary,
			Credit:  r.CreditRecommendation,
			Metrics: r.KeyMetrics,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshaling chat context: %w", err)
	}
	return string(data), nil
}

// Prompt builds the single-turn prompt for a question. The context is rebuilt
// from the reports on every call and is never truncated.
func Prompt(reports []*report.Report, question string) (string, error) {
	ctxJSON, err := Context(reports)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(chatPrompt, ctxJSON, question), nil
}

// Assistant sends questions through a Completer.
type Assistant struct {
	completer proxy.Completer
}

// NewAssistant creates a new chat assistant.
func NewAssistant(completer proxy.Completer) *Assistant {
	return &Assistant{completer: completer}
}

// Ask returns the model's answer to question about reports.
func (a *Assistant) Ask(ctx context.Context, reports []*report.Report, question string) (string, error) {
	prompt, err := Prompt(reports, question)
	if err != nil {
		return "", err
	}

	resp, err := a.completer.Complete(ctx, &proxy.Request{
		Messages: []proxy.Message{{Role: RoleUser, Content: proxy.TextContent(prompt)}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
