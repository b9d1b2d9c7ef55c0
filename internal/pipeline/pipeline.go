package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/finanalyzer/internal/logger"
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/report"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

// StepResult holds the result of analyzing a single document.
type StepResult struct {
	Name     string
	Summary  string
	Duration time.Duration
	Err      error
}

// Result holds the results of a full analysis run.
type Result struct {
	Reports []*report.Report
	Steps   []StepResult
}

// Pipeline analyzes documents one after another through a Completer.
type Pipeline struct {
	completer proxy.Completer
}

// New creates a new pipeline.
func New(completer proxy.Completer) *Pipeline {
	return &Pipeline{completer: completer}
}

// Run analyzes each document in order, waiting for each reply before sending
// the next. The first failure stops the run: later documents are not
// attempted and the returned error describes the failing document. Reports
// are only returned when every document succeeded.
func (p *Pipeline) Run(ctx context.Context, docs []upload.Document) (*Result, error) {
	r := &Result{}
	reports := make([]*report.Report, 0, len(docs))

	for i, doc := range docs {
		log := logger.Log.WithFields(logrus.Fields{"file": doc.Name, "step": fmt.Sprintf("%d/%d", i+1, len(docs))})
		log.Info("Analyzing document")

		start := time.Now()
		rep, err := p.analyze(ctx, doc)
		step := StepResult{Name: doc.Name, Duration: time.Since(start), Err: err}
		if err != nil {
			log.WithError(err).Error("Analysis failed")
			r.Steps = append(r.Steps, step)
			return r, err
		}

		step.Summary = fmt.Sprintf("%s: %s (%s confidence)",
			rep.CompanyName, rep.CreditRecommendation.Decision, rep.CreditRecommendation.Confidence)
		r.Steps = append(r.Steps, step)
		reports = append(reports, rep)
		log.WithField("duration", step.Duration.Round(time.Millisecond)).Info("Document analyzed")
	}

	r.Reports = reports
	return r, nil
}

func (p *Pipeline) analyze(ctx context.Context, doc upload.Document) (*report.Report, error) {
	resp, err := p.completer.Complete(ctx, report.AnalysisRequest(doc))
	if err != nil {
		return nil, err
	}

	rep, err := report.Extract(resp.Text())
	if err != nil {
		return nil, err
	}
	rep.FileName = doc.Name
	return rep, nil
}
