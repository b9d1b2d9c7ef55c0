// Package session holds per-browser analyzer state in memory.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/finanalyzer/internal/chat"
	"github.com/TobiSchelling/finanalyzer/internal/logger"
	"github.com/TobiSchelling/finanalyzer/internal/pipeline"
	"github.com/TobiSchelling/finanalyzer/internal/report"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

// Analyzer runs the analysis of a file selection.
type Analyzer interface {
	Run(ctx context.Context, docs []upload.Document) (*pipeline.Result, error)
}

// Asker answers a chat question about reports.
type Asker interface {
	Ask(ctx context.Context, reports []*report.Report, question string) (string, error)
}

// Session is the state of one browser session: the selected files, the
// reports of the last successful analysis and the chat transcript.
type Session struct {
	ID string

	analyzer Analyzer
	asker    Asker

	mu          sync.Mutex
	files       []upload.Document
	reports     []*report.Report
	messages    []chat.Message
	err         string
	analyzing   bool
	chatLoading bool
	// generation increments on every accepted file selection so that
	// in-flight results for an older selection are discarded.
	generation int
	lastSeen   time.Time
}

// Snapshot is a copy of a session's state for rendering.
type Snapshot struct {
	ID          string
	Files       []upload.Document
	Reports     []*report.Report
	Messages    []chat.Message
	Error       string
	Analyzing   bool
	ChatLoading bool
}

// New creates an empty session.
func New(id string, analyzer Analyzer, asker Asker) *Session {
	return &Session{ID: id, analyzer: analyzer, asker: asker, lastSeen: time.Now()}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.ID,
		Files:       append([]upload.Document(nil), s.files...),
		Reports:     append([]*report.Report(nil), s.reports...),
		Messages:    append([]chat.Message(nil), s.messages...),
		Error:       s.err,
		Analyzing:   s.analyzing,
		ChatLoading: s.chatLoading,
	}
}

// Report returns the report at index i of the current list.
func (s *Session) Report(i int) (*report.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.reports) {
		return nil, false
	}
	return s.reports[i], true
}

// SelectFiles replaces the file selection. A selection with any non-PDF file
// is rejected: the error is recorded and the previous state is left as is.
// An accepted selection clears the error, the reports and the chat transcript.
func (s *Session) SelectFiles(docs []upload.Document) error {
	accepted, err := upload.Select(docs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err.Error()
		return err
	}

	s.files = accepted
	s.err = ""
	s.reports = nil
	s.messages = nil
	s.generation++
	return nil
}

// Analyze runs the analysis of the selected files. It does nothing when no
// files are selected or an analysis is already running. On failure the error
// is recorded as "Analysis failed: <msg>" and the previous reports are kept.
func (s *Session) Analyze(ctx context.Context) error {
	s.mu.Lock()
	if len(s.files) == 0 || s.analyzing {
		s.mu.Unlock()
		return nil
	}
	s.analyzing = true
	s.err = ""
	files := s.files
	gen := s.generation
	s.mu.Unlock()

	result, err := s.analyzer.Run(ctx, files)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzing = false
	if gen != s.generation {
		logger.Log.WithField("session", s.ID).Debug("Discarding analysis for a replaced file selection")
		return nil
	}
	if err != nil {
		s.err = "Analysis failed: " + err.Error()
		return err
	}
	s.reports = result.Reports
	return nil
}

// Ask submits a chat question. Blank input, an empty report list or a chat
// request already in flight make it a no-op. Failures are appended to the
// transcript as an assistant turn "Error: <msg>".
func (s *Session) Ask(ctx context.Context, input string) {
	question := strings.TrimSpace(input)

	s.mu.Lock()
	if question == "" || len(s.reports) == 0 || s.chatLoading {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, chat.Message{Role: chat.RoleUser, Content: question})
	s.chatLoading = true
	reports := append([]*report.Report(nil), s.reports...)
	gen := s.generation
	s.mu.Unlock()

	answer, err := s.asker.Ask(ctx, reports, question)
	if err != nil {
		answer = "Error: " + err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLoading = false
	if gen != s.generation {
		return
	}
	s.messages = append(s.messages, chat.Message{Role: chat.RoleAssistant, Content: answer})
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
