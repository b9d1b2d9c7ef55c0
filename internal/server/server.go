package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/TobiSchelling/finanalyzer/internal/config"
	"github.com/TobiSchelling/finanalyzer/internal/export"
	"github.com/TobiSchelling/finanalyzer/internal/logger"
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/report"
	"github.com/TobiSchelling/finanalyzer/internal/session"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

const sessionCookie = "finanalyzer_session"

// Server is the HTTP server for the analyzer UI and the analyze proxy.
type Server struct {
	cfg   *config.Config
	proxy *proxy.Service
	store *session.Store
	pages map[string]*template.Template
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a new Server.
func New(cfg *config.Config, svc *proxy.Service, store *session.Store) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":       report.Markdown,
		"formatCurrency": report.FormatCurrency,
		"formatAmount":   formatAmount,
		"formatRatio":    report.FormatRatio,
		"formatChange":   report.FormatChange,
		"creditClass":    creditClass,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of the base so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "models.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		cfg:   cfg,
		proxy: svc,
		store: store,
		pages: pages,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return recoverPanics(logRequests(s.mux))
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// UI
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /reports/{idx}/{format}", s.handleExport)
	s.mux.HandleFunc("GET /models", s.handleModelsPage)

	// API
	s.mux.HandleFunc("/api/analyze", s.handleAPIAnalyze)
	s.mux.HandleFunc("GET /api/models", s.handleAPIModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.render(w, "index.html", map[string]any{
		"Session": sess.Snapshot(),
		"Premium": s.cfg.Features.Premium,
		"Model":   s.cfg.Gemini.Model,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadMB << 20); err != nil {
		logger.Log.WithError(err).Warn("Rejected upload form")
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	docs, err := upload.FromMultipart(r.MultipartForm.File["files"])
	if err != nil {
		logger.Log.WithError(err).Error("Reading uploaded files")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := sess.SelectFiles(docs); err != nil {
		logger.Log.WithField("session", sess.ID).Info("Rejected non-PDF selection")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	// The analysis outlives a client disconnect; its result is shown on the next page load.
	if err := sess.Analyze(context.WithoutCancel(r.Context())); err != nil {
		logger.Log.WithField("session", sess.ID).WithError(err).Warn("Analysis failed")
	}
	http.Redirect(w, r, "/#reports", http.StatusSeeOther)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Ask(context.WithoutCancel(r.Context()), r.FormValue("message"))
	http.Redirect(w, r, "/#chat", http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rep, ok := sess.Report(idx)
	if !ok {
		http.NotFound(w, r)
		return
	}

	format := r.PathValue("format")
	if (format == "csv" || format == "email") && !s.cfg.Features.Premium {
		http.Error(w, "Premium feature", http.StatusForbidden)
		return
	}

	switch format {
	case "html":
		data, err := export.HTML(rep)
		if err != nil {
			logger.Log.WithError(err).Error("Rendering HTML export")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		attach(w, "text/html; charset=utf-8", export.Filename(rep.CompanyName, "html"), data)
	case "csv":
		data, err := export.CSV(rep, s.now())
		if err != nil {
			logger.Log.WithError(err).Error("Rendering CSV export")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		attach(w, "text/csv; charset=utf-8", export.Filename(rep.CompanyName, "csv"), data)
	case "email":
		http.Redirect(w, r, export.Mailto(rep), http.StatusFound)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleModelsPage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	models, err := s.proxy.ListModels(ctx)
	data := map[string]any{"Models": models, "Model": s.cfg.Gemini.Model}
	if err != nil {
		logger.Log.WithError(err).Warn("Listing models")
		data["Error"] = err.Error()
	}
	s.render(w, "models.html", data)
}

func attach(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(data)
}

// session returns the caller's session, issuing a cookie for new ones.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, created := s.store.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		logger.Log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		logger.Log.Errorf("Error rendering template %s: %v", name, err)
	}
}

// formatAmount formats a chart value, which is already defaulted to zero.
func formatAmount(v float64) string {
	return report.FormatCurrency(report.Number(v))
}

// creditClass maps a decision to its CSS modifier. Anything other than
// APPROVE or DECLINE is styled as conditional.
func creditClass(d report.Decision) string {
	switch d {
	case report.Approve:
		return "approve"
	case report.Decline:
		return "decline"
	default:
		return "conditional"
	}
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, svc *proxy.Service, store *session.Store) error {
	srv, err := New(cfg, svc, store)
	if err != nil {
		return err
	}

	go store.RunJanitor(ctx, time.Minute)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Infof("Server listening on http://%s", cfg.Addr())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
