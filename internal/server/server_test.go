package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/finanalyzer/internal/chat"
	"github.com/TobiSchelling/finanalyzer/internal/config"
	"github.com/TobiSchelling/finanalyzer/internal/llm"
	"github.com/TobiSchelling/finanalyzer/internal/pipeline"
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/report"
	"github.com/TobiSchelling/finanalyzer/internal/session"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

const reportJSON = `{
  "companyName": "Acme Holdings",
  "periodCovered": "FY 2024",
  "currentPeriod": "FY 2024",
  "previousPeriod": "FY 2023",
  "industry": "Manufacturing",
  "executiveSummary": "Revenue **grew** strongly.",
  "creditRecommendation": {"decision": "APPROVE", "confidence": "HIGH", "reasoning": "Strong coverage."},
  "keyMetrics": {
    "revenue": {"current": 1250000, "previous": 1000000, "change": "+25.0%"},
    "netIncome": {"current": 150000, "previous": 120000, "change": "+25.0%"}
  },
  "ratios": {"profitMargin": 12},
  "strengths": ["Revenue growth"],
  "concerns": ["Customer concentration"],
  "trends": []
}`

// fakeGemini answers generateContent calls. Requests carrying a document get
// the report JSON, text-only requests get chatReply.
type fakeGemini struct {
	status    int
	body      string
	chatReply string
	calls     atomic.Int32
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models") {
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.5-flash","displayName":"Gemini 2.5 Flash","outputTokenLimit":65536}]}`))
		return
	}

	f.calls.Add(1)
	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
		return
	}

	var req llm.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	text := f.chatReply
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.InlineData != nil {
				text = "Here is the analysis:\n" + reportJSON
			}
		}
	}
	if f.body != "" {
		w.Write([]byte(f.body))
		return
	}
	resp := llm.GenerateResponse{Candidates: []llm.Candidate{{
		Content: llm.Content{Role: "model", Parts: []llm.Part{{Text: text}}},
	}}}
	json.NewEncoder(w).Encode(resp)
}

func newTestServer(t *testing.T, premium bool, gemini *fakeGemini) *Server {
	t.Helper()
	upstream := httptest.NewServer(gemini)
	t.Cleanup(upstream.Close)

	cfg := &config.Config{}
	cfg.Server.MaxUploadMB = 8
	cfg.Gemini.Model = "gemini-2.5-flash"
	cfg.Gemini.MaxOutputTokens = 8192
	cfg.Features.Premium = premium

	provider := llm.NewGeminiProvider(cfg.Gemini.Model, upstream.URL, "test-key", 5*time.Second, 0)
	svc := proxy.NewService(provider, cfg.Gemini.MaxOutputTokens)
	store := session.NewStore(pipeline.New(svc), chat.NewAssistant(svc), time.Hour)

	srv, err := New(cfg, svc, store)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC) }
	return srv
}

func postAnalyze(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func TestAPIAnalyzeMethodNotAllowed(t *testing.T) {
	gemini := &fakeGemini{}
	srv := newTestServer(t, true, gemini)

	methods := []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead, http.MethodOptions}
	for _, method := range methods {
		req := httptest.NewRequest(method, "/api/analyze", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rec.Code)
			continue
		}
		if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
			t.Errorf("%s: expected Allow: POST, got %q", method, allow)
		}
		if method == http.MethodHead {
			continue
		}
		var body proxy.ErrorResponse
		decodeBody(t, rec, &body)
		if body.Error != "Method not allowed" {
			t.Errorf("%s: expected 'Method not allowed', got %q", method, body.Error)
		}
	}
	if gemini.calls.Load() != 0 {
		t.Errorf("expected no upstream call, got %d", gemini.calls.Load())
	}
}

func TestAPIAnalyzeSuccess(t *testing.T) {
	gemini := &fakeGemini{chatReply: "Hello there"}
	srv := newTestServer(t, true, gemini)

	rec := postAnalyze(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var resp proxy.Response
	decodeBody(t, rec, &resp)
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" || resp.Content[0].Text != "Hello there" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gemini.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", gemini.calls.Load())
	}
}

func TestAPIAnalyzeUpstreamError(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{status: http.StatusBadRequest, body: `{"error":{"message":"bad key"}}`})

	rec := postAnalyze(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body proxy.ErrorResponse
	decodeBody(t, rec, &body)
	if body.Error != "Gemini API error" {
		t.Errorf("unexpected error: %q", body.Error)
	}
	if !strings.Contains(body.Details, "bad key") {
		t.Errorf("expected upstream body in details, got %q", body.Details)
	}
}

func TestAPIAnalyzeNoCandidate(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{body: `{"candidates":[]}`})

	rec := postAnalyze(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body proxy.ErrorResponse
	decodeBody(t, rec, &body)
	if body.Error == "" || body.Details == "" {
		t.Errorf("expected error and details, got %+v", body)
	}
}

func TestAPIAnalyzeMalformedBody(t *testing.T) {
	gemini := &fakeGemini{}
	srv := newTestServer(t, true, gemini)

	rec := postAnalyze(t, srv, `{"messages":`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if gemini.calls.Load() != 0 {
		t.Errorf("expected no upstream call, got %d", gemini.calls.Load())
	}
}

func TestIndexRoute(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Upload Documents") {
		t.Error("expected upload section in response body")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie || !cookies[0].HttpOnly {
		t.Errorf("expected an HttpOnly session cookie, got %+v", cookies)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})

	req := httptest.NewRequest(http.MethodGet, "/static/style.css", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body struct {
		Status           string `json:"status"`
		GeminiConfigured bool   `json:"gemini_configured"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || !body.GeminiConfigured {
		t.Errorf("unexpected health: %+v", body)
	}
}

func TestModelsRoutes(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "models/gemini-2.5-flash") {
		t.Errorf("expected model listing, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/models", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatalf("parsing models page: %v", err)
	}
	if got := doc.Find("table.models tbody tr").Length(); got != 1 {
		t.Errorf("expected 1 model row, got %d", got)
	}
}

// browser drives the UI through a real listener with a cookie jar, following
// the post/redirect/get flow.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newBrowser(t *testing.T, srv *Server) *browser {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme == "mailto" {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &browser{t: t, base: ts.URL, client: client}
}

func (b *browser) upload(name, contentType string, data []byte) *goquery.Document {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		b.t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err := b.client.Post(b.base+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		b.t.Fatal(err)
	}
	return b.page(resp)
}

func (b *browser) post(path, form string) *goquery.Document {
	b.t.Helper()
	resp, err := b.client.Post(b.base+path, "application/x-www-form-urlencoded", strings.NewReader(form))
	if err != nil {
		b.t.Fatal(err)
	}
	return b.page(resp)
}

func (b *browser) get(path string) *http.Response {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	if err != nil {
		b.t.Fatal(err)
	}
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) page(resp *http.Response) *goquery.Document {
	b.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		b.t.Fatal(err)
	}
	return doc
}

func TestUploadRejectsNonPDF(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{})
	b := newBrowser(t, srv)

	doc := b.upload("notes.txt", "text/plain", []byte("hello"))
	if got := strings.TrimSpace(doc.Find(".error").Text()); got != "Only PDF files are accepted" {
		t.Errorf("expected rejection message, got %q", got)
	}
	if doc.Find(".file").Length() != 0 {
		t.Error("expected no files listed")
	}
}

func TestAnalyzeAndChatFlow(t *testing.T) {
	gemini := &fakeGemini{chatReply: "Revenue rose 25%."}
	srv := newTestServer(t, true, gemini)
	b := newBrowser(t, srv)

	doc := b.upload("acme.pdf", "application/pdf", []byte("%PDF-1.4 fake"))
	if got := doc.Find(".file-name").Text(); got != "acme.pdf" {
		t.Fatalf("expected acme.pdf listed, got %q", got)
	}

	doc = b.post("/analyze", "")
	rep := doc.Find("section.report")
	if rep.Length() != 1 {
		t.Fatalf("expected 1 report, got %d", rep.Length())
	}
	if got := rep.Find("h2").First().Text(); got != "Acme Holdings" {
		t.Errorf("unexpected company %q", got)
	}
	if rep.Find(".summary strong").Text() != "grew" {
		t.Error("expected executive summary rendered as markdown")
	}
	if !rep.Find(".credit").HasClass("credit-approve") {
		t.Error("expected approve styling")
	}
	if got := rep.Find(".metric .value").First().Text(); got != "1,250,000" {
		t.Errorf("unexpected revenue %q", got)
	}

	doc = b.post("/chat", "message=How+did+revenue+change%3F")
	messages := doc.Find(".transcript .message")
	if messages.Length() != 2 {
		t.Fatalf("expected 2 messages, got %d", messages.Length())
	}
	if !messages.Eq(0).HasClass("message-user") || messages.Eq(0).Text() != "How did revenue change?" {
		t.Errorf("unexpected user turn %q", messages.Eq(0).Text())
	}
	if messages.Eq(1).Text() != "Revenue rose 25%." {
		t.Errorf("unexpected assistant turn %q", messages.Eq(1).Text())
	}

	// Blank input is ignored.
	doc = b.post("/chat", "message=+++")
	if got := doc.Find(".transcript .message").Length(); got != 2 {
		t.Errorf("expected transcript unchanged, got %d messages", got)
	}
	if gemini.calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", gemini.calls.Load())
	}

	resp := b.get("/reports/0/html")
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="Acme_Holdings_Analysis.html"` {
		t.Errorf("unexpected disposition %q", got)
	}

	resp = b.get("/reports/0/csv")
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="Acme_Holdings_Analysis.csv"` {
		t.Errorf("unexpected disposition %q", got)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "Generated: 3/7/2025") {
		t.Errorf("expected generated date in CSV, got %q", data)
	}

	resp = b.get("/reports/0/email")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "mailto:?subject=") {
		t.Errorf("unexpected location %q", loc)
	}

	if resp := b.get("/reports/5/html"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing report, got %d", resp.StatusCode)
	}

	// A new selection clears reports and chat.
	doc = b.upload("other.pdf", "application/pdf", []byte("%PDF-1.4 other"))
	if doc.Find("section.report").Length() != 0 || doc.Find("#chat").Length() != 0 {
		t.Error("expected reports and chat cleared after new selection")
	}
}

func TestAnalyzeFailureKeepsFiles(t *testing.T) {
	srv := newTestServer(t, true, &fakeGemini{status: http.StatusInternalServerError, body: "boom"})
	b := newBrowser(t, srv)

	b.upload("acme.pdf", "application/pdf", []byte("%PDF-1.4 fake"))
	doc := b.post("/analyze", "")

	if got := doc.Find(".error").Text(); !strings.HasPrefix(got, "Analysis failed: ") {
		t.Errorf("expected analysis failure message, got %q", got)
	}
	if doc.Find(".file").Length() != 1 {
		t.Error("expected the selection to be kept")
	}
	if doc.Find("section.report").Length() != 0 {
		t.Error("expected no reports")
	}
}

func TestAnalyzeSurvivesClientDisconnect(t *testing.T) {
	gemini := &fakeGemini{}
	srv := newTestServer(t, true, gemini)

	sess := srv.store.Create()
	if err := sess.SelectFiles([]upload.Document{{Name: "acme.pdf", MediaType: upload.PDFMediaType, Data: []byte("%PDF-1.4")}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/analyze", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sess.ID})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	snap := sess.Snapshot()
	if snap.Error != "" {
		t.Errorf("expected no error, got %q", snap.Error)
	}
	if len(snap.Reports) != 1 || snap.Reports[0].CompanyName != "Acme Holdings" {
		t.Errorf("expected the analysis to complete, got %d reports", len(snap.Reports))
	}
	if gemini.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", gemini.calls.Load())
	}
}

func TestPremiumExportsDisabled(t *testing.T) {
	srv := newTestServer(t, false, &fakeGemini{})
	b := newBrowser(t, srv)

	b.upload("acme.pdf", "application/pdf", []byte("%PDF-1.4 fake"))
	doc := b.post("/analyze", "")
	if got := doc.Find(".actions a").Length(); got != 1 {
		t.Errorf("expected only the HTML export link, got %d", got)
	}

	for _, format := range []string{"csv", "email"} {
		if resp := b.get("/reports/0/" + format); resp.StatusCode != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", format, resp.StatusCode)
		}
	}
	if resp := b.get("/reports/0/html"); resp.StatusCode != http.StatusOK {
		t.Errorf("expected HTML export to stay available, got %d", resp.StatusCode)
	}
}

func TestCreditClass(t *testing.T) {
	tests := map[string]string{
		"APPROVE":     "approve",
		"DECLINE":     "decline",
		"CONDITIONAL": "conditional",
		"":            "conditional",
	}
	for in, want := range tests {
		if got := creditClass(report.Decision(in)); got != want {
			t.Errorf("creditClass(%q) = %q, want %q", in, got, want)
		}
	}
}
