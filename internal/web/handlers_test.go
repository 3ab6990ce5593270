package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hpungsan/malaise/internal/analysis"
	"github.com/hpungsan/malaise/internal/config"
	"github.com/hpungsan/malaise/internal/db"
	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/ops"
)

const testDevice = "device-1"

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := config.DiscardLogger()
	deps := ops.Deps{
		Manager:  episode.NewManager(db.NewRecords(database), logger, config.DefaultDayThreshold),
		Analyzer: analysis.NewChain(logger, analysis.Rules{}),
		Config:   config.DefaultConfig(),
		BaseDir:  tmpDir,
		Logger:   logger,
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		deps:     deps,
		deviceID: testDevice,
		renderer: NewRenderer(templateSub, "test", logger),
	}
}

// seedEpisode logs one entry per date and returns the episode id.
func seedEpisode(t *testing.T, h *Handlers, dates []string, symptoms ...string) string {
	t.Helper()
	var id string
	for _, date := range dates {
		out, err := ops.Submit(context.Background(), h.deps, ops.SubmitInput{
			DeviceID: testDevice,
			Date:     date,
			Symptoms: symptoms,
			Notes:    "seeded <b>note</b>",
		})
		if err != nil {
			t.Fatalf("seed entry %s: %v", date, err)
		}
		id = out.Episode.ID
	}
	return id
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedEpisode(t, h, []string{"2024-01-01"}, "Headache")

	req := httptest.NewRequest("GET", "/episodes", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Headache Episode") {
		t.Error("response should contain the episode title")
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("full page should include the layout")
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/episodes?device_id=nobody", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No episodes yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_ActiveOnly(t *testing.T) {
	h := setupTest(t)
	seedEpisode(t, h, []string{"2024-01-01"}, "Cough")
	seedEpisode(t, h, []string{"2024-03-01"}, "Rash")

	req := httptest.NewRequest("GET", "/episodes?active_only=true", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	var resp ops.ListOutput
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Title != "Rash Episode" {
		t.Errorf("active items = %+v, want only the Rash episode", resp.Items)
	}
}

func TestHandleList_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t)
	seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("GET", "/episodes", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<!DOCTYPE html>") {
		t.Error("htmx response should not include the layout")
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01", "2024-01-02"}, "Headache")

	req := httptest.NewRequest("GET", "/episodes/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"2024-01-01", "2024-01-02", "Mark resolved", "Analyzed by rules"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "<b>note</b>") {
		t.Error("notes must be HTML-escaped")
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/episodes/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDetail_EmptyID(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/episodes/", nil)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// --- HandleResolve ---

func TestHandleResolve_DefaultRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	form := url.Values{"end_date": {"2024-01-05"}}
	req := httptest.NewRequest("POST", "/episodes/"+id+"/resolve", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleResolve(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/episodes/"+id {
		t.Errorf("Location = %q", loc)
	}

	ep, err := h.deps.Manager.GetEpisode(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if ep.Status != episode.StatusResolved || ep.EndDate == nil || *ep.EndDate != "2024-01-05" {
		t.Errorf("episode = %+v, want resolved on 2024-01-05", ep)
	}
}

func TestHandleResolve_JSON(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("POST", "/episodes/"+id+"/resolve", nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleResolve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if resp["status"] != "resolved" {
		t.Errorf("status = %v, want resolved", resp["status"])
	}
}

func TestHandleResolve_BadDate(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("POST", "/episodes/"+id+"/resolve?end_date=tomorrow", nil)
	req.SetPathValue("id", id)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleResolve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `class="error-message"`) {
		t.Error("htmx error should be an HTML fragment")
	}
}

// --- HandleDelete ---

func TestHandleDelete_HtmxRequest(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("DELETE", "/episodes/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("HX-Redirect"); got != "/episodes" {
		t.Errorf("HX-Redirect = %q, want /episodes", got)
	}
}

func TestHandleDelete_JSONRequest(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("DELETE", "/episodes/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "text/html, application/json")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if resp["deleted"] != true || resp["episode_id"] != id {
		t.Errorf("response = %v", resp)
	}
}

func TestHandleDelete_NotFound_JSON(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("DELETE", "/episodes/missing", nil)
	req.SetPathValue("id", "missing")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	errObj := resp["error"].(map[string]any)
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", errObj["code"])
	}
}

func TestHandleDelete_DefaultRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedEpisode(t, h, []string{"2024-01-01"}, "Cough")

	req := httptest.NewRequest("DELETE", "/episodes/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
}

// --- Server ---

func TestNewServer_RoutesAndHeaders(t *testing.T) {
	h := setupTest(t)
	srv, err := NewServer(h.deps, testDevice, "test", "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/episodes" {
		t.Errorf("GET / = %d %q, want redirect to /episodes", rec.Code, rec.Header().Get("Location"))
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /static/style.css = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func TestRenderMarkdown(t *testing.T) {
	got := string(renderMarkdown("**Rest** today\n\n<script>alert(1)</script>"))
	if !strings.Contains(got, "<strong>Rest</strong>") {
		t.Errorf("renderMarkdown = %q, want bold", got)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("renderMarkdown should drop raw HTML, got %q", got)
	}
}

func TestEntryViews(t *testing.T) {
	views := entryViews([]episode.SymptomEntry{
		{ID: "a", AIAnalysis: json.RawMessage(`{"analysis":"fine","source":"rules"}`)},
		{ID: "b", AIAnalysis: json.RawMessage(`not json`)},
		{ID: "c"},
	})
	if len(views) != 3 {
		t.Fatalf("len = %d, want 3", len(views))
	}
	if views[0].Analysis == nil || views[0].Analysis.Source != "rules" {
		t.Errorf("views[0].Analysis = %+v", views[0].Analysis)
	}
	if views[1].Analysis != nil || views[2].Analysis != nil {
		t.Error("unreadable or missing analysis should be nil")
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/episodes?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"active_only=true", true},
		{"active_only=1", true},
		{"active_only=false", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/episodes?"+tt.query, nil)
		if got := parseBoolParam(req, "active_only"); got != tt.want {
			t.Errorf("parseBoolParam(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
