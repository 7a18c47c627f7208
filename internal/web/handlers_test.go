package web

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/vault"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.VaultRoot = filepath.Join(tmpDir, "vault")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := vault.NewWriter(database, cfg.VaultRoot, vault.WithLogger(logger))

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		db:       database,
		cfg:      cfg,
		worker:   vault.NewWorker(database, writer, 0, logger),
		renderer: NewRenderer(templateSub, "test", logger),
	}
}

// seedStaged stages an email capture and returns its ID.
func seedStaged(t *testing.T, h *Handlers, nativeID string) string {
	t.Helper()
	out, err := ops.Intake(context.Background(), h.db, h.cfg, ops.IntakeInput{
		Source:  capture.SourceEmail,
		Content: "pending",
		Meta:    capture.Meta{Channel: "gmail", ChannelNativeID: nativeID},
	})
	if err != nil {
		t.Fatalf("seed capture %q: %v", nativeID, err)
	}
	return out.ID
}

// seedTranscribed stages a capture and finalizes its transcript.
func seedTranscribed(t *testing.T, h *Handlers, nativeID, content string) string {
	t.Helper()
	id := seedStaged(t, h, nativeID)
	if _, err := ops.Transcribe(context.Background(), h.db, ops.TranscribeInput{ID: id, Content: content}); err != nil {
		t.Fatalf("transcribe %q: %v", nativeID, err)
	}
	return id
}

// newMissingID returns a well-formed capture ID that was never stored.
func newMissingID(t *testing.T) string {
	t.Helper()
	id, err := capture.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "first note")

	req := httptest.NewRequest("GET", "/captures", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, "/captures/"+id) {
		t.Error("expected link to capture detail")
	}
	if !strings.Contains(body, "transcribed (1)") {
		t.Error("expected transcribed count in status filter")
	}
}

func TestHandleList_WithStatusFilter(t *testing.T) {
	h := setupTest(t)
	transcribedID := seedTranscribed(t, h, "m1", "done")
	stagedID := seedStaged(t, h, "m2")

	req := httptest.NewRequest("GET", "/captures?status=staged", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/captures/"+stagedID) {
		t.Error("expected staged capture in filtered results")
	}
	if strings.Contains(body, "/captures/"+transcribedID) {
		t.Error("did not expect transcribed capture in filtered results")
	}
}

func TestHandleList_InvalidStatus(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/captures?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/captures", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No captures found") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_InvalidLimitFallsBack(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/captures?limit=notanumber&offset=bad", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleList_ShowsNotice(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/captures?notice="+url.QueryEscape("Purged 3 captures"), nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if !strings.Contains(rec.Body.String(), "Purged 3 captures") {
		t.Error("expected notice in response")
	}
}

// --- HandleDetail ---

func TestHandleDetail_RendersTranscript(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "# Groceries\n\n- milk\n- **eggs**")

	req := httptest.NewRequest("GET", "/captures/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Groceries</h1>") {
		t.Error("expected derived note title")
	}
	if !strings.Contains(body, "<strong>eggs</strong>") {
		t.Error("expected markdown rendered to HTML")
	}
	if !strings.Contains(body, "Not exported yet") {
		t.Error("expected empty export history")
	}
}

func TestHandleDetail_EscapesRawHTML(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "hello <script>alert(1)</script>")

	req := httptest.NewRequest("GET", "/captures/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("raw HTML from the transcript must not reach the page")
	}
}

func TestHandleDetail_ShowsExportHistory(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "exported body")
	if _, err := h.worker.ExportOne(context.Background(), id); err != nil {
		t.Fatalf("export: %v", err)
	}

	req := httptest.NewRequest("GET", "/captures/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, vault.RelDest(id)) {
		t.Error("expected vault path in export history")
	}
	if !strings.Contains(body, string(capture.ExportModeInitial)) {
		t.Error("expected export mode in export history")
	}
}

func TestHandleDetail_JSON(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "json body")

	req := httptest.NewRequest("GET", "/captures/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.ShowOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Capture.ID != id {
		t.Errorf("id = %q, want %q", out.Capture.ID, id)
	}
	if out.Capture.RawContent != "json body" {
		t.Errorf("raw_content = %q", out.Capture.RawContent)
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)
	missing := newMissingID(t)

	req := httptest.NewRequest("GET", "/captures/"+missing, nil)
	req.SetPathValue("id", missing)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "404") {
		t.Error("expected status code on error page")
	}
}

func TestHandleDetail_NotFoundJSON(t *testing.T) {
	h := setupTest(t)
	missing := newMissingID(t)

	req := httptest.NewRequest("GET", "/captures/"+missing, nil)
	req.SetPathValue("id", missing)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"]["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", body["error"]["code"])
	}
}

// --- HandleErrors ---

func TestHandleErrors_ListsFailures(t *testing.T) {
	h := setupTest(t)
	id := seedStaged(t, h, "m1")
	if _, err := ops.FailTranscription(context.Background(), h.db, ops.FailTranscriptionInput{ID: id, Reason: "audio was silent"}); err != nil {
		t.Fatalf("fail transcription: %v", err)
	}

	req := httptest.NewRequest("GET", "/errors?stage=transcribe", nil)
	rec := httptest.NewRecorder()
	h.HandleErrors(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "audio was silent") {
		t.Error("expected failure reason in error log")
	}
	if !strings.Contains(body, "/captures/"+id) {
		t.Error("expected link to failed capture")
	}
}

func TestHandleErrors_InvalidStage(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/errors?stage=compile", nil)
	rec := httptest.NewRecorder()
	h.HandleErrors(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- HandleExport ---

func TestHandleExport_RunsPass(t *testing.T) {
	h := setupTest(t)
	id := seedTranscribed(t, h, "m1", "to the vault")

	req := httptest.NewRequest("POST", "/export", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary vault.RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Exported != 1 {
		t.Errorf("exported = %d, want 1", summary.Exported)
	}

	note, err := os.ReadFile(filepath.Join(h.cfg.VaultRoot, vault.RelDest(id)))
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if !strings.Contains(string(note), "to the vault") {
		t.Errorf("note missing body:\n%s", note)
	}
}

func TestHandleExport_RedirectsBrowser(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/export", nil)
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/captures" {
		t.Errorf("Location = %q, want /captures", loc)
	}
}

// --- HandleResume ---

func TestHandleResume_NotHalted(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/export/resume", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleResume(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["was_halted"] != false {
		t.Errorf("was_halted = %v, want false", body["was_halted"])
	}
}

func TestHandleResume_ClearsHalt(t *testing.T) {
	h := setupTest(t)
	if _, err := db.PutCursor(context.Background(), h.db, vault.HaltKey, "disk full"); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}

	listRec := httptest.NewRecorder()
	h.HandleList(listRec, httptest.NewRequest("GET", "/captures", nil))
	if !strings.Contains(listRec.Body.String(), "disk full") {
		t.Error("list page should show the halt reason")
	}

	req := httptest.NewRequest("POST", "/export/resume", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleResume(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["was_halted"] != true {
		t.Errorf("was_halted = %v, want true", body["was_halted"])
	}
	if body["reason"] != "disk full" {
		t.Errorf("reason = %v, want %q", body["reason"], "disk full")
	}
	if halted, _ := h.worker.Writer().Halted(); halted {
		t.Error("writer still halted after resume")
	}
}

// --- HandlePurge ---

func TestHandlePurge_RequiresConfirm(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/captures/purge", strings.NewReader("older_than_days=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePurge_InvalidDays(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/captures/purge", strings.NewReader("confirm=true&older_than_days=soon"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePurge_DeletesFinished(t *testing.T) {
	h := setupTest(t)
	exported := seedTranscribed(t, h, "m1", "done")
	if _, err := h.worker.ExportOne(context.Background(), exported); err != nil {
		t.Fatalf("export: %v", err)
	}
	pending := seedTranscribed(t, h, "m2", "waiting")

	req := httptest.NewRequest("POST", "/captures/purge", strings.NewReader("confirm=true"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["purged"] != float64(1) {
		t.Errorf("purged = %v, want 1", body["purged"])
	}

	if _, err := ops.Show(context.Background(), h.db, exported); err == nil {
		t.Error("expected exported capture to be purged")
	}
	if _, err := ops.Show(context.Background(), h.db, pending); err != nil {
		t.Errorf("pending capture should survive purge: %v", err)
	}
}

func TestHandlePurge_RedirectsWithNotice(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/captures/purge", strings.NewReader("confirm=true&older_than_days=7"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/captures?notice=") {
		t.Errorf("Location = %q, want notice redirect", loc)
	}
}

// --- routing ---

func TestRoutes(t *testing.T) {
	h := setupTest(t)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		t.Fatalf("static sub-FS: %v", err)
	}
	srv := httptest.NewServer(securityHeaders(routes(h, staticSub)))
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/", http.StatusFound},
		{"GET", "/captures", http.StatusOK},
		{"GET", "/errors", http.StatusOK},
		{"GET", "/static/style.css", http.StatusOK},
		{"GET", "/export", http.StatusMethodNotAllowed},
		{"GET", "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get("X-Frame-Options") != "DENY" {
				t.Error("expected security headers")
			}
		})
	}
}

// --- helpers ---

func TestFormatChars(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}
	for _, tt := range tests {
		if got := formatChars(tt.in); got != tt.want {
			t.Errorf("formatChars(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("01ARZ3NDEKTSV4RRFFQ69G5FAV"); got != "01ARZ3NDEK..." {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q", got)
	}
}
