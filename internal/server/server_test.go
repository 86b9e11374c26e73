package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/config"
	"projectbrowser/internal/database"
	"projectbrowser/internal/installer"
	"projectbrowser/internal/keyvalue"
	"projectbrowser/internal/progress"
	"projectbrowser/internal/stage"
	"projectbrowser/internal/systemcheck"
)

const testCatalog = `
label: Site recipes
projects:
  - machine_name: seo_tools
    title: SEO tools
    package_name: drupal/seo_tools
  - machine_name: blog
    title: Blog
    package_name: drupal/blog
`

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return nil, nil
}

type noopActivator struct{}

func (noopActivator) Activate(ctx context.Context, p catalog.Project) (*activation.Response, error) {
	return nil, nil
}

type staticChecker []systemcheck.CheckResult

func (c staticChecker) Run(ctx context.Context) []systemcheck.CheckResult { return c }

type fixture struct {
	srv     *httptest.Server
	client  *http.Client
	stages  *stage.Manager
	tracker *progress.Tracker
	cfg     *config.Config
}

func newFixture(t *testing.T, tokenHash string) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "server.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	root := filepath.Join(dir, "site")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "composer.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := catalog.ParseYAMLSource("recipes", []byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	kv := keyvalue.NewFactory(db)
	handler := catalog.NewEnabledSourceHandler(func(c string) catalog.Storage { return kv.Get(c) }, time.Hour, src)

	f := &fixture{
		stages:  stage.NewManager(db, stage.Options{Owner: "project_browser", ProjectRoot: root, StagingRoot: filepath.Join(dir, "staging"), Runner: noopRunner{}}),
		tracker: progress.NewTracker(kv.Get(progress.Collection)),
		cfg: &config.Config{
			SessionKey:     "test-session-key-with-at-least-32-bytes",
			AdminTokenHash: tokenHash,
		},
	}
	checker := staticChecker{{ID: "composer", Status: systemcheck.StatusOK, Message: "Composer detected"}}
	inst := installer.New(f.stages, f.tracker, handler, noopActivator{}, checker)

	s, err := New(f.cfg, Deps{DB: db, Installer: inst, Catalog: handler, Checker: checker})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	jar, _ := cookiejar.New(nil)
	f.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
	}
	return resp
}

func TestInstallWorkflow(t *testing.T) {
	f := newFixture(t, "")

	var pages map[string]json.RawMessage
	if resp := f.do(t, http.MethodGet, "/project-browser/data/project?source=recipes", nil, &pages); resp.StatusCode != http.StatusOK {
		t.Fatalf("projects status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(pages["recipes"]), `"id":"recipes/seo_tools"`) {
		t.Fatalf("unexpected projects payload %s", pages["recipes"])
	}

	var begin installer.Result
	resp := f.do(t, http.MethodGet, adminPrefix+"/install-begin?redirect=/admin/modules/browse", nil, &begin)
	if resp.StatusCode != http.StatusOK || begin.Phase != "create" || begin.Status != 0 || begin.StageID == "" {
		t.Fatalf("begin = %d %+v", resp.StatusCode, begin)
	}

	steps := []struct {
		path  string
		body  interface{}
		phase string
	}{
		{"/install-require/" + begin.StageID, []string{"recipes/seo_tools", "recipes/blog"}, "require"},
		{"/install-apply/" + begin.StageID, nil, "apply"},
		{"/install-post_apply/" + begin.StageID, nil, "post apply"},
		{"/install-destroy/" + begin.StageID, nil, "destroy"},
	}
	for _, s := range steps {
		var res installer.Result
		resp := f.do(t, http.MethodPost, adminPrefix+s.path, s.body, &res)
		if resp.StatusCode != http.StatusOK || res.Phase != s.phase || res.StageID != begin.StageID {
			t.Fatalf("%s = %d %+v", s.path, resp.StatusCode, res)
		}
	}

	var activated map[string]interface{}
	resp = f.do(t, http.MethodPost, adminPrefix+"/activate", []string{"recipes/seo_tools"}, &activated)
	if resp.StatusCode != http.StatusOK || activated["status"] != float64(0) {
		t.Fatalf("activate = %d %v", resp.StatusCode, activated)
	}
}

func TestRequireFailurePayload(t *testing.T) {
	f := newFixture(t, "")
	var begin installer.Result
	f.do(t, http.MethodGet, adminPrefix+"/install-begin", nil, &begin)

	tests := []struct {
		name string
		body interface{}
	}{
		{"not an array", map[string]string{"id": "x"}},
		{"empty array", []string{}},
		{"unknown project", []string{"recipes/missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failure map[string]string
			resp := f.do(t, http.MethodPost, adminPrefix+"/install-require/"+begin.StageID, tt.body, &failure)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", resp.StatusCode)
			}
			if failure["phase"] != "require" || failure["message"] == "" {
				t.Errorf("unexpected payload %v", failure)
			}
		})
	}
}

func TestLockedBeginAndUnlock(t *testing.T) {
	f := newFixture(t, "")
	var begin installer.Result
	f.do(t, http.MethodGet, adminPrefix+"/install-begin", nil, &begin)

	var locked installer.Locked
	resp := f.do(t, http.MethodGet, adminPrefix+"/install-begin?redirect=/admin/modules/browse/recipes", nil, &locked)
	if resp.StatusCode != StatusLocked {
		t.Fatalf("status = %d, want %d", resp.StatusCode, StatusLocked)
	}
	if locked.UnlockURL == "" {
		t.Fatalf("own lock without progress should offer unlock: %+v", locked)
	}
	u, err := url.Parse(locked.UnlockURL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("destination") != "/admin/modules/browse/recipes" || u.Query().Get("token") == "" {
		t.Errorf("unexpected unlock url %s", locked.UnlockURL)
	}

	forged := adminPrefix + "/install/unlock?token=forged&destination=/"
	if resp := f.do(t, http.MethodGet, forged, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("forged token status = %d, want 403", resp.StatusCode)
	}
	if ok, _ := f.stages.IsAvailable(t.Context()); ok {
		t.Fatalf("forged unlock must not destroy the stage")
	}

	resp = f.do(t, http.MethodGet, locked.UnlockURL, nil, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("unlock status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/admin/modules/browse/recipes" {
		t.Errorf("Location = %q", loc)
	}
	if ok, _ := f.stages.IsAvailable(t.Context()); !ok {
		t.Errorf("stage should be destroyed by unlock")
	}

	var messages []Message
	f.do(t, http.MethodGet, "/project-browser/messages", nil, &messages)
	if len(messages) != 1 || messages[0].Text != "Operation complete, you can add a new project again." {
		t.Errorf("messages = %+v", messages)
	}
	f.do(t, http.MethodGet, "/project-browser/messages", nil, &messages)
	if len(messages) != 0 {
		t.Errorf("messages should be consumed, got %+v", messages)
	}
}

func TestStaleUnlockLinkKeepsNewerStage(t *testing.T) {
	f := newFixture(t, "")
	var first installer.Result
	f.do(t, http.MethodGet, adminPrefix+"/install-begin", nil, &first)

	var locked installer.Locked
	f.do(t, http.MethodGet, adminPrefix+"/install-begin", nil, &locked)
	u, err := url.Parse(locked.UnlockURL)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("stage_id"); got != first.StageID {
		t.Fatalf("unlock url stage_id = %q, want %q", got, first.StageID)
	}

	if err := f.stages.ForceDestroy(t.Context()); err != nil {
		t.Fatalf("ForceDestroy() error = %v", err)
	}
	var second installer.Result
	if resp := f.do(t, http.MethodGet, adminPrefix+"/install-begin", nil, &second); resp.StatusCode != http.StatusOK {
		t.Fatalf("second begin status = %d", resp.StatusCode)
	}

	resp := f.do(t, http.MethodGet, locked.UnlockURL, nil, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("stale unlock status = %d, want 500", resp.StatusCode)
	}
	current, err := f.stages.Current(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if current == nil || current.ID != second.StageID {
		t.Errorf("stale unlock link destroyed stage %s: current = %+v", second.StageID, current)
	}
}

func TestNewRejectsDefaultSessionKeyWithAuth(t *testing.T) {
	deps := Deps{
		Installer: installer.New(nil, nil, nil, nil, nil),
		Catalog:   catalog.NewEnabledSourceHandler(nil, time.Hour),
	}

	cfg := &config.Config{SessionKey: config.DefaultSessionKey, AdminTokenHash: "$2a$10$hash"}
	if _, err := New(cfg, deps); err == nil || !strings.Contains(err.Error(), "session_key") {
		t.Errorf("New() error = %v, want session_key error", err)
	}

	// Without auth the default key is tolerated for local development.
	cfg.AdminTokenHash = ""
	if _, err := New(cfg, deps); err != nil {
		t.Errorf("New() without auth error = %v", err)
	}
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, string(hash))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusForbidden},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, f.srv.URL+adminPrefix+"/system-check", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	// Catalog browsing stays public.
	if resp := f.do(t, http.MethodGet, "/project-browser/data/project", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("public projects status = %d", resp.StatusCode)
	}
}

func TestSafeDestination(t *testing.T) {
	tests := map[string]string{
		"":                          DefaultDestination,
		"/admin/modules":            "/admin/modules",
		"/admin/modules?page=2":     "/admin/modules?page=2",
		"//evil.example.com/":       DefaultDestination,
		"https://evil.example.com/": DefaultDestination,
		`/\evil.example.com`:        DefaultDestination,
		"relative/path":             DefaultDestination,
	}
	for in, want := range tests {
		if got := safeDestination(in); got != want {
			t.Errorf("safeDestination(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t, "")

	if resp := f.do(t, http.MethodGet, "/project-browser/data/project?source=nope", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown source status = %d, want 404", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/project-browser/data/project?page=-1", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad page status = %d, want 400", resp.StatusCode)
	}

	var cats map[string][]catalog.Category
	if resp := f.do(t, http.MethodGet, "/project-browser/data/categories", nil, &cats); resp.StatusCode != http.StatusOK {
		t.Errorf("categories status = %d", resp.StatusCode)
	}
	if _, ok := cats["recipes"]; !ok {
		t.Errorf("categories should be keyed by source, got %v", cats)
	}

	if resp := f.do(t, http.MethodPost, "/project-browser/data/clear?source=recipes", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d", resp.StatusCode)
	}

	var state installer.State
	if resp := f.do(t, http.MethodGet, "/project-browser/install-state", nil, &state); resp.StatusCode != http.StatusOK {
		t.Errorf("install state status = %d", resp.StatusCode)
	}
	if state.Stage != nil || len(state.Projects) != 0 {
		t.Errorf("expected idle state, got %+v", state)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")

	var health map[string]string
	if resp := f.do(t, http.MethodGet, "/healthz", nil, &health); resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, health)
	}

	resp, err := f.client.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "projectbrowser_http_requests_total") {
		t.Errorf("metrics output missing request counter")
	}
}
