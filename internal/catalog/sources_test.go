package catalog

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testCatalog = `
label: Site recipes
categories:
  - id: seo
    name: SEO
  - id: media
    name: Media
projects:
  - machine_name: seo_tools
    title: SEO tools
    type: recipe
    body: Search engine helpers
    categories: [seo]
    project_usage_total: 10
    is_maintained: true
  - machine_name: image_media
    title: Image media
    categories: [media]
    project_usage_total: 50
  - machine_name: alpha
    title: Alpha
    project_usage_total: 5
    is_compatible: false
`

func TestYAMLSourceFilters(t *testing.T) {
	src, err := ParseYAMLSource("recipes", []byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseYAMLSource() error = %v", err)
	}

	tests := []struct {
		name  string
		query Query
		want  []string
		total int
	}{
		{"default sort by usage", Query{}, []string{"image_media", "seo_tools", "alpha"}, 3},
		{"alphabetical", Query{Sort: SortAZ}, []string{"alpha", "image_media", "seo_tools"}, 3},
		{"search", Query{Search: "search engine"}, []string{"seo_tools"}, 1},
		{"category", Query{Categories: []string{"media"}}, []string{"image_media"}, 1},
		{"maintained", Query{MaintenanceStatus: true}, []string{"seo_tools"}, 1},
		{"second page", Query{Limit: 2, Page: 1}, []string{"alpha"}, 3},
		{"past the end", Query{Limit: 2, Page: 5}, []string{}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := src.GetProjects(t.Context(), tt.query)
			if err != nil {
				t.Fatalf("GetProjects() error = %v", err)
			}
			if page.TotalResults() != tt.total {
				t.Errorf("TotalResults = %d, want %d", page.TotalResults(), tt.total)
			}
			list := page.List()
			if len(list) != len(tt.want) {
				t.Fatalf("got %d projects, want %d", len(list), len(tt.want))
			}
			for i, m := range tt.want {
				if list[i].MachineName != m {
					t.Errorf("list[%d] = %s, want %s", i, list[i].MachineName, m)
				}
			}
		})
	}
}

func TestYAMLSourceDefaults(t *testing.T) {
	src, err := ParseYAMLSource("recipes", []byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseYAMLSource() error = %v", err)
	}
	page, _ := src.GetProjects(t.Context(), Query{MachineName: "image_media"})
	p := page.List()[0]
	if p.ID != "recipes/image_media" || p.PackageName != "drupal/image_media" || p.Type != TypeModule || !p.IsCompatible {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.Status != nil || p.Commands != nil {
		t.Errorf("activation info should be unset")
	}
}

func TestYAMLSourceRejectsBadFiles(t *testing.T) {
	bad := []string{
		"projects:\n  - title: nameless\n",
		"projects:\n  - machine_name: a\n  - machine_name: a\n",
		"projects:\n  - machine_name: a\n    categories: [missing]\n",
	}
	for _, doc := range bad {
		if _, err := ParseYAMLSource("x", []byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			if r.URL.Query().Get("search") != "token" {
				t.Errorf("search parameter not forwarded: %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"total": 1, "projects": [{"machine_name": "token", "title": "Token", "package_name": "drupal/token", "status": "active"}]}`))
		case "/categories":
			_, _ = w.Write([]byte(`[{"id": "1", "name": "Developer tools"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource("drupal_org", "Drupal.org", srv.URL+"/", srv.Client())
	page, err := src.GetProjects(t.Context(), Query{Search: "token"})
	if err != nil {
		t.Fatalf("GetProjects() error = %v", err)
	}
	if page.Error() != "" {
		t.Fatalf("unexpected page error: %s", page.Error())
	}
	p := page.List()[0]
	if p.ID != "drupal_org/token" {
		t.Errorf("ID = %s, want drupal_org/token", p.ID)
	}
	if p.Status != nil {
		t.Errorf("remote status should be discarded")
	}

	cats, err := src.Categories(t.Context())
	if err != nil || len(cats) != 1 {
		t.Fatalf("Categories() = %v, %v", cats, err)
	}
}

func TestHTTPSourceFailureBecomesErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	page, err := NewHTTPSource("remote", "Remote", srv.URL, srv.Client()).GetProjects(t.Context(), Query{})
	if err != nil {
		t.Fatalf("GetProjects() error = %v", err)
	}
	if page.Error() == "" {
		t.Errorf("expected error page for 503 answer")
	}
}
