package steps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/semrel/internal/pipeline"
)

type fakeGitHub struct {
	mu       sync.Mutex
	releases map[string]map[string]any
	auth     []string
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{releases: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_ = json.NewEncoder(w).Encode(map[string]any{"full_name": "acme/app"})
	})
	mux.HandleFunc("/repos/acme/app/releases", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tag, _ := body["tag_name"].(string)
		body["html_url"] = "https://github.example/acme/app/releases/tag/" + tag
		f.mu.Lock()
		f.releases[tag] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/repos/acme/app/releases/tags/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		tag := strings.TrimPrefix(r.URL.Path, "/repos/acme/app/releases/tags/")
		f.mu.Lock()
		rel, ok := f.releases[tag]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
			return
		}
		_ = json.NewEncoder(w).Encode(rel)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
}

func TestGitHubStepPublishesRelease(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	step := buildStep(t, "github", map[string]any{
		"repository": "acme/app",
		"token":      "test-token",
		"apiURL":     srv.URL,
	}, Deps{HTTPClient: srv.Client()})

	ctx := context.Background()
	rc := testContext()
	rc.Channel.Prerelease = true
	checker := step.(pipeline.ExistenceChecker)

	if existing, err := checker.Lookup(ctx, rc); err != nil || existing != nil {
		t.Fatalf("expected no release yet: %+v err=%v", existing, err)
	}
	if err := step.(pipeline.Verifier).Verify(ctx, rc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	ref, err := step.(pipeline.Publisher).Publish(ctx, rc)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ref != "https://github.example/acme/app/releases/tag/v1.3.0" {
		t.Fatalf("ref=%q", ref)
	}

	got := fake.releases["v1.3.0"]
	want := map[string]any{
		"tag_name":         "v1.3.0",
		"name":             "v1.3.0",
		"body":             rc.Notes,
		"draft":            false,
		"prerelease":       true,
		"target_commitish": rc.Head,
		"html_url":         ref,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("release payload mismatch (-want +got):\n%s", diff)
	}

	existing, err := checker.Lookup(ctx, rc)
	if err != nil || existing == nil {
		t.Fatalf("expected release after publish: %+v err=%v", existing, err)
	}
	if existing.Source != "github" || existing.Notes != rc.Notes {
		t.Fatalf("unexpected existing: %+v", existing)
	}
	for _, h := range fake.auth {
		if h != "Bearer test-token" {
			t.Fatalf("unexpected authorization header %q", h)
		}
	}
}

func TestGitHubStepNeedsToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	step := buildStep(t, "github", map[string]any{"repository": "acme/app"}, Deps{})
	if err := step.(pipeline.Verifier).Verify(context.Background(), testContext()); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestSplitRepository(t *testing.T) {
	cases := []struct {
		in          string
		owner, name string
		ok          bool
	}{
		{in: "acme/app", owner: "acme", name: "app", ok: true},
		{in: "https://github.com/acme/app.git", owner: "acme", name: "app", ok: true},
		{in: "git@github.com:acme/app.git", owner: "acme", name: "app", ok: true},
		{in: "ssh://git@github.com/acme/app", owner: "acme", name: "app", ok: true},
		{in: "app", ok: false},
		{in: "https://github.com/acme/app/extra", ok: false},
	}
	for _, tc := range cases {
		owner, name, ok := splitRepository(tc.in)
		if ok != tc.ok || owner != tc.owner || name != tc.name {
			t.Fatalf("splitRepository(%q)=%q,%q,%v", tc.in, owner, name, ok)
		}
	}
}
