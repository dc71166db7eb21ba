package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

func TestListTree(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sha": "abc",
			"tree": [
				{"path": "README.md", "type": "blob", "size": 120, "sha": "s1"},
				{"path": "docs", "type": "tree", "size": 0, "sha": "s2"},
				{"path": "docs/guide.md", "type": "blob", "size": 2048, "sha": "s3"}
			],
			"truncated": false
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token", log.NewNop())
	entries, err := c.ListTree(context.Background(), "octo", "widgets", "main")
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Path != "README.md" || entries[0].Kind != KindBlob {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if gotPath != "/repos/octo/widgets/git/trees/main?recursive=1" {
		t.Errorf("unexpected request path: %s", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestListTreeTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sha": "abc", "tree": [], "truncated": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", log.NewNop())
	_, err := c.ListTree(context.Background(), "octo", "huge", "main")
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("got %v, want ErrTruncated", err)
	}
}

func TestListTreeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", log.NewNop())
	_, err := c.ListTree(context.Background(), "octo", "gone", "main")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("got %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", statusErr.StatusCode)
	}
}

func TestReadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# Hello\n\nContent."))
	}))
	defer srv.Close()

	c := New("", "", log.NewNop())
	body, err := c.ReadFile(context.Background(), srv.URL+"/octo/widgets/main/README.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(body) != "# Hello\n\nContent." {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestRawURL(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			"plain path",
			"docs/guide.md",
			"https://raw.githubusercontent.com/octo/widgets/main/docs/guide.md",
		},
		{
			"space in segment",
			"docs/user guide.md",
			"https://raw.githubusercontent.com/octo/widgets/main/docs/user%20guide.md",
		},
		{
			"fragment and query metacharacters",
			"docs/faq#1?.md",
			"https://raw.githubusercontent.com/octo/widgets/main/docs/faq%231%3F.md",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RawURL("octo", "widgets", "main", tt.path)
			if got != tt.want {
				t.Errorf("RawURL = %q, want %q", got, tt.want)
			}
		})
	}
}
