package index

import (
	"testing"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
)

func TestFileFilterApply(t *testing.T) {
	entries := []github.TreeEntry{
		{Path: "README.md", Kind: github.KindBlob, Size: 1200},
		{Path: "docs", Kind: github.KindTree},
		{Path: "docs/guide.md", Kind: github.KindBlob, Size: 4096},
		{Path: "docs/huge.md", Kind: github.KindBlob, Size: 600 * 1024},
		{Path: "node_modules/pkg/README.md", Kind: github.KindBlob, Size: 100},
		{Path: "vendor/lib/NOTICE.txt", Kind: github.KindBlob, Size: 100},
		{Path: "main.go", Kind: github.KindBlob, Size: 900},
		{Path: "manual.rst", Kind: github.KindBlob, Size: 900},
		{Path: "CHANGES.adoc", Kind: github.KindBlob, Size: 900},
		{Path: "notes.TXT", Kind: github.KindBlob, Size: 900},
	}

	got := NewFileFilter(0).Apply(entries)

	want := []string{"README.md", "docs/guide.md", "manual.rst", "CHANGES.adoc", "notes.TXT"}
	if len(got) != len(want) {
		t.Fatalf("kept %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, path := range want {
		if got[i].Path != path {
			t.Errorf("entry %d = %q, want %q", i, got[i].Path, path)
		}
	}
}

func TestFileFilterCustomSize(t *testing.T) {
	entries := []github.TreeEntry{
		{Path: "a.md", Kind: github.KindBlob, Size: 50},
		{Path: "b.md", Kind: github.KindBlob, Size: 150},
	}
	got := NewFileFilter(100).Apply(entries)
	if len(got) != 1 || got[0].Path != "a.md" {
		t.Errorf("got %+v, want only a.md", got)
	}
}

func TestLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"README.md", "markdown"},
		{"docs/page.MDX", "markdown"},
		{"manual.rst", "restructuredtext"},
		{"notes.txt", "text"},
		{"main.go", ""},
		{"LICENSE", ""},
	}
	for _, tt := range tests {
		if got := Language(tt.path); got != tt.want {
			t.Errorf("Language(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
