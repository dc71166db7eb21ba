package index

import (
	"path"
	"strings"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
)

// MaxFileSize is the default upper bound on an indexable file, in bytes.
const MaxFileSize = 500 * 1024

// ignoredDirs are dependency/build directories never worth indexing.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"third_party":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".git":         true,
	".github":      true,
}

// docExtensions is the allow-list of documentation file types, mapped to a
// content-language tag stored on each chunk.
var docExtensions = map[string]string{
	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "restructuredtext",
	".adoc":     "asciidoc",
	".txt":      "text",
}

// FileFilter selects the indexable subset of a repository tree.
type FileFilter struct {
	maxFileSize int64
}

// NewFileFilter creates a filter. maxFileSize <= 0 uses MaxFileSize.
func NewFileFilter(maxFileSize int64) *FileFilter {
	if maxFileSize <= 0 {
		maxFileSize = MaxFileSize
	}
	return &FileFilter{maxFileSize: maxFileSize}
}

// Apply returns the entries worth indexing: regular files within the size
// bound, outside ignored directories, with an allow-listed documentation
// extension. Order is preserved.
func (f *FileFilter) Apply(entries []github.TreeEntry) []github.TreeEntry {
	var kept []github.TreeEntry
	for _, e := range entries {
		if e.Kind != github.KindBlob {
			continue
		}
		if e.Size > f.maxFileSize {
			continue
		}
		if underIgnoredDir(e.Path) {
			continue
		}
		if _, ok := docExtensions[strings.ToLower(path.Ext(e.Path))]; !ok {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Language returns the content-language tag for a file path, empty when the
// extension is not allow-listed.
func Language(filePath string) string {
	return docExtensions[strings.ToLower(path.Ext(filePath))]
}

func underIgnoredDir(filePath string) bool {
	for _, part := range strings.Split(path.Dir(filePath), "/") {
		if ignoredDirs[part] {
			return true
		}
	}
	return false
}
