// Package project maintains an index of the working directory: languages,
// the README, files by extension, and a search index used to resolve
// semantic file references like "readme" or "el archivo html".
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns are directories never worth indexing.
var defaultIgnorePatterns = []string{
	".git",
	"node_modules",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	"coverage",
	".venv",
	"target",
	".idea",
	".vscode",
}

// languageByExt maps file extensions to language names.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".rb":   "ruby",
	".php":  "php",
	".html": "html",
	".css":  "css",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sh":   "shell",
}

// maxIndexedFiles bounds the walk on huge trees.
const maxIndexedFiles = 5000

// FileEntry is one indexed file.
type FileEntry struct {
	RelPath string
	Ext     string
	Size    int64
	ModTime int64
}

// Explorer walks and indexes the working directory.
type Explorer struct {
	mu sync.Mutex

	Root string

	files      []FileEntry
	filesByExt map[string][]string
	languages  map[string]bool
	readme     string

	ignore *gitignore.GitIgnore
	db     *DB
	search *SearchIndex
	watch  *Watcher
}

// NewExplorer creates and populates an explorer for root. dbPath is the
// sqlite index location ("" disables persistence).
func NewExplorer(ctx context.Context, root, dbPath string) (*Explorer, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	e := &Explorer{
		Root:       absRoot,
		filesByExt: make(map[string][]string),
		languages:  make(map[string]bool),
	}
	e.ignore = e.buildIgnoreMatcher()

	if dbPath != "" {
		db, err := NewDB(ctx, dbPath)
		if err != nil {
			return nil, err
		}
		e.db = db
	}

	search, err := NewSearchIndex()
	if err != nil {
		return nil, err
	}
	e.search = search

	if err := e.Rescan(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// buildIgnoreMatcher combines the default patterns with the project's
// .gitignore when present.
func (e *Explorer) buildIgnoreMatcher() *gitignore.GitIgnore {
	patterns := append([]string(nil), defaultIgnorePatterns...)
	if data, err := os.ReadFile(filepath.Join(e.Root, ".gitignore")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				patterns = append(patterns, line)
			}
		}
	}
	return gitignore.CompileIgnoreLines(patterns...)
}

// Rescan rebuilds the index from the filesystem.
func (e *Explorer) Rescan(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.files = nil
	e.filesByExt = make(map[string][]string)
	e.languages = make(map[string]bool)
	e.readme = ""

	count := 0
	err := filepath.WalkDir(e.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if count >= maxIndexedFiles {
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(e.Root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if e.ignore.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(rel))
		entry := FileEntry{
			RelPath: rel,
			Ext:     ext,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		}
		e.files = append(e.files, entry)
		e.filesByExt[ext] = append(e.filesByExt[ext], rel)
		if lang, ok := languageByExt[ext]; ok {
			e.languages[lang] = true
		}

		base := strings.ToLower(filepath.Base(rel))
		if e.readme == "" && (base == "readme.md" || base == "readme" || base == "readme.txt") {
			e.readme = rel
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("project walk failed: %w", err)
	}

	if err := e.search.Replace(e.files); err != nil {
		return err
	}
	if e.db != nil {
		if err := e.db.ReplaceFiles(ctx, e.Root, e.files); err != nil {
			return err
		}
	}
	return nil
}

// Watch starts refreshing the index on filesystem changes.
func (e *Explorer) Watch(ctx context.Context) error {
	watch, err := NewWatcher(e.Root, func() {
		_ = e.Rescan(ctx)
	})
	if err != nil {
		return err
	}
	e.watch = watch
	return nil
}

// Close releases the database and watcher.
func (e *Explorer) Close() error {
	if e.watch != nil {
		e.watch.Stop()
	}
	if e.search != nil {
		e.search.Close()
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Languages returns the detected languages, sorted.
func (e *Explorer) Languages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	langs := make([]string, 0, len(e.languages))
	for lang := range e.languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Readme returns the repo-relative README path, or "".
func (e *Explorer) Readme() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readme
}

// FileCount returns the number of indexed files.
func (e *Explorer) FileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.files)
}

// Resolve maps a semantic reference to an absolute path. It implements the
// read_file resolver contract: README aliases, "el archivo html" style
// references, literal relative paths, unique basename matches, and finally
// a fuzzy search over the index.
func (e *Explorer) Resolve(reference string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref := strings.ToLower(strings.TrimSpace(reference))

	switch ref {
	case "readme", "readme.md", "el readme", "la documentación", "la documentacion":
		if e.readme != "" {
			return filepath.Join(e.Root, e.readme), true
		}
	case "el archivo html", "html":
		if best := e.rootPreferred(".html", "index.html", "main.html"); best != "" {
			return filepath.Join(e.Root, best), true
		}
	}

	// A literal relative path that exists wins over fuzzier matches.
	candidate := filepath.Join(e.Root, reference)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, true
	}

	// Unique basename match.
	var matches []string
	for _, f := range e.files {
		if strings.EqualFold(filepath.Base(f.RelPath), reference) {
			matches = append(matches, f.RelPath)
		}
	}
	if len(matches) == 1 {
		return filepath.Join(e.Root, matches[0]), true
	}

	// Fuzzy search as the last resort.
	if best, ok := e.search.Best(ref); ok {
		return filepath.Join(e.Root, best), true
	}
	return "", false
}

// rootPreferred picks a file with the given extension, preferring the named
// candidates at the project root.
func (e *Explorer) rootPreferred(ext string, preferred ...string) string {
	files := e.filesByExt[ext]
	if len(files) == 0 {
		return ""
	}
	for _, want := range preferred {
		for _, f := range files {
			if f == want {
				return f
			}
		}
	}
	// Root-level files beat nested ones.
	for _, f := range files {
		if !strings.Contains(f, string(filepath.Separator)) {
			return f
		}
	}
	return files[0]
}
