package main

import (
	"io/fs"
	"math/rand"
	"path/filepath"
	"strings"
)

// textExtensions are file extensions considered "text files" for mock operations.
var textExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".css": true, ".html": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".md": true, ".txt": true, ".sh": true, ".sql": true,
	".proto": true, ".xml": true,
}

// skipDirs are directories to skip during file discovery.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".next": true,
	"dist": true, "build": true, "bin": true, "__pycache__": true,
	".cache": true, "coverage": true,
}

const (
	maxFiles     = 200
	maxFileBytes = 100 * 1024
	notesFile    = "mock-agent-notes.md"
)

// discoverFiles walks root and collects up to maxFiles small text files.
func discoverFiles(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxFiles {
			return filepath.SkipAll
		}
		if !textExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileBytes {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}

// randomFile returns a random text file under root, or "" if there is none.
func randomFile(root string) string {
	files := discoverFiles(root)
	if len(files) == 0 {
		return ""
	}
	return files[rand.Intn(len(files))]
}

// firstLines returns up to n lines of content.
func firstLines(content string, n int) string {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "")
}
