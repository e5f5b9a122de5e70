package syncengine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments, keeps defaults", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		// 4 default patterns plus the one real pattern supplied.
		if len(m.patterns) != len(defaultIgnorePatterns)+1 {
			t.Fatalf("expected %d patterns, got %d", len(defaultIgnorePatterns)+1, len(m.patterns))
		}
	})

	t.Run("classifies path vs basename patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.log", "build/output"})
		var sawBasename, sawPath bool
		for _, p := range m.patterns {
			if p.pattern == "*.log" && !p.matchPath {
				sawBasename = true
			}
			if p.pattern == "build/output" && p.matchPath {
				sawPath = true
			}
		}
		if !sawBasename {
			t.Error("*.log should not be a path pattern")
		}
		if !sawPath {
			t.Error("build/output should be a path pattern")
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{
			name:         "basename glob matches file in root",
			patterns:     []string{"*.log"},
			relativePath: "app.log",
			want:         true,
		},
		{
			name:         "basename glob matches file in subdirectory",
			patterns:     []string{"*.log"},
			relativePath: filepath.Join("sub", "app.log"),
			want:         true,
		},
		{
			name:         "basename glob does not match different extension",
			patterns:     []string{"*.log"},
			relativePath: "app.txt",
			want:         false,
		},
		{
			name:         "default pattern matches backup-tilde file",
			patterns:     nil,
			relativePath: "save.sav~",
			want:         true,
		},
		{
			name:         "default pattern matches temp file",
			patterns:     nil,
			relativePath: filepath.Join("sub", "partial.tmp"),
			want:         true,
		},
		{
			name:         "default pattern matches .DS_Store anywhere",
			patterns:     nil,
			relativePath: filepath.Join("sub", ".DS_Store"),
			want:         true,
		},
		{
			name:         "path pattern matches exact relative path",
			patterns:     []string{"cache/output"},
			relativePath: filepath.Join("cache", "output"),
			want:         true,
		},
		{
			name:         "path pattern does not match wrong path",
			patterns:     []string{"cache/output"},
			relativePath: filepath.Join("src", "output"),
			want:         false,
		},
		{
			name:         "path pattern with glob",
			patterns:     []string{"cache/*.o"},
			relativePath: filepath.Join("cache", "main.o"),
			want:         true,
		},
		{
			name:         "no custom patterns still applies defaults only",
			patterns:     nil,
			relativePath: "Farm_1.sav",
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			got := m.Match(tt.relativePath)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads patterns from file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, ".syncignore")
		content := "*.log\n# comment\n\n*.bak\ncache/output\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile("/nonexistent/.syncignore")
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}
