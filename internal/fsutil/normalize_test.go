package fsutil

import (
	"path/filepath"
	"testing"
)

func TestCleanFSPath(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		want      string
		expectErr bool
	}{
		{name: "empty", input: "", want: "."},
		{name: "clean", input: "src/app.js", want: "src/app.js"},
		{name: "leading slash", input: "/src/app.js", want: "src/app.js"},
		{name: "dot segments", input: "/src/./lib/../app.js", want: "src/app.js"},
		{name: "invalid", input: "../outside", expectErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := CleanFSPath(tc.input)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSkipName(t *testing.T) {
	cases := map[string]bool{
		"app.js":       false,
		"src":          false,
		".git":         true,
		".env":         true,
		"node_modules": true,
		"modules":      false,
	}
	for input, want := range cases {
		if got := SkipName(input); got != want {
			t.Fatalf("SkipName(%q) = %v, expected %v", input, got, want)
		}
	}
}

func TestURLPath(t *testing.T) {
	root := t.TempDir()
	got, err := URLPath(root, filepath.Join(root, "src", "app.js"))
	if err != nil {
		t.Fatalf("url path: %v", err)
	}
	if got != "/src/app.js" {
		t.Fatalf("expected /src/app.js, got %q", got)
	}

	if _, err := URLPath(root, filepath.Dir(root)); err == nil {
		t.Fatal("expected error for path outside root")
	}
}

func TestIsWithin(t *testing.T) {
	root := filepath.FromSlash("/srv/project")
	if !IsWithin(root, filepath.FromSlash("/srv/project/a/b")) {
		t.Fatal("expected descendant to be within root")
	}
	if !IsWithin(root, root) {
		t.Fatal("expected root to be within itself")
	}
	if IsWithin(root, filepath.FromSlash("/srv/project-other/a")) {
		t.Fatal("expected sibling prefix to be outside root")
	}
}
