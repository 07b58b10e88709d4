package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

func TestBuildExcludesHiddenAndNodeModules(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = 1")
	appPath := writeFile(t, root, "app.js", "console.log(1)")
	stamp := time.Unix(1_700_000_000, 0)
	if err := os.Chtimes(appPath, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	built, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built.Files) != 1 {
		t.Fatalf("expected 1 file, got %v", built.Files)
	}
	if token := built.Files["/app.js"]; token != "1700000000" {
		t.Fatalf("expected /app.js token 1700000000, got %q", token)
	}

	for _, path := range []string{"/.git/config", "/node_modules/pkg/index.js"} {
		if _, ok := built.Files[path]; ok {
			t.Fatalf("expected %s to be absent from files", path)
		}
		if _, status := built.Lookup(path); status != StatusExcluded {
			t.Fatalf("expected %s to be excluded, got %s", path, status)
		}
	}
	if _, status := built.Lookup("/missing.js"); status != StatusMissing {
		t.Fatalf("expected /missing.js to be missing, got %s", status)
	}
	if _, status := built.Lookup("/deps/lodash.js"); status != StatusExcluded {
		t.Fatalf("expected /deps/ prefix to be excluded, got %s", status)
	}
}

func TestBuildNestedPathsUseForwardSlashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/components/button.js", "export {}")
	writeFile(t, root, "src/.cache/tmp", "x")

	built, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := built.Files["/src/components/button.js"]; !ok {
		t.Fatalf("expected nested file, got %v", built.Files)
	}
	if _, status := built.Lookup("/src/.cache/tmp"); status != StatusExcluded {
		t.Fatalf("expected nested hidden dir to be excluded, got %s", status)
	}
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "nope"))
	if !IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestManifestJSONShape(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.html", "<html></html>")

	built, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := json.Marshal(built)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["files"]; !ok {
		t.Fatalf("expected files key, got %s", data)
	}
	if _, ok := decoded["excluded"]; !ok {
		t.Fatalf("expected excluded key, got %s", data)
	}
}
