package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"
)

func TestPromptCache(t *testing.T) {
	tempDir := t.TempDir()

	testFile := filepath.Join(tempDir, "section.tmpl")
	if err := os.WriteFile(testFile, []byte("Write section {{.Index}} about {{upper .Premise}}"), 0644); err != nil {
		t.Fatal(err)
	}

	cache := NewPromptCache(template.FuncMap{"upper": strings.ToUpper})

	render := func(t *testing.T, tmpl *template.Template, data any) (string, error) {
		t.Helper()
		var sb strings.Builder
		err := tmpl.Execute(&sb, data)
		return sb.String(), err
	}

	t.Run("renders template with funcs", func(t *testing.T) {
		tmpl, err := cache.LoadTemplate("section", testFile)
		if err != nil {
			t.Fatalf("LoadTemplate() error = %v", err)
		}
		got, err := render(t, tmpl, map[string]any{"Index": 3, "Premise": "forest"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if got != "Write section 3 about FOREST" {
			t.Errorf("rendered %q", got)
		}
	})

	t.Run("caches parsed template", func(t *testing.T) {
		first, err := cache.LoadTemplate("section", testFile)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(testFile, []byte("Modified content"), 0644); err != nil {
			t.Fatal(err)
		}

		second, err := cache.LoadTemplate("section", testFile)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Error("LoadTemplate() re-read a cached file")
		}
	})

	t.Run("missing field is an error", func(t *testing.T) {
		tmpl, err := cache.LoadTemplate("section", testFile)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := render(t, tmpl, map[string]any{"Index": 3}); err == nil {
			t.Error("Execute() with missing key should fail")
		}
	})

	t.Run("handles missing file", func(t *testing.T) {
		if _, err := cache.LoadTemplate("missing", "nonexistent.txt"); err == nil {
			t.Error("LoadTemplate() with nonexistent file should return error")
		}
	})

	t.Run("reports parse errors", func(t *testing.T) {
		bad := filepath.Join(tempDir, "bad.tmpl")
		if err := os.WriteFile(bad, []byte("{{.Index"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := cache.LoadTemplate("bad", bad); err == nil {
			t.Error("LoadTemplate() should fail on malformed template")
		}
	})
}
