package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadContext(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name, contents string
		key            string
		want           any
	}{
		{"ctx.yaml", "title: Hello\ncount: 3\n", "title", "Hello"},
		{"ctx.json", `{"title": "Hi", "items": ["a"]}`, "title", "Hi"},
		{"empty.yaml", "", "", nil},
	}

	for _, c := range cases {
		path := filepath.Join(dir, c.name)
		if err := os.WriteFile(path, []byte(c.contents), 0o644); err != nil {
			t.Fatal(err)
		}

		ctx, err := loadContext(path)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if ctx == nil {
			t.Fatalf("%s: nil context", c.name)
		}

		if c.key != "" && ctx[c.key] != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, ctx[c.key])
		}
	}

	ctx, err := loadContext("")
	if err != nil || len(ctx) != 0 {
		t.Fatalf("expected empty context, got %v, %v", ctx, err)
	}

	if _, err := loadContext(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
