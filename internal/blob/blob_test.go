package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dumpsite-dispatch/internal/config"
)

func TestLocalUploadWritesUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	up := NewLocal(dir)

	ref, err := up.Upload(context.Background(), "../../etc/evidence/a.jpg", []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(ref, dir) {
		t.Fatalf("reference %s escaped base dir %s", ref, dir)
	}
	if ref != filepath.Join(dir, "etc", "evidence", "a.jpg") {
		t.Fatalf("unexpected reference %s", ref)
	}
	got, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "jpeg-bytes" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"a/b.jpg":        "a/b.jpg",
		"/abs/b.jpg":     "abs/b.jpg",
		"./rel/../b.png": "b.png",
		"../../x.png":    "x.png",
	}
	for in, want := range cases {
		if got := SanitizeKey(in); got != want {
			t.Fatalf("SanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewFromConfigDefaultsToLocal(t *testing.T) {
	up, err := NewFromConfig(context.Background(), config.Config{ImageOutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	if _, ok := up.(*Local); !ok {
		t.Fatalf("expected local uploader, got %T", up)
	}
}
