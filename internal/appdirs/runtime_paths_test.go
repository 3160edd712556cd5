package appdirs

import (
	"path/filepath"
	"testing"
)

func TestRuntimePathDerivations(t *testing.T) {
	paths := Paths{
		WorkDir:  filepath.Join("var", "cf", "work"),
		DataDir:  filepath.Join("var", "cf", "data"),
		CacheDir: filepath.Join("var", "cf", "cache"),
	}

	if got, want := WorkDirFor(paths, "abc", "render"), filepath.Join("var", "cf", "work", "abc", "render"); got != want {
		t.Fatalf("WorkDirFor() = %q, want %q", got, want)
	}
	if got, want := ObjectRootFor(paths), filepath.Join("var", "cf", "data", "objects"); got != want {
		t.Fatalf("ObjectRootFor() = %q, want %q", got, want)
	}
	if got, want := DBPathFor(paths), filepath.Join("var", "cf", "data", "clipfactory.db"); got != want {
		t.Fatalf("DBPathFor() = %q, want %q", got, want)
	}
	if got, want := LockPathFor(paths), filepath.Join("var", "cf", "cache", "reconcile.lock"); got != want {
		t.Fatalf("LockPathFor() = %q, want %q", got, want)
	}
}

func TestRuntimePathDerivationsWithFallbacks(t *testing.T) {
	paths := Paths{WorkDir: "  "}

	if got, want := WorkDirFor(paths, "abc", "scenes"), filepath.Join("work", "abc", "scenes"); got != want {
		t.Fatalf("WorkDirFor() with empty work dir = %q, want %q", got, want)
	}
	if got, want := DBPathFor(paths), filepath.Join("data", "clipfactory.db"); got != want {
		t.Fatalf("DBPathFor() with empty data dir = %q, want %q", got, want)
	}
}
