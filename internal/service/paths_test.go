package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipfactory/internal/appdirs"
)

func useResolver(t *testing.T, resolver func() (appdirs.Paths, error)) {
	t.Helper()
	originalResolver := appDirsResolver
	t.Cleanup(func() {
		appDirsResolver = originalResolver
	})
	appDirsResolver = resolver
}

func TestResolvePathsCreatesRuntimeDirs(t *testing.T) {
	tempDir := t.TempDir()
	useResolver(t, func() (appdirs.Paths, error) {
		return appdirs.Paths{
			WorkDir:  filepath.Join(tempDir, "work"),
			DataDir:  filepath.Join(tempDir, "data"),
			CacheDir: filepath.Join(tempDir, "cache"),
		}, nil
	})

	got, err := resolvePaths()
	if err != nil {
		t.Fatalf("resolvePaths() returned error: %v", err)
	}
	for _, dir := range []string{got.WorkDir, appdirs.ObjectRootFor(got), got.CacheDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
}

func TestResolvePathsErrors(t *testing.T) {
	useResolver(t, func() (appdirs.Paths, error) {
		return appdirs.Paths{}, errors.New("no home")
	})
	if _, err := resolvePaths(); err == nil || !strings.Contains(err.Error(), "no home") {
		t.Fatalf("resolvePaths() error = %v, want resolver error", err)
	}

	useResolver(t, func() (appdirs.Paths, error) {
		return appdirs.Paths{DataDir: t.TempDir()}, nil
	})
	if _, err := resolvePaths(); err == nil {
		t.Fatal("resolvePaths() returned nil error for empty work dir")
	}
}
