package appdirs

import (
	"path/filepath"
	"strings"
)

const (
	ObjectRootName = "objects"
	dbFileName     = "clipfactory.db"
	lockFileName   = "reconcile.lock"
)

// WorkDirFor returns the scratch directory for one stage run of a root.
// Stage handlers remove it before returning.
func WorkDirFor(paths Paths, rootID, stage string) string {
	return filepath.Join(normalize(paths.WorkDir, "work"), rootID, stage)
}

func ObjectRootFor(paths Paths) string {
	return filepath.Join(normalize(paths.DataDir, "data"), ObjectRootName)
}

func DBPathFor(paths Paths) string {
	return filepath.Join(normalize(paths.DataDir, "data"), dbFileName)
}

func LockPathFor(paths Paths) string {
	return filepath.Join(normalize(paths.CacheDir, "cache"), lockFileName)
}

func normalize(dir, fallback string) string {
	cleaned := strings.TrimSpace(dir)
	if cleaned == "" {
		return fallback
	}
	return filepath.Clean(cleaned)
}
