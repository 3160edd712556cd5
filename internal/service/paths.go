package service

import (
	"fmt"
	"os"
	"strings"

	"clipfactory/internal/appdirs"
)

var appDirsResolver = appdirs.Resolve

// resolvePaths resolves the runtime layout and creates the directories the
// stage handlers and object store write into.
func resolvePaths() (appdirs.Paths, error) {
	dirs, err := appDirsResolver()
	if err != nil {
		return appdirs.Paths{}, err
	}
	if strings.TrimSpace(dirs.WorkDir) == "" {
		return appdirs.Paths{}, fmt.Errorf("work dir is empty")
	}
	for _, dir := range []string{dirs.WorkDir, appdirs.ObjectRootFor(dirs), dirs.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return appdirs.Paths{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return dirs, nil
}
