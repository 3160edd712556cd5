package appdirs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	HomeEnv = "CLIPFACTORY_HOME"
	UserEnv = "CLIPFACTORY_USER_DIRS"

	appName        = "clipfactory"
	configFileName = "config.toml"
)

type Paths struct {
	UserDirs   bool
	ConfigDir  string
	ConfigFile string
	LogDir     string
	WorkDir    string
	DataDir    string
	CacheDir   string
}

type resolveDeps struct {
	getenv        func(string) string
	userConfigDir func() (string, error)
	userCacheDir  func() (string, error)
}

func Resolve() (Paths, error) {
	return resolve(resolveDeps{
		getenv:        os.Getenv,
		userConfigDir: os.UserConfigDir,
		userCacheDir:  os.UserCacheDir,
	})
}

func resolve(rawDeps resolveDeps) (Paths, error) {
	deps := withDefaults(rawDeps)
	if home := strings.TrimSpace(deps.getenv(HomeEnv)); home != "" {
		return homePaths(filepath.Clean(home)), nil
	}
	if isEnabled(deps.getenv(UserEnv)) {
		return resolveUserDirs(deps)
	}
	return defaultPaths(), nil
}

func withDefaults(deps resolveDeps) resolveDeps {
	if deps.getenv == nil {
		deps.getenv = os.Getenv
	}
	if deps.userConfigDir == nil {
		deps.userConfigDir = os.UserConfigDir
	}
	if deps.userCacheDir == nil {
		deps.userCacheDir = os.UserCacheDir
	}
	return deps
}

// homePaths lays every directory out under one root, which is how the
// container image mounts its volume.
func homePaths(home string) Paths {
	configDir := filepath.Join(home, "config")
	return Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, configFileName),
		LogDir:     filepath.Join(home, "logs"),
		WorkDir:    filepath.Join(home, "work"),
		DataDir:    filepath.Join(home, "data"),
		CacheDir:   filepath.Join(home, "cache"),
	}
}

func resolveUserDirs(deps resolveDeps) (Paths, error) {
	configRoot, err := deps.userConfigDir()
	if err != nil {
		return Paths{}, err
	}
	if strings.TrimSpace(configRoot) == "" {
		return Paths{}, errors.New("user config dir is empty")
	}

	cacheRoot, err := deps.userCacheDir()
	if err != nil {
		return Paths{}, err
	}
	if strings.TrimSpace(cacheRoot) == "" {
		return Paths{}, errors.New("user cache dir is empty")
	}

	configDir := filepath.Join(configRoot, appName)
	cacheBaseDir := filepath.Join(cacheRoot, appName)
	return Paths{
		UserDirs:   true,
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, configFileName),
		LogDir:     filepath.Join(cacheBaseDir, "logs"),
		WorkDir:    filepath.Join(cacheBaseDir, "work"),
		DataDir:    filepath.Join(configDir, "data"),
		CacheDir:   filepath.Join(cacheBaseDir, "cache"),
	}, nil
}

func defaultPaths() Paths {
	configDir := "config"
	return Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, configFileName),
		LogDir:     ".",
		WorkDir:    "work",
		DataDir:    "data",
		CacheDir:   "cache",
	}
}

func isEnabled(value string) bool {
	normalized := strings.TrimSpace(strings.ToLower(value))
	return normalized == "1" || normalized == "true"
}
