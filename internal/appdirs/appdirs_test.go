package appdirs

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestResolveLayouts(t *testing.T) {
	home := filepath.Join("/", "srv", "clipfactory")
	configRoot := filepath.Join("/", "home", "ops", ".config")
	cacheRoot := filepath.Join("/", "home", "ops", ".cache")

	testCases := []struct {
		name           string
		env            map[string]string
		want           Paths
		wantConfigCall bool
		wantCacheCall  bool
	}{
		{
			name: "home env wins over user dirs",
			env:  map[string]string{HomeEnv: home, UserEnv: "1"},
			want: Paths{
				ConfigDir:  filepath.Join(home, "config"),
				ConfigFile: filepath.Join(home, "config", "config.toml"),
				LogDir:     filepath.Join(home, "logs"),
				WorkDir:    filepath.Join(home, "work"),
				DataDir:    filepath.Join(home, "data"),
				CacheDir:   filepath.Join(home, "cache"),
			},
		},
		{
			name: "user dirs when enabled",
			env:  map[string]string{UserEnv: "true"},
			want: Paths{
				UserDirs:   true,
				ConfigDir:  filepath.Join(configRoot, "clipfactory"),
				ConfigFile: filepath.Join(configRoot, "clipfactory", "config.toml"),
				LogDir:     filepath.Join(cacheRoot, "clipfactory", "logs"),
				WorkDir:    filepath.Join(cacheRoot, "clipfactory", "work"),
				DataDir:    filepath.Join(configRoot, "clipfactory", "data"),
				CacheDir:   filepath.Join(cacheRoot, "clipfactory", "cache"),
			},
			wantConfigCall: true,
			wantCacheCall:  true,
		},
		{
			name: "relative defaults",
			env:  map[string]string{},
			want: Paths{
				ConfigDir:  "config",
				ConfigFile: filepath.Join("config", "config.toml"),
				LogDir:     ".",
				WorkDir:    "work",
				DataDir:    "data",
				CacheDir:   "cache",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			configCalled := false
			cacheCalled := false

			got, err := resolve(resolveDeps{
				getenv: func(key string) string { return tc.env[key] },
				userConfigDir: func() (string, error) {
					configCalled = true
					return configRoot, nil
				},
				userCacheDir: func() (string, error) {
					cacheCalled = true
					return cacheRoot, nil
				},
			})
			if err != nil {
				t.Fatalf("resolve() returned unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("resolve() = %+v, want %+v", got, tc.want)
			}
			if configCalled != tc.wantConfigCall {
				t.Fatalf("userConfigDir() called = %t, want %t", configCalled, tc.wantConfigCall)
			}
			if cacheCalled != tc.wantCacheCall {
				t.Fatalf("userCacheDir() called = %t, want %t", cacheCalled, tc.wantCacheCall)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	userEnv := func(key string) string {
		if key == UserEnv {
			return "1"
		}
		return ""
	}
	testCases := []struct {
		name       string
		deps       resolveDeps
		wantErrSub string
	}{
		{
			name: "config dir lookup error",
			deps: resolveDeps{
				getenv:        userEnv,
				userConfigDir: func() (string, error) { return "", errors.New("no config dir") },
			},
			wantErrSub: "no config dir",
		},
		{
			name: "empty cache dir",
			deps: resolveDeps{
				getenv:        userEnv,
				userConfigDir: func() (string, error) { return "/tmp/cfg", nil },
				userCacheDir:  func() (string, error) { return "  ", nil },
			},
			wantErrSub: "user cache dir is empty",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolve(tc.deps)
			if err == nil {
				t.Fatal("resolve() returned nil error")
			}
			if !strings.Contains(err.Error(), tc.wantErrSub) {
				t.Fatalf("resolve() error = %q, want containing %q", err.Error(), tc.wantErrSub)
			}
		})
	}
}

func TestIsEnabled(t *testing.T) {
	testCases := []struct {
		value string
		want  bool
	}{
		{value: "", want: false},
		{value: "0", want: false},
		{value: "1", want: true},
		{value: "TRUE", want: true},
		{value: "  true  ", want: true},
		{value: "false", want: false},
	}

	for _, tc := range testCases {
		if got := isEnabled(tc.value); got != tc.want {
			t.Fatalf("isEnabled(%q) = %t, want %t", tc.value, got, tc.want)
		}
	}
}
