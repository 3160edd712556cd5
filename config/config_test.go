package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"

	"github.com/BurntSushi/toml"
)

func useConfigPath(t *testing.T, configPath string) {
	t.Helper()
	old := resolveConfigPath
	resolveConfigPath = func() (string, error) { return configPath, nil }
	t.Cleanup(func() {
		resolveConfigPath = old
		Conf = defaultConfig()
	})
}

func TestLoadOrCreateConfigMissingCreatesDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config", "config.toml")
	useConfigPath(t, configPath)

	created, err := LoadOrCreateConfig()
	if err != nil {
		t.Fatalf("LoadOrCreateConfig() error: %v", err)
	}
	if !created {
		t.Fatalf("LoadOrCreateConfig() created=false, want true")
	}

	var got Config
	if _, err := toml.DecodeFile(configPath, &got); err != nil {
		t.Fatalf("decode created config: %v", err)
	}
	if got.Server.Host != "127.0.0.1" || got.Server.Port != 8888 {
		t.Fatalf("default server = %s:%d, want 127.0.0.1:8888", got.Server.Host, got.Server.Port)
	}
	if got.Queue.MaxRetry != 3 {
		t.Fatalf("default max retry = %d, want 3", got.Queue.MaxRetry)
	}
	if got.Queue.BackoffCap != 10*time.Minute {
		t.Fatalf("default backoff cap = %s, want 10m", got.Queue.BackoffCap)
	}
	if got.Scenes.MinDuration != 20 || got.Scenes.MaxDuration != 75 {
		t.Fatalf("default scene bounds = %v..%v", got.Scenes.MinDuration, got.Scenes.MaxDuration)
	}
}

func TestSaveConfigCreatesParentDirs(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "deep", "nest", "config.toml")
	useConfigPath(t, configPath)

	Conf = defaultConfig()
	Conf.Server.Port = 9999

	if err := SaveConfig(); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	var got Config
	if _, err := toml.DecodeFile(configPath, &got); err != nil {
		t.Fatalf("decode saved config: %v", err)
	}
	if got.Server.Port != 9999 {
		t.Fatalf("saved server port = %d, want %d", got.Server.Port, 9999)
	}
}

func TestLoadOrCreateConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	useConfigPath(t, configPath)

	partial := "[server]\nhost = \"0.0.0.0\"\nport = 9000\n\n[queue]\nmax_retry = 5\n"
	if err := os.WriteFile(configPath, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := LoadOrCreateConfig()
	if err != nil {
		t.Fatalf("LoadOrCreateConfig() error: %v", err)
	}
	if created {
		t.Fatal("expected created=false when config file exists")
	}
	if Conf.Server.Host != "0.0.0.0" || Conf.Server.Port != 9000 {
		t.Fatalf("server = %s:%d", Conf.Server.Host, Conf.Server.Port)
	}
	if Conf.Queue.MaxRetry != 5 {
		t.Fatalf("max retry = %d, want 5", Conf.Queue.MaxRetry)
	}
	if Conf.Queue.BackoffBase != 10*time.Second {
		t.Fatalf("backoff base = %s, want default 10s", Conf.Queue.BackoffBase)
	}
	if Conf.App.WorkerMode != WorkerModeInProcess {
		t.Fatalf("worker mode = %q", Conf.App.WorkerMode)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	useConfigPath(t, configPath)
	t.Setenv("CLIPFACTORY_LLM_API_KEY", "sk-env")
	t.Setenv("CLIPFACTORY_REDIS_ADDR", "redis:6380")

	if _, err := LoadOrCreateConfig(); err != nil {
		t.Fatalf("LoadOrCreateConfig() error: %v", err)
	}
	if Conf.Llm.ApiKey != "sk-env" {
		t.Fatalf("llm api key = %q", Conf.Llm.ApiKey)
	}
	if Conf.Transcribe.Openai.ApiKey != "sk-env" {
		t.Fatalf("transcribe key should fall back to llm key, got %q", Conf.Transcribe.Openai.ApiKey)
	}
	if Conf.Redis.Addr != "redis:6380" {
		t.Fatalf("redis addr = %q", Conf.Redis.Addr)
	}

	// Overrides are not persisted.
	var onDisk Config
	if _, err := toml.DecodeFile(configPath, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Llm.ApiKey != "" {
		t.Fatalf("api key leaked into config file")
	}
}

func TestCheckConfig(t *testing.T) {
	valid := func() Config {
		c := defaultConfig()
		c.Llm.ApiKey = "sk"
		c.Transcribe.Openai.ApiKey = "sk"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults with keys", mutate: func(c *Config) {}},
		{name: "missing llm key", mutate: func(c *Config) { c.Llm.ApiKey = "" }, wantErr: true},
		{name: "bad worker mode", mutate: func(c *Config) { c.App.WorkerMode = "threads" }, wantErr: true},
		{name: "asynq needs redis", mutate: func(c *Config) { c.App.WorkerMode = WorkerModeAsynq; c.Redis.Addr = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "aliyun needs oss", mutate: func(c *Config) {
			c.Transcribe.Provider = TranscribeAliyun
			c.Transcribe.Aliyun.Speech.AccessKeyId = "id"
			c.Transcribe.Aliyun.Speech.AccessKeySecret = "secret"
			c.Transcribe.Aliyun.Speech.AppKey = "app"
		}, wantErr: true},
		{name: "oss needs bucket", mutate: func(c *Config) { c.Storage.Backend = objectstore.BackendOSS }, wantErr: true},
		{name: "unknown stage limit", mutate: func(c *Config) { c.Queue.RateLimits["upload"] = RateLimit{Requests: 1} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Conf = valid()
			t.Cleanup(func() { Conf = defaultConfig() })
			tt.mutate(&Conf)
			err := CheckConfig()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestQueueAndRunnerConfig(t *testing.T) {
	c := defaultConfig()
	c.Queue.Concurrency = map[string]int{"render": 3, "bogus": 9}

	qc := c.QueueConfig()
	if qc.Concurrency[types.StageRender] != 3 || len(qc.Concurrency) != 1 {
		t.Fatalf("queue concurrency = %v", qc.Concurrency)
	}
	if qc.Retry.MaxRetry != 3 || qc.Retry.Base != 10*time.Second {
		t.Fatalf("retry = %+v", qc.Retry)
	}
	if c.RateLimit(types.StageTexts).Requests != 30 {
		t.Fatalf("texts limit = %+v", c.RateLimit(types.StageTexts))
	}

	rc := c.RunnerConfig()
	if rc.QueueSize <= 0 || rc.Concurrency[types.StageRender] != 3 {
		t.Fatalf("runner config = %+v", rc)
	}
}
