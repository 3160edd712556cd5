package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipfactory/internal/appdirs"
	"clipfactory/internal/export"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/queue"
	"clipfactory/internal/rank"
	"clipfactory/internal/render"
	"clipfactory/internal/scenes"
	"clipfactory/internal/stageexec"
	"clipfactory/internal/taskrunner"
	"clipfactory/internal/texts"
	"clipfactory/internal/types"
	"clipfactory/log"
	"clipfactory/pkg/aliyun"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	WorkerModeInProcess = "inprocess"
	WorkerModeAsynq     = "asynq"

	TranscribeOpenai = "openai"
	TranscribeAliyun = "aliyun"
)

type App struct {
	// WorkerMode selects the in-process runner or asynq workers over Redis.
	WorkerMode  string `toml:"worker_mode"`
	Proxy       string `toml:"proxy"`
	FfmpegPath  string `toml:"ffmpeg_path"`
	FfprobePath string `toml:"ffprobe_path"`

	// ParsedProxy is derived from Proxy by CheckConfig.
	ParsedProxy *url.URL `toml:"-"`
}

type Server struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type Redis struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	EventsPrefix string `toml:"events_prefix"`
}

type RateLimit struct {
	Requests int           `toml:"requests"`
	Interval time.Duration `toml:"interval"`
	Burst    int           `toml:"burst"`
	MaxWait  time.Duration `toml:"max_wait"`
}

type Queue struct {
	MaxRetry    int                  `toml:"max_retry"`
	BackoffBase time.Duration        `toml:"backoff_base"`
	BackoffCap  time.Duration        `toml:"backoff_cap"`
	Retention   time.Duration        `toml:"retention"`
	Timeout     time.Duration        `toml:"timeout"`
	QueueSize   int                  `toml:"queue_size"`
	Concurrency map[string]int       `toml:"concurrency"`
	RateLimits  map[string]RateLimit `toml:"rate_limits"`
}

type Llm struct {
	BaseUrl        string `toml:"base_url"`
	ApiKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`

	// RequestsPerMinute paces individual text generation calls; 0 disables.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type OpenaiTranscribe struct {
	BaseUrl string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

type AliyunTranscribe struct {
	Speech aliyun.SpeechConfig `toml:"speech"`
}

type Transcribe struct {
	Provider string           `toml:"provider"`
	Openai   OpenaiTranscribe `toml:"openai"`
	Aliyun   AliyunTranscribe `toml:"aliyun"`
}

type Cache struct {
	// Backend is "memory" or "redis".
	Backend    string        `toml:"backend"`
	TTL        time.Duration `toml:"ttl"`
	MaxEntries int           `toml:"max_entries"`
}

type Youtube struct {
	ClientId     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type Reconcile struct {
	Enabled bool `toml:"enabled"`
	pipeline.ReconcileConfig
}

type Config struct {
	App        App                `toml:"app"`
	Server     Server             `toml:"server"`
	Redis      Redis              `toml:"redis"`
	Queue      Queue              `toml:"queue"`
	Storage    objectstore.Config `toml:"storage"`
	Llm        Llm                `toml:"llm"`
	Transcribe Transcribe         `toml:"transcribe"`
	Cache      Cache              `toml:"cache"`
	Youtube    Youtube            `toml:"youtube"`
	Pipeline   pipeline.Config    `toml:"pipeline"`
	Scenes     scenes.Config      `toml:"scenes"`
	Rank       rank.Config        `toml:"rank"`
	Render     render.Config      `toml:"render"`
	Texts      texts.Config       `toml:"texts"`
	Export     export.Config      `toml:"export"`
	Reconcile  Reconcile          `toml:"reconcile"`
}

var Conf = defaultConfig()

var resolveConfigPath = func() (string, error) {
	dirs, err := appdirs.Resolve()
	if err != nil {
		return "", err
	}
	return dirs.ConfigFile, nil
}

func defaultConfig() Config {
	retry := stageexec.DefaultRetryPolicy()
	queueDefaults := queue.DefaultConfig()
	return Config{
		App: App{
			WorkerMode: WorkerModeInProcess,
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 8888,
		},
		Redis: Redis{
			Addr:         queueDefaults.RedisAddr,
			EventsPrefix: "clipfactory:events:",
		},
		Queue: Queue{
			MaxRetry:    retry.MaxRetry,
			BackoffBase: retry.Base,
			BackoffCap:  retry.Cap,
			Retention:   queueDefaults.Retention,
			Timeout:     queueDefaults.Timeout,
			QueueSize:   taskrunner.DefaultConfig().QueueSize,
			Concurrency: map[string]int{},
			RateLimits: map[string]RateLimit{
				string(types.StageTexts): {Requests: 30, Interval: time.Minute, Burst: 5, MaxWait: 30 * time.Second},
			},
		},
		Storage: objectstore.Config{Backend: objectstore.BackendFile},
		Llm: Llm{
			BaseUrl:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			EmbeddingModel:    "text-embedding-3-small",
			RequestsPerMinute: 60,
		},
		Transcribe: Transcribe{
			Provider: TranscribeOpenai,
			Openai:   OpenaiTranscribe{Model: "whisper-1"},
		},
		Cache: Cache{
			Backend:    "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 4096,
		},
		Pipeline: pipeline.DefaultConfig(),
		Scenes:   scenes.DefaultConfig(),
		Rank:     rank.DefaultConfig(),
		Render:   render.DefaultConfig(),
		Texts:    texts.DefaultConfig(),
		Export:   export.DefaultConfig(),
		Reconcile: Reconcile{
			Enabled:         true,
			ReconcileConfig: pipeline.DefaultReconcileConfig(),
		},
	}
}

func ResolveConfigPath() (string, error) {
	return resolveConfigPath()
}

// LoadOrCreateConfig reads the config file, writing the defaults first when
// it does not exist. created reports whether the file was generated.
func LoadOrCreateConfig() (bool, error) {
	configPath, err := ResolveConfigPath()
	if err != nil {
		return false, err
	}

	created := false
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		Conf = defaultConfig()
		if err := SaveConfig(); err != nil {
			return false, err
		}
		created = true
	} else if err != nil {
		return false, err
	} else {
		Conf = defaultConfig()
		if _, err := toml.DecodeFile(configPath, &Conf); err != nil {
			return false, fmt.Errorf("decode config %s: %w", configPath, err)
		}
	}

	loadDotEnv(filepath.Dir(configPath))
	applyEnvOverrides(&Conf)
	return created, nil
}

// LoadConfig is LoadOrCreateConfig with logging, for binaries.
func LoadConfig() bool {
	created, err := LoadOrCreateConfig()
	if err != nil {
		log.GetLogger().Error("加载配置文件失败 failed to load config", zap.Error(err))
		return false
	}
	if created {
		path, _ := ResolveConfigPath()
		log.GetLogger().Info("已生成默认配置文件 default config written", zap.String("path", path))
	}
	return true
}

func SaveConfig() error {
	configPath, err := ResolveConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(Conf); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

func loadDotEnv(configDir string) {
	for _, p := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(p); err == nil {
			log.GetLogger().Debug("config: loaded env file", zap.String("path", p))
		}
	}
}

// Secrets and deployment endpoints may come from the environment instead
// of the file.
func applyEnvOverrides(c *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"CLIPFACTORY_LLM_API_KEY", &c.Llm.ApiKey},
		{"CLIPFACTORY_LLM_BASE_URL", &c.Llm.BaseUrl},
		{"CLIPFACTORY_TRANSCRIBE_API_KEY", &c.Transcribe.Openai.ApiKey},
		{"CLIPFACTORY_REDIS_ADDR", &c.Redis.Addr},
		{"CLIPFACTORY_REDIS_PASSWORD", &c.Redis.Password},
		{"CLIPFACTORY_OSS_ACCESS_KEY_ID", &c.Storage.OSS.AccessKeyId},
		{"CLIPFACTORY_OSS_ACCESS_KEY_SECRET", &c.Storage.OSS.AccessKeySecret},
		{"CLIPFACTORY_ALIYUN_SPEECH_ACCESS_KEY_ID", &c.Transcribe.Aliyun.Speech.AccessKeyId},
		{"CLIPFACTORY_ALIYUN_SPEECH_ACCESS_KEY_SECRET", &c.Transcribe.Aliyun.Speech.AccessKeySecret},
		{"CLIPFACTORY_YOUTUBE_CLIENT_ID", &c.Youtube.ClientId},
		{"CLIPFACTORY_YOUTUBE_CLIENT_SECRET", &c.Youtube.ClientSecret},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}
	// The transcription key falls back to the LLM key when both use OpenAI.
	if c.Transcribe.Openai.ApiKey == "" {
		c.Transcribe.Openai.ApiKey = c.Llm.ApiKey
	}
	if c.Transcribe.Openai.BaseUrl == "" {
		c.Transcribe.Openai.BaseUrl = c.Llm.BaseUrl
	}
}

// CheckConfig validates the loaded configuration.
func CheckConfig() error {
	var err error
	switch Conf.App.WorkerMode {
	case WorkerModeInProcess:
	case WorkerModeAsynq:
		if Conf.Redis.Addr == "" {
			return errors.New("redis.addr is required when app.worker_mode is asynq")
		}
	default:
		return fmt.Errorf("unsupported app.worker_mode %q", Conf.App.WorkerMode)
	}

	if Conf.App.Proxy != "" {
		Conf.App.ParsedProxy, err = url.Parse(Conf.App.Proxy)
		if err != nil {
			return fmt.Errorf("invalid app.proxy: %w", err)
		}
	}

	if Conf.Server.Port <= 0 || Conf.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", Conf.Server.Port)
	}

	switch Conf.Transcribe.Provider {
	case TranscribeOpenai:
		if Conf.Transcribe.Openai.ApiKey == "" {
			return errors.New("transcribe.openai.api_key (or llm.api_key) is required")
		}
	case TranscribeAliyun:
		s := Conf.Transcribe.Aliyun.Speech
		if s.AccessKeyId == "" || s.AccessKeySecret == "" || s.AppKey == "" {
			return errors.New("transcribe.aliyun.speech credentials are required")
		}
		if Conf.Storage.Backend != objectstore.BackendOSS {
			return errors.New("aliyun transcription needs storage.backend = \"oss\" to hand audio over")
		}
	default:
		return fmt.Errorf("unsupported transcribe.provider %q", Conf.Transcribe.Provider)
	}

	switch Conf.Storage.Backend {
	case "", objectstore.BackendFile:
	case objectstore.BackendOSS:
		if Conf.Storage.OSS.Bucket == "" {
			return errors.New("storage.oss.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q", Conf.Storage.Backend)
	}

	if Conf.Llm.ApiKey == "" {
		return errors.New("llm.api_key is required")
	}
	for name := range Conf.Queue.Concurrency {
		if _, err := types.ParseStage(name); err != nil {
			return fmt.Errorf("queue.concurrency: %w", err)
		}
	}
	for name := range Conf.Queue.RateLimits {
		if _, err := types.ParseStage(name); err != nil {
			return fmt.Errorf("queue.rate_limits: %w", err)
		}
	}
	return nil
}

func (q Queue) retry() stageexec.RetryPolicy {
	return stageexec.RetryPolicy{MaxRetry: q.MaxRetry, Base: q.BackoffBase, Cap: q.BackoffCap}
}

func (q Queue) concurrency() map[types.Stage]int {
	out := map[types.Stage]int{}
	for name, n := range q.Concurrency {
		if stage, err := types.ParseStage(name); err == nil {
			out[stage] = n
		}
	}
	return out
}

func (q Queue) rateLimits() map[types.Stage]stageexec.RateLimit {
	out := map[types.Stage]stageexec.RateLimit{}
	for name, l := range q.RateLimits {
		if stage, err := types.ParseStage(name); err == nil {
			out[stage] = stageexec.RateLimit{Requests: l.Requests, Interval: l.Interval, Burst: l.Burst, MaxWait: l.MaxWait}
		}
	}
	return out
}

// RateLimit returns the configured limit for stage, zero when unset.
func (c Config) RateLimit(stage types.Stage) stageexec.RateLimit {
	return c.Queue.rateLimits()[stage]
}

func (c Config) QueueConfig() queue.Config {
	return queue.Config{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		Retry:         c.Queue.retry(),
		Retention:     c.Queue.Retention,
		Timeout:       c.Queue.Timeout,
		Concurrency:   c.Queue.concurrency(),
		RateLimits:    c.Queue.rateLimits(),
	}
}

func (c Config) RunnerConfig() taskrunner.Config {
	return taskrunner.Config{
		QueueSize:   c.Queue.QueueSize,
		Concurrency: c.Queue.concurrency(),
		Retry:       c.Queue.retry(),
		RateLimits:  c.Queue.rateLimits(),
	}
}
