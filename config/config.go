package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var ErrMissingCredentials = errors.New("BSKY_HANDLE and BSKY_APP_PASSWORD must be set")
var ErrMissingClassifierKey = errors.New("CLASSIFIER_API_KEY (or ANTHROPIC_API_KEY) must be set")

type Bsky struct {
	Handle      string `env:"HANDLE"`
	AppPassword string `env:"APP_PASSWORD"`
	PDSHost     string `env:"PDS_HOST, default=https://bsky.social"`
	PLCURL      string `env:"PLC_URL, default=https://plc.directory"`
	ChatProxy   string `env:"CHAT_PROXY, default=did:web:api.bsky.chat#bsky_chat"`
}

func (b Bsky) HasCredentials() bool {
	return b.Handle != "" && b.AppPassword != ""
}

type Retry struct {
	MaxAttempts      uint          `env:"MAX_ATTEMPTS, default=5"`
	Delay            time.Duration `env:"DELAY, default=30s"`
	MaxDelay         time.Duration `env:"MAX_DELAY, default=5m"`
	Jitter           time.Duration `env:"JITTER, default=5s"`
	BreakerThreshold uint32        `env:"BREAKER_THRESHOLD, default=5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN, default=1m"`
}

type Store struct {
	DataDir      string `env:"DATA_DIR, default=data"`
	SaveInterval int    `env:"SAVE_INTERVAL, default=25"`
}

type Crawl struct {
	Threshold  int           `env:"THRESHOLD, default=3"`
	MaxFetch   int           `env:"MAX_FETCH, default=50"`
	Strategy   string        `env:"STRATEGY, default=all"`
	PostSample int           `env:"POST_SAMPLE, default=20"`
	Pacing     time.Duration `env:"PACING, default=300ms"`
	ErrorPause time.Duration `env:"ERROR_PAUSE, default=1s"`
}

type Classifier struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL, default=https://api.anthropic.com/v1"`
	Model   string `env:"MODEL, default=claude-sonnet-4-5"`
}

func (c Classifier) Enabled() bool {
	return c.APIKey != ""
}

type Config struct {
	Bsky       Bsky       `env:",prefix=BSKY_"`
	Retry      Retry      `env:",prefix=LISTKEEPER_RETRY_"`
	Store      Store      `env:",prefix=LISTKEEPER_"`
	Crawl      Crawl      `env:",prefix=LISTKEEPER_CRAWL_"`
	Classifier Classifier `env:",prefix=CLASSIFIER_"`
	LogLevel   string     `env:"LISTKEEPER_LOG_LEVEL, default=info"`
	EnvFile    string     `env:"LISTKEEPER_ENV_FILE, default=.env"`

	// the old tool only knew about the Anthropic variable
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
}

// Load reads the optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load(ctx context.Context) (*Config, error) {
	envFile := os.Getenv("LISTKEEPER_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = cfg.AnthropicAPIKey
	}
	if cfg.Store.SaveInterval <= 0 {
		cfg.Store.SaveInterval = 25
	}

	return &cfg, nil
}

func (c *Config) RequireBsky() error {
	if !c.Bsky.HasCredentials() {
		return ErrMissingCredentials
	}
	return nil
}

func (c *Config) RequireClassifier() error {
	if !c.Classifier.Enabled() {
		return ErrMissingClassifierKey
	}
	return nil
}

// WriteEnv merges values into the env file, keeping unrelated keys.
func WriteEnv(path string, values map[string]string) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		existing = map[string]string{}
	}

	for k, v := range values {
		existing[k] = v
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if err := godotenv.Write(existing, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
