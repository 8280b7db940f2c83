package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	ProviderGemini    = "gemini"
	ProviderStability = "stability"

	StabilityEngineV16  = "v1-6"
	StabilityEngineSDXL = "sdxl"
)

// Config captures the runtime configuration for the edit service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Providers     ProviderConfig      `mapstructure:"providers"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Admission     AdmissionConfig     `mapstructure:"admission"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	APIPrefix             string        `mapstructure:"api_prefix"`
	CORSAllowOrigins      string        `mapstructure:"cors_allow_origins"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	ProviderTimeout       time.Duration `mapstructure:"provider_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type ProviderConfig struct {
	Primary   string          `mapstructure:"primary"`
	Fallback  string          `mapstructure:"fallback"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Stability StabilityConfig `mapstructure:"stability"`
}

type GeminiConfig struct {
	APIKey  string             `mapstructure:"api_key"`
	Model   string             `mapstructure:"model"`
	BaseURL string             `mapstructure:"base_url"`
	Vertex  VertexGeminiConfig `mapstructure:"vertex"`
}

// VertexGeminiConfig routes Gemini calls through Vertex AI with a service account.
type VertexGeminiConfig struct {
	ProjectID         string `mapstructure:"project_id"`
	Location          string `mapstructure:"location"`
	CredentialsJSON   string `mapstructure:"credentials_json"`
	CredentialsFormat string `mapstructure:"credentials_format"`
}

// Enabled reports whether Vertex credentials were supplied.
func (v VertexGeminiConfig) Enabled() bool {
	return strings.TrimSpace(v.CredentialsJSON) != "" && strings.TrimSpace(v.ProjectID) != ""
}

type StabilityConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Engine  string `mapstructure:"engine"`
	BaseURL string `mapstructure:"base_url"`
	// FitCanvas letterboxes the init image onto a square canvas of this size; 0 disables.
	FitCanvas int `mapstructure:"fit_canvas"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// MaxWait caps one backoff wait, provider hints included. Defaults to
	// server.provider_timeout.
	MaxWait      time.Duration `mapstructure:"max_wait"`
	QuotaMarkers []string      `mapstructure:"quota_markers"`
}

type AdmissionConfig struct {
	Backend string        `mapstructure:"backend"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type ArchiveConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	Storage       string             `mapstructure:"storage"`
	EncryptionKey string             `mapstructure:"encryption_key"`
	S3            ArchiveS3Config    `mapstructure:"s3"`
	Local         ArchiveLocalConfig `mapstructure:"local"`
}

type ArchiveS3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	// Static credentials override the default AWS chain when both keys are set.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Profile         string `mapstructure:"profile"`
}

type ArchiveLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from dotenv files, YAML and
// environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
		// .env.local wins over .env so a developer's local selection takes effect.
		_ = godotenv.Overload(".env.local")
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("EDITOR_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("editor")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("EDITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		timeStringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyLegacyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honors the unprefixed variable names used by earlier
// deployments. They fill credentials and provider ids left empty; MODEL_ID
// and STABILITY_ENGINE always win because their keys carry defaults.
func (c *Config) applyLegacyEnv(getenv func(string) string) {
	p := &c.Providers
	p.Primary = pickFirst(p.Primary, getenv("PROVIDER"))
	p.Fallback = pickFirst(p.Fallback, getenv("FALLBACK_PROVIDER"))
	p.Gemini.APIKey = pickFirst(p.Gemini.APIKey, getenv("GEMINI_API_KEY"), getenv("API_KEY"), getenv("VITE_GEMINI_API_KEY"))
	p.Gemini.Model = pickFirst(getenv("MODEL_ID"), p.Gemini.Model)
	p.Stability.APIKey = pickFirst(p.Stability.APIKey, getenv("STABILITY_API_KEY"))
	p.Stability.Engine = pickFirst(getenv("STABILITY_ENGINE"), p.Stability.Engine)
	if port := strings.TrimSpace(getenv("PORT")); port != "" && c.Server.ListenAddr == defaultListenAddr {
		c.Server.ListenAddr = ":" + port
	}
}

// Validate normalizes provider selection and ensures required values are set.
func (c *Config) Validate() error {
	if err := c.Providers.normalize(); err != nil {
		return err
	}
	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be > 0")
	}
	if c.Server.ProviderTimeout <= 0 {
		c.Server.ProviderTimeout = 280 * time.Second
	}
	if prefix := strings.TrimSpace(c.Server.APIPrefix); prefix != "" {
		c.Server.APIPrefix = "/" + strings.Trim(prefix, "/")
	}

	if err := c.Retry.validate(); err != nil {
		return err
	}
	if c.Retry.MaxWait <= 0 {
		c.Retry.MaxWait = c.Server.ProviderTimeout
	}
	if err := c.Admission.validate(c.Redis); err != nil {
		return err
	}
	if c.Idempotency.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("idempotency.enabled requires redis.url")
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 30 * time.Minute
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	return nil
}

func (p *ProviderConfig) normalize() error {
	p.Primary = strings.ToLower(strings.TrimSpace(p.Primary))
	p.Fallback = strings.ToLower(strings.TrimSpace(p.Fallback))
	if p.Primary == "" {
		p.Primary = p.autoSelect()
	}

	p.Gemini.Model = strings.TrimSpace(p.Gemini.Model)
	if p.Gemini.Model == "" {
		p.Gemini.Model = "gemini-2.5-flash-image"
	}
	if p.Gemini.Vertex.Enabled() && strings.TrimSpace(p.Gemini.Vertex.Location) == "" {
		p.Gemini.Vertex.Location = "us-central1"
	}

	p.Stability.Engine = strings.ToLower(strings.TrimSpace(p.Stability.Engine))
	switch p.Stability.Engine {
	case "":
		p.Stability.Engine = StabilityEngineV16
	case StabilityEngineV16, StabilityEngineSDXL:
	default:
		slog.Warn("unknown stability engine, using default", "engine", p.Stability.Engine, "default", StabilityEngineV16)
		p.Stability.Engine = StabilityEngineV16
	}
	if p.Stability.FitCanvas < 0 {
		return fmt.Errorf("providers.stability.fit_canvas must be >= 0")
	}
	return nil
}

// autoSelect prefers Gemini when any Gemini credential is present, then
// Stability, and finally defaults to Gemini.
func (p ProviderConfig) autoSelect() string {
	switch {
	case p.HasGeminiCredential():
		return ProviderGemini
	case p.HasStabilityKey():
		return ProviderStability
	default:
		return ProviderGemini
	}
}

func (p ProviderConfig) HasGeminiCredential() bool {
	return strings.TrimSpace(p.Gemini.APIKey) != "" || p.Gemini.Vertex.Enabled()
}

func (p ProviderConfig) HasStabilityKey() bool {
	return strings.TrimSpace(p.Stability.APIKey) != ""
}

// EffectiveFallback returns the fallback provider, or "" when it is unset or
// equal to the primary.
func (p ProviderConfig) EffectiveFallback() string {
	if p.Fallback == "" || p.Fallback == p.Primary {
		return ""
	}
	return p.Fallback
}

func (r *RetryConfig) validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	r.QuotaMarkers = normalizeStringSlice(r.QuotaMarkers)
	return nil
}

func (a *AdmissionConfig) validate(redis RedisConfig) error {
	a.Backend = strings.ToLower(strings.TrimSpace(a.Backend))
	switch a.Backend {
	case "", "memory":
		a.Backend = "memory"
	case "redis":
		if strings.TrimSpace(redis.URL) == "" {
			return fmt.Errorf("admission.backend redis requires redis.url")
		}
	default:
		return fmt.Errorf("admission.backend must be memory or redis")
	}
	if strings.TrimSpace(a.Key) == "" {
		a.Key = "carving-editor:inflight"
	}
	if a.TTL <= 0 {
		a.TTL = 5 * time.Minute
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	if strings.TrimSpace(a.Storage) == "" {
		a.Storage = "local"
	}
	a.Storage = strings.ToLower(strings.TrimSpace(a.Storage))
	if !a.Enabled {
		return nil
	}
	switch a.Storage {
	case "local":
	case "s3":
		if strings.TrimSpace(a.S3.Bucket) == "" {
			return fmt.Errorf("archive.s3.bucket must be provided for s3 storage")
		}
	default:
		return fmt.Errorf("archive.storage must be local or s3")
	}
	return nil
}

const defaultListenAddr = ":5174"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", defaultListenAddr)
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.cors_allow_origins", "*")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("server.read_timeout", "300s")
	v.SetDefault("server.provider_timeout", "280s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("providers.primary", "")
	v.SetDefault("providers.fallback", "")
	v.SetDefault("providers.gemini.api_key", "")
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash-image")
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("providers.gemini.vertex.project_id", "")
	v.SetDefault("providers.gemini.vertex.location", "")
	v.SetDefault("providers.gemini.vertex.credentials_json", "")
	v.SetDefault("providers.gemini.vertex.credentials_format", "")
	v.SetDefault("providers.stability.api_key", "")
	v.SetDefault("providers.stability.engine", StabilityEngineV16)
	v.SetDefault("providers.stability.base_url", "https://api.stability.ai")
	v.SetDefault("providers.stability.fit_canvas", 0)

	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_wait", "0s")
	v.SetDefault("retry.quota_markers", []string{"RESOURCE_EXHAUSTED"})

	v.SetDefault("admission.backend", "memory")
	v.SetDefault("admission.key", "carving-editor:inflight")
	v.SetDefault("admission.ttl", "5m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("idempotency.enabled", false)
	v.SetDefault("idempotency.ttl", "30m")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.storage", "local")
	v.SetDefault("archive.encryption_key", "")
	v.SetDefault("archive.local.directory", "./data/edits")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "edits")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.use_path_style", false)
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.session_token", "")
	v.SetDefault("archive.s3.profile", "")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func pickFirst(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
