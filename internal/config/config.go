package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLocal     = "local"
)

const (
	ChatLogBackendDuckDB   = "duckdb"
	ChatLogBackendPostgres = "postgres"
)

const (
	SelectorLLM     = "llm"
	SelectorKeyword = "keyword"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Data          DataConfig
	ChatLog       ChatLogConfig
	ObjectStore   ObjectStoreConfig
	LLM           LLMConfig
	Translation   TranslationConfig
	Redis         RedisConfig
	Glossary      GlossaryConfig
	Router        RouterConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DataConfig struct {
	CorpusDir        string
	CorpusPattern    string
	DatabasePath     string
	Table            string
	RowLimit         int
	ProvisionOnStart bool
}

type ChatLogConfig struct {
	Backend         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type LLMConfig struct {
	Provider          string
	Model             string
	APIKey            string
	GeminiAPIKey      string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	OpenAIBaseURL     string
	Temperature       float64
	MaxOutputTokens   int
	Timeout           time.Duration
	EmbeddingProvider string
	EmbeddingModel    string
}

type TranslationConfig struct {
	Enabled     bool
	MinInterval time.Duration
	CacheTTL    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GlossaryConfig struct {
	TopK     int
	MinScore float64
}

type RouterConfig struct {
	Selector string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("AQUAMITRA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid AQUAMITRA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	// Provider keys follow the conventional unprefixed names; the prefixed
	// variants below take precedence when both are present.
	for _, key := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if err := applyString(lookup, key, &cfg.LLM.GeminiAPIKey); err != nil {
			return Config{}, err
		}
	}
	if err := applyString(lookup, "OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ANTHROPIC_API_KEY", &cfg.LLM.AnthropicAPIKey); err != nil {
		return Config{}, err
	}

	steps := []func() error{
		func() error { return applyString(lookup, "AQUAMITRA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "AQUAMITRA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "AQUAMITRA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "AQUAMITRA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "AQUAMITRA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "AQUAMITRA_CORPUS_DIR", &cfg.Data.CorpusDir) },
		func() error { return applyString(lookup, "AQUAMITRA_CORPUS_PATTERN", &cfg.Data.CorpusPattern) },
		func() error { return applyString(lookup, "AQUAMITRA_DUCKDB_PATH", &cfg.Data.DatabasePath) },
		func() error { return applyString(lookup, "AQUAMITRA_TABLE", &cfg.Data.Table) },
		func() error { return applyInt(lookup, "AQUAMITRA_QUERY_ROW_LIMIT", &cfg.Data.RowLimit) },
		func() error { return applyBool(lookup, "AQUAMITRA_PROVISION_ON_START", &cfg.Data.ProvisionOnStart) },
		func() error { return applyString(lookup, "AQUAMITRA_CHATLOG_BACKEND", &cfg.ChatLog.Backend) },
		func() error { return applyString(lookup, "AQUAMITRA_CHATLOG_DSN", &cfg.ChatLog.DSN) },
		func() error { return applyInt(lookup, "AQUAMITRA_CHATLOG_MAX_OPEN_CONNS", &cfg.ChatLog.MaxOpenConns) },
		func() error { return applyInt(lookup, "AQUAMITRA_CHATLOG_MAX_IDLE_CONNS", &cfg.ChatLog.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "AQUAMITRA_CHATLOG_CONN_MAX_IDLE_TIME", &cfg.ChatLog.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "AQUAMITRA_CHATLOG_CONN_MAX_LIFETIME", &cfg.ChatLog.ConnMaxLifetime)
		},
		func() error { return applyBool(lookup, "AQUAMITRA_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "AQUAMITRA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "AQUAMITRA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "AQUAMITRA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "AQUAMITRA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "AQUAMITRA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "AQUAMITRA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "AQUAMITRA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyString(lookup, "AQUAMITRA_LLM_PROVIDER", &cfg.LLM.Provider) },
		func() error { return applyString(lookup, "AQUAMITRA_LLM_MODEL", &cfg.LLM.Model) },
		func() error { return applyString(lookup, "AQUAMITRA_LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "AQUAMITRA_OPENAI_BASE_URL", &cfg.LLM.OpenAIBaseURL) },
		func() error { return applyFloat(lookup, "AQUAMITRA_LLM_TEMPERATURE", &cfg.LLM.Temperature) },
		func() error { return applyInt(lookup, "AQUAMITRA_LLM_MAX_OUTPUT_TOKENS", &cfg.LLM.MaxOutputTokens) },
		func() error { return applyDuration(lookup, "AQUAMITRA_LLM_TIMEOUT", &cfg.LLM.Timeout) },
		func() error { return applyString(lookup, "AQUAMITRA_EMBEDDING_PROVIDER", &cfg.LLM.EmbeddingProvider) },
		func() error { return applyString(lookup, "AQUAMITRA_EMBEDDING_MODEL", &cfg.LLM.EmbeddingModel) },
		func() error { return applyBool(lookup, "AQUAMITRA_TRANSLATION_ENABLED", &cfg.Translation.Enabled) },
		func() error {
			return applyDuration(lookup, "AQUAMITRA_TRANSLATION_MIN_INTERVAL", &cfg.Translation.MinInterval)
		},
		func() error { return applyDuration(lookup, "AQUAMITRA_TRANSLATION_CACHE_TTL", &cfg.Translation.CacheTTL) },
		func() error { return applyString(lookup, "AQUAMITRA_REDIS_ADDR", &cfg.Redis.Addr) },
		func() error { return applyString(lookup, "AQUAMITRA_REDIS_PASSWORD", &cfg.Redis.Password) },
		func() error { return applyInt(lookup, "AQUAMITRA_REDIS_DB", &cfg.Redis.DB) },
		func() error { return applyInt(lookup, "AQUAMITRA_GLOSSARY_TOP_K", &cfg.Glossary.TopK) },
		func() error { return applyFloat(lookup, "AQUAMITRA_GLOSSARY_MIN_SCORE", &cfg.Glossary.MinScore) },
		func() error { return applyString(lookup, "AQUAMITRA_ROUTER_SELECTOR", &cfg.Router.Selector) },
		func() error { return applyBool(lookup, "AQUAMITRA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "AQUAMITRA_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "AQUAMITRA_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "AQUAMITRA_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.LLM.EmbeddingProvider = strings.ToLower(cfg.LLM.EmbeddingProvider)
	if cfg.LLM.EmbeddingProvider == "" {
		cfg.LLM.EmbeddingProvider = defaultEmbeddingProvider(cfg.LLM)
	}
	cfg.ChatLog.Backend = strings.ToLower(cfg.ChatLog.Backend)
	cfg.Router.Selector = strings.ToLower(cfg.Router.Selector)
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.ChatLog.Backend {
	case ChatLogBackendDuckDB, ChatLogBackendPostgres:
	default:
		return Config{}, fmt.Errorf("invalid AQUAMITRA_CHATLOG_BACKEND: %q", cfg.ChatLog.Backend)
	}
	switch cfg.Router.Selector {
	case SelectorLLM, SelectorKeyword:
	default:
		return Config{}, fmt.Errorf("invalid AQUAMITRA_ROUTER_SELECTOR: %q", cfg.Router.Selector)
	}
	if cfg.Data.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid AQUAMITRA_QUERY_ROW_LIMIT: %d", cfg.Data.RowLimit)
	}
	return cfg, nil
}

// Validate checks the settings that only matter to processes that answer
// questions. The migrate binary and the CLI skip it.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
		if c.LLM.Key(c.LLM.Provider) == "" {
			return fmt.Errorf("missing credential for llm provider %q", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("invalid AQUAMITRA_LLM_PROVIDER: %q", c.LLM.Provider)
	}
	switch c.LLM.EmbeddingProvider {
	case ProviderLocal:
	case ProviderGemini, ProviderOpenAI:
		if c.LLM.Key(c.LLM.EmbeddingProvider) == "" {
			return fmt.Errorf("missing credential for embedding provider %q", c.LLM.EmbeddingProvider)
		}
	default:
		return fmt.Errorf("invalid AQUAMITRA_EMBEDDING_PROVIDER: %q", c.LLM.EmbeddingProvider)
	}
	if c.ChatLog.Backend == ChatLogBackendPostgres && c.ChatLog.DSN == "" {
		return fmt.Errorf("chat log dsn is required for the postgres backend")
	}
	return nil
}

// Key returns the credential for provider. AQUAMITRA_LLM_API_KEY overrides
// the provider-specific key of the completion provider only.
func (c LLMConfig) Key(provider string) string {
	if provider == c.Provider && c.APIKey != "" {
		return c.APIKey
	}
	switch provider {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	default:
		return ""
	}
}

// defaultEmbeddingProvider picks the completion provider's embedder when it
// has one and a key is set, and the local hashed embedder otherwise.
func defaultEmbeddingProvider(c LLMConfig) string {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
		if c.Key(c.Provider) != "" {
			return c.Provider
		}
	}
	return ProviderLocal
}

func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "gemini-2.5-flash"
	}
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "aquamitra-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Data: DataConfig{
			CorpusDir:        "data/ingres",
			CorpusPattern:    "*.csv",
			DatabasePath:     "ingres.duckdb",
			Table:            "assessments",
			RowLimit:         1000,
			ProvisionOnStart: true,
		},
		ChatLog: ChatLogConfig{
			Backend:         ChatLogBackendDuckDB,
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "aquamitra",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "ingres",
		},
		LLM: LLMConfig{
			Provider:          ProviderGemini,
			OpenAIBaseURL:     "",
			Temperature:       0.1,
			MaxOutputTokens:   1024,
			Timeout:           30 * time.Second,
			EmbeddingProvider: "",
			EmbeddingModel:    "",
		},
		Translation: TranslationConfig{
			Enabled:     true,
			MinInterval: time.Second,
			CacheTTL:    24 * time.Hour,
		},
		Redis: RedisConfig{},
		Glossary: GlossaryConfig{
			TopK:     2,
			MinScore: 0.15,
		},
		Router: RouterConfig{
			Selector: SelectorLLM,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Data.DatabasePath = ""
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Translation.MinInterval = 0
		cfg.Router.Selector = SelectorKeyword
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
