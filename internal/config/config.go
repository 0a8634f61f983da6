package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogMode    string `yaml:"log_mode"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMProfileModel string `yaml:"llm_profile_model"`
	LLMMaxTokens    int    `yaml:"llm_max_tokens"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	KnowledgePath   string `yaml:"knowledge_path"`

	// Per-category cap for the error-detection pass (spelling, grammar, american_spelling).
	ErrorCapPerCategory int `yaml:"error_cap_per_category"`

	DBPath                     string   `yaml:"db_path"`
	TeacherPassword            string   `yaml:"teacher_password"`
	CORSOrigins                []string `yaml:"cors_origins"`
	ExternalHTTPTimeoutSeconds int      `yaml:"external_http_timeout_seconds"`

	ProfileAutoUpdate           bool `yaml:"profile_auto_update"`
	ProfileUpdateTimeoutSeconds int  `yaml:"profile_update_timeout_seconds"`
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies env overrides and
// defaults, and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.LogMode, "LOG_MODE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMProfileModel, "LLM_PROFILE_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.KnowledgePath, "KNOWLEDGE_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.TeacherPassword, "TEACHER_PASSWORD")
	envOverrideBool(&cfg.ProfileAutoUpdate, "PROFILE_AUTO_UPDATE")
	for _, o := range []struct {
		field *int
		key   string
	}{
		{&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"},
		{&cfg.ErrorCapPerCategory, "ERROR_CAP_PER_CATEGORY"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
		{&cfg.ProfileUpdateTimeoutSeconds, "PROFILE_UPDATE_TIMEOUT_SECONDS"},
	} {
		if err := envOverrideInt(o.field, o.key); err != nil {
			return cfg, err
		}
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogMode == "" {
		cfg.LogMode = "dev"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 4096
	}
	if cfg.ErrorCapPerCategory == 0 {
		cfg.ErrorCapPerCategory = 3
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./vcopcoach.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.ProfileUpdateTimeoutSeconds == 0 {
		cfg.ProfileUpdateTimeoutSeconds = 60
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting. A missing model credential is
// not an error here: requests fail with a distinct upstream-auth error instead.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}
	if c.LLMMaxTokens < 256 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 256", c.LLMMaxTokens)
	}
	if c.ErrorCapPerCategory < 1 {
		return fmt.Errorf("invalid error_cap_per_category '%d': must be >= 1", c.ErrorCapPerCategory)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.ProfileUpdateTimeoutSeconds < 1 {
		return fmt.Errorf("invalid profile_update_timeout_seconds '%d': must be >= 1", c.ProfileUpdateTimeoutSeconds)
	}
	if c.KnowledgePath != "" {
		if _, err := os.Stat(c.KnowledgePath); err != nil {
			return fmt.Errorf("invalid knowledge_path '%s': %w", c.KnowledgePath, err)
		}
	}
	return nil
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}
