// Package config loads gateway configuration from a YAML file plus
// ARCHESTRA_* environment variable overrides, using viper the way the
// teacher's CLI entrypoints do.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/archestra-ai/gateway/pkg/errors"
)

// SupportedProviders is the compile-time-exhaustive list of provider IDs
// the Provider Router & Transcoder supports.
var SupportedProviders = []string{
	"openai", "anthropic", "gemini", "bedrock", "cohere",
	"cerebras", "mistral", "vllm", "ollama", "zhipuai",
}

// ProviderConfig holds per-provider settings resolved from environment
// variables: the last-resort API key and an optional upstream base URL
// override.
type ProviderConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
}

// RetryConfig tunes the capped exponential backoff used for idempotent
// unary retries.
type RetryConfig struct {
	BaseMs     int
	MaxMs      int
	MaxRetries int
}

// MCPTimeouts are the per-operation timeouts of the MCP Tool Dispatcher.
type MCPTimeouts struct {
	Connect      time.Duration
	ListTools    time.Duration
	OAuthRefresh time.Duration
}

// GeminiVertexConfig holds the Vertex AI mode settings for Gemini.
type GeminiVertexConfig struct {
	Enabled         bool
	Project         string
	Location        string
	CredentialsFile string
}

// BedrockConfig holds Bedrock-specific settings, including the
// static AWS credentials used for SigV4 request signing when a request
// carries no bearer token ("Auth").
type BedrockConfig struct {
	BaseURL                string
	InferenceProfilePrefix string
	Region                 string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	AWSSessionToken        string
}

// Config is the fully-resolved gateway configuration.
type Config struct {
	ListenAddr string

	Providers map[string]ProviderConfig

	GeminiVertex GeminiVertexConfig
	Bedrock      BedrockConfig

	Retry RetryConfig

	MCPTimeouts          MCPTimeouts
	HTTPConcurrencyLimit int

	RedisAddr string

	JWKSURL      string
	JWTIssuer    string
	JWTAudience  string
	JWTClientID  string
}

func defaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("retry.base_ms", 1000)
	v.SetDefault("retry.max_ms", 30000)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("mcp_timeouts.connect_seconds", 30)
	v.SetDefault("mcp_timeouts.list_tools_seconds", 30)
	v.SetDefault("mcp_timeouts.oauth_refresh_seconds", 10)
	v.SetDefault("http_concurrency_limit", 4)
	v.SetDefault("redis_addr", "localhost:6379")
}

// Load reads configuration from an optional YAML file at path (ignored if
// empty or not found) and ARCHESTRA_* (including ARCHESTRA_JWT_*)
// environment variables, then
// validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("ARCHESTRA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, errors.NewMisconfiguredError(fmt.Sprintf("reading config file %s", path), err)
			}
		}
	}

	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		Providers:  map[string]ProviderConfig{},
		GeminiVertex: GeminiVertexConfig{
			Enabled:         envBool("ARCHESTRA_GEMINI_VERTEX_AI_ENABLED"),
			Project:         envString("ARCHESTRA_GEMINI_VERTEX_AI_PROJECT"),
			Location:        envString("ARCHESTRA_GEMINI_VERTEX_AI_LOCATION"),
			CredentialsFile: envString("ARCHESTRA_GEMINI_VERTEX_AI_CREDENTIALS_FILE"),
		},
		Bedrock: BedrockConfig{
			BaseURL:                envString("ARCHESTRA_BEDROCK_BASE_URL"),
			InferenceProfilePrefix: envString("ARCHESTRA_BEDROCK_INFERENCE_PROFILE_PREFIX"),
			Region:                 envString("ARCHESTRA_BEDROCK_REGION"),
			AWSAccessKeyID:         envString("ARCHESTRA_BEDROCK_AWS_ACCESS_KEY_ID"),
			AWSSecretAccessKey:     envString("ARCHESTRA_BEDROCK_AWS_SECRET_ACCESS_KEY"),
			AWSSessionToken:        envString("ARCHESTRA_BEDROCK_AWS_SESSION_TOKEN"),
		},
		Retry: RetryConfig{
			BaseMs:     v.GetInt("retry.base_ms"),
			MaxMs:      v.GetInt("retry.max_ms"),
			MaxRetries: v.GetInt("retry.max_retries"),
		},
		MCPTimeouts: MCPTimeouts{
			Connect:      time.Duration(v.GetInt("mcp_timeouts.connect_seconds")) * time.Second,
			ListTools:    time.Duration(v.GetInt("mcp_timeouts.list_tools_seconds")) * time.Second,
			OAuthRefresh: time.Duration(v.GetInt("mcp_timeouts.oauth_refresh_seconds")) * time.Second,
		},
		HTTPConcurrencyLimit: v.GetInt("http_concurrency_limit"),
		RedisAddr:            v.GetString("redis_addr"),
		JWKSURL:              envString("ARCHESTRA_JWKS_URL"),
		JWTIssuer:            envString("ARCHESTRA_JWT_ISSUER"),
		JWTAudience:          envString("ARCHESTRA_JWT_AUDIENCE"),
		JWTClientID:          envString("ARCHESTRA_JWT_CLIENT_ID"),
	}

	for _, p := range SupportedProviders {
		upper := strings.ToUpper(p)
		pc := ProviderConfig{
			APIKey:  envString(fmt.Sprintf("ARCHESTRA_CHAT_%s_API_KEY", upper)),
			BaseURL: envString(fmt.Sprintf("ARCHESTRA_%s_BASE_URL", upper)),
		}
		// A provider is considered enabled for validation purposes once any
		// of its settings are present, or by explicit per-provider toggle.
		pc.Enabled = envBool(fmt.Sprintf("ARCHESTRA_%s_ENABLED", upper)) || pc.APIKey != "" || pc.BaseURL != ""
		cfg.Providers[p] = pc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the fatal config invariant: an enabled provider
// lacking a base URL override is a misconfiguration, except for
// providers the gateway knows how to reach with a well-known default
// upstream (openai, anthropic, gemini, cohere, cerebras, mistral,
// zhipuai, bedrock all have one; vllm/ollama do not, since they are
// necessarily self-hosted).
func (c *Config) Validate() error {
	needsExplicitBaseURL := map[string]bool{"vllm": true, "ollama": true}

	for _, p := range SupportedProviders {
		pc := c.Providers[p]
		if pc.Enabled && needsExplicitBaseURL[p] && pc.BaseURL == "" {
			return errors.NewMisconfiguredError(
				fmt.Sprintf("provider %q is enabled but has no base URL configured", p), nil)
		}
	}

	if c.GeminiVertex.Enabled && (c.GeminiVertex.Project == "" || c.GeminiVertex.Location == "") {
		return errors.NewMisconfiguredError("gemini vertex mode enabled but project/location missing", nil)
	}

	return nil
}

func envString(key string) string {
	return os.Getenv(key)
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
