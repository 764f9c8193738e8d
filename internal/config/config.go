package config

import (
	"strconv"
	"strings"
	"time"

	"antigravity2api-go/internal/constants"
)

// ServerConfig holds listener settings.
type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Host string `yaml:"host" json:"host"`
}

// APIConfig holds upstream endpoint settings.
type APIConfig struct {
	URL       string `yaml:"url" json:"url"`
	ModelsURL string `yaml:"modelsUrl" json:"modelsUrl"`
	Host      string `yaml:"host" json:"host"`
	UserAgent string `yaml:"userAgent" json:"userAgent"`
}

// DefaultsConfig holds generation parameter defaults applied when the
// ingress request omits them.
type DefaultsConfig struct {
	Temperature *float64 `yaml:"temperature" json:"temperature"`
	TopP        *float64 `yaml:"top_p" json:"top_p"`
	TopK        *int     `yaml:"top_k" json:"top_k"`
	MaxTokens   *int     `yaml:"max_tokens" json:"max_tokens"`
}

// SecurityConfig holds ingress protection settings.
type SecurityConfig struct {
	MaxRequestSize int64  `yaml:"maxRequestSize" json:"maxRequestSize"`
	APIKey         string `yaml:"apiKey" json:"apiKey"`
	APIKeyHash     string `yaml:"apiKeyHash" json:"apiKeyHash"`
	Debug          bool   `yaml:"debug" json:"debug"`
	LogFile        string `yaml:"logFile" json:"logFile"`
}

// RetryConfig controls the cross-credential retry loop.
type RetryConfig struct {
	MaxRetries int `yaml:"maxRetries" json:"maxRetries"`
	// BaseDelay is the 429 cooldown in milliseconds applied when the
	// upstream supplies no Retry-After hint.
	BaseDelay int64 `yaml:"baseDelay" json:"baseDelay"`
}

// ConcurrencyConfig controls the admission queue.
type ConcurrencyConfig struct {
	// MaxConcurrent is an integer or the string "auto".
	MaxConcurrent       string `yaml:"maxConcurrent" json:"maxConcurrent"`
	PerTokenConcurrency int    `yaml:"perTokenConcurrency" json:"perTokenConcurrency"`
	QueueLimit          int    `yaml:"queueLimit" json:"queueLimit"`
	// Timeout is the queue budget in milliseconds.
	Timeout int64 `yaml:"timeout" json:"timeout"`
}

// ThinkingConfig controls how extracted reasoning segments are surfaced.
type ThinkingConfig struct {
	// Output is one of reasoning_content, raw, filter.
	Output string `yaml:"output" json:"output"`
}

// CredentialsConfig locates the credential file.
type CredentialsConfig struct {
	File string `yaml:"file" json:"file"`
}

// OAuthConfig holds the token refresh endpoint and client identity.
type OAuthConfig struct {
	ClientID     string `yaml:"clientId" json:"clientId"`
	ClientSecret string `yaml:"clientSecret" json:"clientSecret"`
	TokenURL     string `yaml:"tokenUrl" json:"tokenUrl"`
}

// RateLimitConfig controls the optional ingress token-bucket limiter.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	RPS     int  `yaml:"rps" json:"rps"`
	Burst   int  `yaml:"burst" json:"burst"`
}

// Config is the full runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	API         APIConfig         `yaml:"api" json:"api"`
	Defaults    DefaultsConfig    `yaml:"defaults" json:"defaults"`
	Security    SecurityConfig    `yaml:"security" json:"security"`
	Retry       RetryConfig       `yaml:"retry" json:"retry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" json:"concurrency"`
	Thinking    ThinkingConfig    `yaml:"thinking" json:"thinking"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
	OAuth       OAuthConfig       `yaml:"oauth" json:"oauth"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit" json:"rateLimit"`
}

// Thinking output policies.
const (
	ThinkingReasoningContent = "reasoning_content"
	ThinkingRaw              = "raw"
	ThinkingFilter           = "filter"
)

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8045
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Security.MaxRequestSize <= 0 {
		c.Security.MaxRequestSize = constants.DefaultMaxRequestSize
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = constants.DefaultCooldownMS
	}
	if strings.TrimSpace(c.Concurrency.MaxConcurrent) == "" {
		c.Concurrency.MaxConcurrent = "auto"
	}
	if c.Concurrency.PerTokenConcurrency <= 0 {
		c.Concurrency.PerTokenConcurrency = constants.DefaultPerTokenConcurrency
	}
	if c.Concurrency.QueueLimit <= 0 {
		c.Concurrency.QueueLimit = 100
	}
	if c.Concurrency.Timeout <= 0 {
		c.Concurrency.Timeout = constants.DefaultQueueTimeout.Milliseconds()
	}
	switch c.Thinking.Output {
	case ThinkingReasoningContent, ThinkingRaw, ThinkingFilter:
	default:
		c.Thinking.Output = ThinkingReasoningContent
	}
	if c.Credentials.File == "" {
		c.Credentials.File = "data/accounts.json"
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "antigravity/1.11.9 (linux; x64)"
	}
	if c.API.URL == "" {
		c.API.URL = "https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse"
	}
	if c.API.ModelsURL == "" {
		c.API.ModelsURL = "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			c.RateLimit.RPS = 10
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = 20
		}
	}
}

// ResolveMaxConcurrent interprets concurrency.maxConcurrent; "auto" resolves
// to clamp(enabledCredentials x perTokenConcurrency, 1, 100).
func (c *Config) ResolveMaxConcurrent(enabledCredentials int) int {
	raw := strings.TrimSpace(strings.ToLower(c.Concurrency.MaxConcurrent))
	if raw != "" && raw != "auto" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	n := enabledCredentials * c.Concurrency.PerTokenConcurrency
	if n < 1 {
		n = 1
	}
	if n > constants.AutoConcurrencyMax {
		n = constants.AutoConcurrencyMax
	}
	return n
}

// QueueTimeout returns the admission timeout as a duration.
func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.Concurrency.Timeout) * time.Millisecond
}
