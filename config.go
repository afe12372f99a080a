package lexiread

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBaseURL         = "http://localhost:8089/"
	defaultTimeout         = 20 * time.Second
	defaultRetryMaxElapsed = 10 * time.Second
	defaultUserAgent       = "lexiread-go/1.0"
	defaultOpenAIModel     = "gpt-3.5-turbo"
)

type Config struct {
	// BaseURL of the LexiRead backend, e.g. https://api.lexiread.app/
	BaseURL string
	// ChatURL overrides the chat endpoint. Defaults to BaseURL + api/chat.
	ChatURL string
	// Timeout bounds a single request when the caller's context has no deadline.
	Timeout time.Duration
	// RetryMaxElapsed bounds retries of transport failures on auth calls.
	// Zero disables retries.
	RetryMaxElapsed time.Duration
	// ResetTokenTTL is how long a verified reset token is considered usable
	// locally. Zero leaves expiry to the server.
	ResetTokenTTL  time.Duration
	TokenCachePath string
	UserAgent      string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// ConfigFromEnv reads LEXIREAD_* environment variables.
func ConfigFromEnv() (*Config, error) {
	c := &Config{
		BaseURL:        getEnvWithDefault("LEXIREAD_BASE_URL", defaultBaseURL),
		ChatURL:        getEnvWithDefault("LEXIREAD_CHAT_URL", ""),
		TokenCachePath: getEnvWithDefault("LEXIREAD_TOKEN_CACHE", ""),
		UserAgent:      getEnvWithDefault("LEXIREAD_USER_AGENT", defaultUserAgent),
		OpenAIKey:      getEnvWithDefault("LEXIREAD_OPENAI_KEY", ""),
		OpenAIBaseURL:  getEnvWithDefault("LEXIREAD_OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnvWithDefault("LEXIREAD_OPENAI_MODEL", defaultOpenAIModel),
	}
	var err error
	if c.Timeout, err = getEnvDuration("LEXIREAD_TIMEOUT", defaultTimeout); err != nil {
		return nil, wrapError(CodeConfig, err, "invalid LEXIREAD_TIMEOUT")
	}
	if c.RetryMaxElapsed, err = getEnvDuration("LEXIREAD_RETRY_MAX_ELAPSED", defaultRetryMaxElapsed); err != nil {
		return nil, wrapError(CodeConfig, err, "invalid LEXIREAD_RETRY_MAX_ELAPSED")
	}
	if c.ResetTokenTTL, err = getEnvDuration("LEXIREAD_RESET_TOKEN_TTL", 0); err != nil {
		return nil, wrapError(CodeConfig, err, "invalid LEXIREAD_RESET_TOKEN_TTL")
	}
	return c, c.Validate()
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return newError(CodeConfig, "base url cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return wrapError(CodeConfig, errors.Wrap(err, "parse base url"), "invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(CodeConfig, "base url must be http or https")
	}
	if c.Timeout < 0 || c.RetryMaxElapsed < 0 || c.ResetTokenTTL < 0 {
		return newError(CodeConfig, "durations cannot be negative")
	}
	return nil
}

func (c *Config) chatURL() string {
	if c.ChatURL != "" {
		return c.ChatURL
	}
	return joinURL(c.BaseURL, pathChat)
}

func (c *Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c *Config) userAgent() string {
	if c.UserAgent == "" {
		return defaultUserAgent
	}
	return c.UserAgent
}
