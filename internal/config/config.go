// Package config defines the configuration surface of the service. All
// values can be supplied through the environment; an optional YAML file
// provides a base layer that the environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `yaml:"logLevel"    env:"LOG_LEVEL"`

	HTTP      HTTPServer `yaml:"http"      envPrefix:"HTTP_"`
	ValKey    ValKey     `yaml:"valkey"    envPrefix:"VALKEY_"`
	OAuth     OAuth      `yaml:"oauth"     envPrefix:"OAUTH_"`
	Refresher Refresher  `yaml:"refresher" envPrefix:"REFRESHER_"`

	SessionCookie CookieTemplate `yaml:"sessionCookie" envPrefix:"SESSION_COOKIE_"`
	ProfileCookie CookieTemplate `yaml:"profileCookie" envPrefix:"PROFILE_COOKIE_"`
}

type HTTPServer struct {
	Address         string        `yaml:"address"         env:"ADDRESS"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

type ValKey struct {
	Host     string `yaml:"host"     env:"HOST"`
	Port     string `yaml:"port"     env:"PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Prefix   string `yaml:"prefix"   env:"PREFIX"`
}

type OAuth struct {
	// ProviderURL is the identity provider's default entry point, used when
	// a sign-in starts without a handle (new-account creation).
	ProviderURL string `yaml:"providerURL" env:"PROVIDER_URL"`
	// HandleSuffix is appended to bare handle hints, e.g. "pds.example".
	HandleSuffix string        `yaml:"handleSuffix" env:"HANDLE_SUFFIX"`
	ClientID     string        `yaml:"clientID"     env:"CLIENT_ID"`
	RedirectURI  string        `yaml:"redirectURI"  env:"REDIRECT_URI"`
	Scope        string        `yaml:"scope"        env:"SCOPE"`
	SigningKey   string        `yaml:"signingKey"   env:"SIGNING_KEY"`
	StateTTL     time.Duration `yaml:"stateTTL"     env:"STATE_TTL"`
}

type Refresher struct {
	Interval     time.Duration `yaml:"interval"     env:"INTERVAL"`
	ExpiryWindow time.Duration `yaml:"expiryWindow" env:"EXPIRY_WINDOW"`
}

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		HTTP: HTTPServer{
			Address:         ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		ValKey: ValKey{
			Host: "localhost",
			Port: "6379",
		},
		OAuth: OAuth{
			Scope:    "atproto transition:generic",
			StateTTL: 600 * time.Second,
		},
		Refresher: Refresher{
			Interval:     5 * time.Minute,
			ExpiryWindow: 5 * time.Minute,
		},
		SessionCookie: CookieTemplate{
			Name:     "user-did",
			Path:     "/",
			MaxAge:   604800, // 7 days, independent of token expiry
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		ProfileCookie: CookieTemplate{
			Name:     "active-did",
			Path:     "/",
			MaxAge:   604800,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.IsProduction() {
		cfg.SessionCookie.Secure = true
		cfg.ProfileCookie.Secure = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) validate() error {
	if c.OAuth.SigningKey == "" {
		return errors.New("OAUTH_SIGNING_KEY is required")
	}
	if c.OAuth.ClientID == "" {
		return errors.New("OAUTH_CLIENT_ID is required")
	}
	if c.OAuth.RedirectURI == "" {
		return errors.New("OAUTH_REDIRECT_URI is required")
	}
	if c.OAuth.ProviderURL == "" {
		return errors.New("OAUTH_PROVIDER_URL is required")
	}

	return nil
}
