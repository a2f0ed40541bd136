package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultCASLogin     = "https://auth.berkeley.edu/cas/login"
	DefaultBase         = "https://bspace.berkeley.edu"
	DefaultOutputDir    = "bspace"
	DefaultMaxDepth     = 32
	DefaultMaxRedirects = 10
	DefaultServeAddr    = "127.0.0.1:3923"
)

// Config is JSON-friendly and every field can be overridden from the
// environment. Zero values are filled in by ApplyDefaults.
type Config struct {
	// CASLogin is the CAS login form address.
	CASLogin string `json:"casLogin,omitempty" env:"BMIRROR_CAS_LOGIN"`

	// Base is the Sakai installation root, e.g. https://bspace.berkeley.edu.
	// The listing endpoints are derived from it.
	Base string `json:"base,omitempty" env:"BMIRROR_BASE"`

	// Service is the service URL the CAS ticket is issued for.
	// Default: <base>/sakai-login-tool/container
	Service string `json:"service,omitempty" env:"BMIRROR_SERVICE"`

	// Username and Password are prompted for when empty.
	Username string `json:"username,omitempty" env:"BMIRROR_USERNAME"`
	Password string `json:"password,omitempty" env:"BMIRROR_PASSWORD"`

	// OutputDir is where sites are mirrored. The manifest lives here too.
	OutputDir string `json:"outputDir,omitempty" env:"BMIRROR_OUTPUT_DIR"`

	// MaxDepth bounds how many folder levels below a site's resource root
	// are followed.
	MaxDepth int `json:"maxDepth,omitempty" env:"BMIRROR_MAX_DEPTH"`

	// MaxRedirects bounds each redirect chain.
	MaxRedirects int `json:"maxRedirects,omitempty" env:"BMIRROR_MAX_REDIRECTS"`

	// DebugRequests logs every HTTP request at debug level.
	DebugRequests bool `json:"debugRequests,omitempty" env:"BMIRROR_DEBUG_REQUESTS"`

	Serve Serve `json:"serve"`
}

// Serve configures the read-only mirror server.
type Serve struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" env:"BMIRROR_SERVE_ADDR"`

	// Users maps username -> bcrypt hash. If empty, the server runs
	// without auth.
	// Example:
	// "alice": {"bcrypt":"$2a$10$..."}
	Users map[string]User `json:"users,omitempty"`
}

type User struct {
	Bcrypt string `json:"bcrypt"`
}

// Load reads the JSON file at path (optional when empty), loads dotenv when
// that file exists, and then applies environment overrides and defaults.
func Load(path, dotenv string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) ApplyDefaults() {
	if c.CASLogin == "" {
		c.CASLogin = DefaultCASLogin
	}
	if c.Base == "" {
		c.Base = DefaultBase
	}
	c.Base = strings.TrimRight(c.Base, "/")
	if c.Service == "" {
		c.Service = c.Base + "/sakai-login-tool/container"
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = DefaultServeAddr
	}
}

func (c Config) Validate() error {
	for name, v := range map[string]string{"casLogin": c.CASLogin, "base": c.Base, "service": c.Service} {
		u, err := url.Parse(v)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config: %s must be an http(s) URL, got %q", name, v)
		}
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("config: maxDepth must not be negative")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("config: maxRedirects must not be negative")
	}
	for name, u := range c.Serve.Users {
		if !strings.HasPrefix(u.Bcrypt, "$2") {
			return fmt.Errorf("config: user %q needs a bcrypt hash", name)
		}
	}
	return nil
}
