package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, DefaultCASLogin, cfg.CASLogin)
	assert.Equal(t, DefaultBase, cfg.Base)
	assert.Equal(t, "https://bspace.berkeley.edu/sakai-login-tool/container", cfg.Service)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, 32, cfg.MaxDepth)
	assert.Equal(t, 10, cfg.MaxRedirects)
	assert.Equal(t, DefaultServeAddr, cfg.Serve.Addr)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, "bmirror.json", `{
  "base": "https://sakai.example.edu/",
  "username": "oski",
  "maxDepth": 4,
  "serve": {"addr": ":8080", "users": {"alice": {"bcrypt": "$2a$10$abc"}}}
}`)
	cfg, err := Load(p, "")
	require.NoError(t, err)

	assert.Equal(t, "https://sakai.example.edu", cfg.Base)
	assert.Equal(t, "https://sakai.example.edu/sakai-login-tool/container", cfg.Service)
	assert.Equal(t, "oski", cfg.Username)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Equal(t, "$2a$10$abc", cfg.Serve.Users["alice"].Bcrypt)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "bmirror.json", `{"username": "oski", "outputDir": "from-file"}`)
	t.Setenv("BMIRROR_USERNAME", "bear")
	t.Setenv("BMIRROR_DEBUG_REQUESTS", "true")

	cfg, err := Load(p, "")
	require.NoError(t, err)
	assert.Equal(t, "bear", cfg.Username)
	assert.Equal(t, "from-file", cfg.OutputDir)
	assert.True(t, cfg.DebugRequests)
}

func TestDotenvFillsUnsetVariables(t *testing.T) {
	dotenv := writeFile(t, ".env", "BMIRROR_OUTPUT_DIR=from-dotenv\nBMIRROR_MAX_REDIRECTS=3\n")
	t.Setenv("BMIRROR_MAX_REDIRECTS", "7")
	// t.Setenv restores the variable afterwards; godotenv sets it directly.
	t.Setenv("BMIRROR_OUTPUT_DIR", "")
	require.NoError(t, os.Unsetenv("BMIRROR_OUTPUT_DIR"))

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.OutputDir)
	assert.Equal(t, 7, cfg.MaxRedirects, "the process environment wins over dotenv")
}

func TestMissingDotenvIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", "{"), "")
	assert.Error(t, err)

	t.Setenv("BMIRROR_MAX_DEPTH", "deep")
	_, err = Load("", "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Base: "ftp://host"}
	cfg.ApplyDefaults()
	assert.ErrorContains(t, cfg.Validate(), "base")

	cfg = Config{MaxDepth: -1}
	cfg.ApplyDefaults()
	assert.ErrorContains(t, cfg.Validate(), "maxDepth")

	cfg = Config{Serve: Serve{Users: map[string]User{"bob": {Bcrypt: "plain"}}}}
	cfg.ApplyDefaults()
	assert.ErrorContains(t, cfg.Validate(), "bob")
}
