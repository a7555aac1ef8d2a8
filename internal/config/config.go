package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"

	"github.com/kalambet/codebuddy/internal/provider"
)

const (
	keyringService   = "codebuddy"
	serverTokenAcct  = "api_token"
	defaultTimeout   = "60s"
	defaultServePort = 4100
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Provider ProviderConfig
	Request  RequestConfig
	Prompts  PromptsConfig
}

type ServerConfig struct {
	Port int
	// Token is the bearer token required by the HTTP API. Empty disables auth.
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	JSON  bool
}

type ProviderConfig struct {
	ID              string
	APIKey          string
	Model           string
	Endpoint        string
	DeploymentName  string
	APIVersion      string
	Organization    string
	CustomHeaders   string
	RequestTemplate string
	ModelVersion    string
}

type RequestConfig struct {
	Timeout string
}

type PromptsConfig struct {
	// Custom is the default instruction used when no site prompt matches.
	Custom string
}

func defaults() Config {
	return Config{
		Server:   ServerConfig{Port: defaultServePort},
		Storage:  StorageConfig{DataDir: defaultDataDir()},
		Log:      LogConfig{Level: "info"},
		Provider: ProviderConfig{ID: string(provider.Ollama)},
		Request:  RequestConfig{Timeout: defaultTimeout},
	}
}

// Load reads configuration from the TOML file, a .env file in the working
// directory, environment variables and the OS keyring, in increasing order
// of precedence for non-secret keys.
//
// The file lives at $XDG_CONFIG_HOME/codebuddy/config.toml. Environment
// variables (CODEBUDDY_*) override file values. Secrets are never written to
// the file: the provider API key and server token come from
// CODEBUDDY_API_KEY / CODEBUDDY_SERVER_TOKEN or the keyring (service
// "codebuddy", accounts "<provider>_api_key" and "api_token").
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), keyringStore{})
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// secretStore abstracts the OS keyring for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if d, err := provider.Lookup(cfg.Provider.ID); err == nil {
		cfg.Provider.ID = string(d.ID())
	}

	if cfg.Provider.APIKey == "" && cfg.Provider.ID != "" {
		if key, err := ss.Get(keyringService, apiKeyAccount(cfg.Provider.ID)); err == nil {
			cfg.Provider.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if tok, err := ss.Get(keyringService, serverTokenAcct); err == nil {
			cfg.Server.Token = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be repaired by defaults.
func (c Config) Validate() error {
	if _, err := provider.Lookup(c.Provider.ID); err != nil {
		return fmt.Errorf("invalid provider.id: %w", err)
	}
	if _, err := time.ParseDuration(c.Request.Timeout); err != nil {
		return fmt.Errorf("invalid request.timeout %q: %w", c.Request.Timeout, err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// RequestTimeout returns the per-attempt provider timeout.
func (c Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Request.Timeout)
	if err != nil || d <= 0 {
		return provider.DefaultTimeout
	}
	return d
}

// ProviderID returns the configured provider as a typed ID.
func (c Config) ProviderID() provider.ID {
	return provider.ID(c.Provider.ID)
}

// ProviderConfig converts the provider section into a dispatchable config
// with provider defaults filled in.
func (c Config) ProviderConfig() (provider.Config, error) {
	d, err := provider.Lookup(c.Provider.ID)
	if err != nil {
		return provider.Config{}, err
	}
	p := c.Provider
	cfg := provider.Config{
		APIKey:   p.APIKey,
		Model:    p.Model,
		Endpoint: p.Endpoint,
		Extra:    map[provider.Field]string{},
	}
	for f, v := range map[provider.Field]string{
		provider.FieldDeploymentName:  p.DeploymentName,
		provider.FieldAPIVersion:      p.APIVersion,
		provider.FieldOrganization:    p.Organization,
		provider.FieldHeaders:         p.CustomHeaders,
		provider.FieldRequestTemplate: p.RequestTemplate,
		provider.FieldModelVersion:    p.ModelVersion,
	} {
		if v != "" {
			cfg.Extra[f] = v
		}
	}
	return provider.WithDefaults(d, cfg), nil
}

func apiKeyAccount(providerID string) string {
	return providerID + "_api_key"
}

// keyringStore reads and writes secrets in the OS keyring.
type keyringStore struct{}

func (keyringStore) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (keyringStore) Set(service, account, value string) error {
	return keyring.Set(service, account, value)
}
