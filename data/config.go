package data

import (
	"strings"

	"github.com/spf13/viper"
)

// Configuration keys in lmline.yaml.
const (
	KeyEndpoint    = "backend.endpoint"
	KeyMaxTokens   = "generate.max_tokens"
	KeyTemperature = "generate.temperature"
	KeyTopP        = "generate.top_p"
	KeyLogLevel    = "log.level"
)

const (
	DefaultEndpoint = "http://localhost:8000"
)

// ConfigStore provides typed access to lmline.yaml configuration.
// It wraps viper internally and exposes only typed interfaces.
type ConfigStore struct {
	v *viper.Viper
}

// NewConfigStore creates a ConfigStore over the configuration viper has
// already loaded.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{v: viper.GetViper()}
}

func (c *ConfigStore) Endpoint() string {
	endpoint := c.v.GetString(KeyEndpoint)
	if endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimRight(endpoint, "/")
}

func (c *ConfigStore) SetEndpoint(endpoint string) {
	c.v.Set(KeyEndpoint, strings.TrimRight(endpoint, "/"))
}

func (c *ConfigStore) MaxTokens() int {
	return c.v.GetInt(KeyMaxTokens)
}

func (c *ConfigStore) Temperature() float64 {
	return c.v.GetFloat64(KeyTemperature)
}

func (c *ConfigStore) TopP() float64 {
	return c.v.GetFloat64(KeyTopP)
}

func (c *ConfigStore) LogLevel() string {
	level := c.v.GetString(KeyLogLevel)
	if level == "" {
		return "info"
	}
	return level
}

// Set stores an arbitrary known key. Returns false for unknown keys so the
// config command can reject typos instead of writing them to the file.
func (c *ConfigStore) Set(key, value string) bool {
	switch key {
	case KeyEndpoint:
		c.SetEndpoint(value)
	case KeyMaxTokens, KeyTemperature, KeyTopP, KeyLogLevel:
		c.v.Set(key, value)
	default:
		return false
	}
	return true
}

// Get returns the printable value for a known key.
func (c *ConfigStore) Get(key string) (string, bool) {
	switch key {
	case KeyEndpoint:
		return c.Endpoint(), true
	case KeyMaxTokens, KeyTemperature, KeyTopP, KeyLogLevel:
		return c.v.GetString(key), true
	default:
		return "", false
	}
}

// Keys lists every known configuration key.
func Keys() []string {
	return []string{KeyEndpoint, KeyMaxTokens, KeyTemperature, KeyTopP, KeyLogLevel}
}

// Save writes the configuration back to the loaded file, creating it at
// path when no file was loaded yet.
func (c *ConfigStore) Save(path string) error {
	if c.v.ConfigFileUsed() != "" {
		return c.v.WriteConfig()
	}
	return c.v.WriteConfigAs(path)
}
