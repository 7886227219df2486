package config

import (
	"fmt"
	"os"
	"strings"
)

const envPrefix = "$env:"

// ProviderConfig configures one model provider
type ProviderConfig struct {
	Type    string            `yaml:"type"`     // http, echo
	BaseURL string            `yaml:"base_url"` // required for http
	Path    string            `yaml:"path"`     // default /v1/predict
	Headers map[string]string `yaml:"headers"`
	Auth    *AuthConfig       `yaml:"auth"`
	Timeout int               `yaml:"timeout"` // in seconds, default 30
}

// AuthConfig configures authentication for a provider.
// Values may reference the environment as "$env:NAME".
type AuthConfig struct {
	Type   string `yaml:"type"`   // bearer, basic, api_key, none
	Header string `yaml:"header"` // header name (e.g., "Authorization")
	Value  string `yaml:"value"`  // full header value, or "$env:NAME"
	// For basic auth
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Validate checks a provider configuration
func (pc *ProviderConfig) Validate(name string) error {
	switch pc.Type {
	case "echo":
		return nil
	case "http":
		if pc.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", name)
		}
	default:
		return fmt.Errorf("provider %s: unknown type '%s'", name, pc.Type)
	}

	if pc.Auth != nil {
		switch pc.Auth.Type {
		case "bearer", "api_key":
			if pc.Auth.Value == "" {
				return fmt.Errorf("provider %s: auth value is required for %s", name, pc.Auth.Type)
			}
		case "basic":
			if pc.Auth.Username == "" {
				return fmt.Errorf("provider %s: auth username is required", name)
			}
		case "none", "":
		default:
			return fmt.Errorf("provider %s: unknown auth type '%s'", name, pc.Auth.Type)
		}
	}

	return nil
}

// ResolveEnv expands a "$env:NAME" reference. Other values are returned as is.
func ResolveEnv(value string) (string, error) {
	name, ok := strings.CutPrefix(value, envPrefix)
	if !ok {
		return value, nil
	}

	resolved := os.Getenv(name)
	if resolved == "" {
		return "", fmt.Errorf("environment variable '%s' is not set or is empty", name)
	}
	return resolved, nil
}
