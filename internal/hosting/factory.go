package hosting

import (
	"fmt"
	"os"

	"github.com/axiomcode/reposync/internal/errors"
)

// DefaultTokenEnvVar is consulted when no credential is passed explicitly.
const DefaultTokenEnvVar = "GITHUB_TOKEN"

// Config holds hosting provider configuration.
type Config struct {
	// Provider type. Only "github" is currently registered.
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL for self-hosted instances (e.g. GitHub Enterprise).
	// Leave empty for github.com.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// TokenEnvVar overrides the default token environment variable name.
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty"`
}

// NewProviderFunc is a constructor function for creating a hosting provider.
// Registered at init time by provider packages to avoid import cycles.
type NewProviderFunc func(cfg Config, token string) (Provider, error)

// Provider constructors registered by provider packages.
var providerConstructors = map[ProviderType]NewProviderFunc{}

// RegisterProvider registers a provider constructor.
// Called from init() in provider packages.
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	providerConstructors[providerType] = constructor
}

// NewProvider creates a hosting provider. An explicit token wins; otherwise
// the configured environment variable is consulted. A missing credential is
// a permanent configuration error.
func NewProvider(cfg Config, token string) (Provider, error) {
	providerType := ProviderGitHub
	if cfg.Provider != "" {
		providerType = ProviderType(cfg.Provider)
	}

	constructor, ok := providerConstructors[providerType]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", providerType, registeredProviders())
	}

	resolved, err := ResolveToken(cfg, token)
	if err != nil {
		return nil, err
	}

	return constructor(cfg, resolved)
}

// ResolveToken picks the credential: explicit token first, then the env var.
func ResolveToken(cfg Config, token string) (string, error) {
	if token != "" {
		return token, nil
	}

	envVar := cfg.TokenEnvVar
	if envVar == "" {
		envVar = DefaultTokenEnvVar
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	return "", errors.ErrCredentialMissing(envVar)
}

func registeredProviders() []ProviderType {
	var providers []ProviderType
	for pt := range providerConstructors {
		providers = append(providers, pt)
	}
	return providers
}
