package hosting

import (
	"errors"
	"testing"

	syncerrors "github.com/axiomcode/reposync/internal/errors"
)

func TestResolveTokenExplicitWins(t *testing.T) {
	t.Setenv(DefaultTokenEnvVar, "env-token")

	token, err := ResolveToken(Config{}, "explicit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "explicit" {
		t.Errorf("token = %q, want explicit", token)
	}
}

func TestResolveTokenFromEnv(t *testing.T) {
	t.Setenv(DefaultTokenEnvVar, "env-token")

	token, err := ResolveToken(Config{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "env-token" {
		t.Errorf("token = %q, want env-token", token)
	}
}

func TestResolveTokenCustomEnvVar(t *testing.T) {
	t.Setenv("MY_TOKEN", "custom")

	token, err := ResolveToken(Config{TokenEnvVar: "MY_TOKEN"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "custom" {
		t.Errorf("token = %q, want custom", token)
	}
}

func TestResolveTokenMissingIsPermanent(t *testing.T) {
	t.Setenv(DefaultTokenEnvVar, "")

	_, err := ResolveToken(Config{}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, syncerrors.ErrCredentialMissing(DefaultTokenEnvVar)) {
		t.Errorf("err = %v, want CREDENTIAL_MISSING", err)
	}
	if syncerrors.Retryable(err) {
		t.Error("missing credential must not be retryable")
	}
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(Config{Provider: "bitkeeper"}, "tok")
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
