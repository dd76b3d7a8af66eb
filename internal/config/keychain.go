package config

import (
	"crypto/rand"
	"fmt"
	"os"
)

const (
	keychainService = "pumpdrive"
	apiKeyAccount   = "generation_api_key"
	tokenAccount    = "api_token"
)

// Keychain stores secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain on darwin,
// a 0600 JSON file under $XDG_DATA_HOME elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

// GetAPIToken returns the bearer token guarding the HTTP API. PUMPDRIVE_API_TOKEN
// wins; otherwise the token is read from kc, and generated and stored on
// first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("PUMPDRIVE_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	tok := rand.Text()
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
