package config

import (
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "work-inbox"
	keyringPrefix  = "keyring:"
)

// ResolveTokens replaces "keyring:" tokens with the secret stored in the OS keychain.
// "keyring:" reads the account named after the instance id; "keyring:name" reads account name.
func ResolveTokens(config *Config) error {
	for _, provider := range []*ProviderConfig{&config.AzureDevOps, &config.GitHub} {
		for i := range provider.Instances {
			inst := &provider.Instances[i]
			if !inst.IsEnabled() || !strings.HasPrefix(inst.Token, keyringPrefix) {
				continue
			}
			account := strings.TrimPrefix(inst.Token, keyringPrefix)
			if account == "" {
				account = inst.ID
			}
			token, err := keyring.Get(keyringService, account)
			if err != nil {
				return fmt.Errorf("failed to read token for %s from keychain: %w", inst.ID, err)
			}
			inst.Token = token
		}
	}
	return nil
}

// StoreToken saves a token in the OS keychain under account
func StoreToken(account, token string) error {
	if account == "" || token == "" {
		return keyring.ErrNotFound
	}
	return keyring.Set(keyringService, account, token)
}
