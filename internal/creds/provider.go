// Package creds resolves bearer tokens for upstream services. A token can
// come from process config directly, from an environment variable, or from an
// OAuth token file on disk (refreshed in place when a refresh endpoint is
// configured).
package creds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	logx "hubbub/pkg/logx"
)

var ErrNoCredentials = errors.New("no credentials configured")

// Source describes where one service's token comes from. Resolution order:
// inline Token, then TokenEnv, then TokenFile.
type Source struct {
	Token     string
	TokenEnv  string
	TokenFile string

	// Refresh settings for TokenFile sources. Optional; without them an
	// expired token is an error rather than a refresh.
	ClientID     string
	ClientSecret string
	RefreshURL   string
}

func (s Source) isZero() bool {
	return s.Token == "" && s.TokenEnv == "" && s.TokenFile == ""
}

// Provider supplies bearer tokens, keyed by service name ("slack", ...).
type Provider interface {
	AccessToken(ctx context.Context, service string) (string, error)
}

// Keyring is the process-wide Provider. Sources can be swapped at runtime
// (config reload) without touching the components holding the Keyring.
type Keyring struct {
	log logx.Logger

	mu      sync.Mutex
	sources map[string]Source
}

func NewKeyring(log logx.Logger) *Keyring {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Keyring{log: log, sources: map[string]Source{}}
}

// SetSource installs or replaces the token source for a service.
func (k *Keyring) SetSource(service string, src Source) {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if src.isZero() {
		delete(k.sources, service)
		return
	}
	k.sources[service] = src
}

func (k *Keyring) AccessToken(ctx context.Context, service string) (string, error) {
	service = strings.ToLower(strings.TrimSpace(service))

	k.mu.Lock()
	src, ok := k.sources[service]
	k.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoCredentials, service)
	}

	if tok := strings.TrimSpace(src.Token); tok != "" {
		return tok, nil
	}
	if src.TokenEnv != "" {
		if tok := strings.TrimSpace(os.Getenv(src.TokenEnv)); tok != "" {
			return tok, nil
		}
		return "", fmt.Errorf("env %s is empty for %s", src.TokenEnv, service)
	}
	if src.TokenFile != "" {
		tok, err := tokenFromFile(ctx, src, k.log)
		if err != nil {
			return "", fmt.Errorf("token file for %s: %w", service, err)
		}
		return tok, nil
	}
	return "", fmt.Errorf("%w for %s", ErrNoCredentials, service)
}
