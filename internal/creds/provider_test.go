package creds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "hubbub/pkg/logx"
)

func TestKeyringResolutionOrder(t *testing.T) {
	ctx := context.Background()
	k := NewKeyring(logx.Nop())

	if _, err := k.AccessToken(ctx, "slack"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("unregistered service: err = %v, want ErrNoCredentials", err)
	}

	t.Setenv("HUBBUB_TEST_TOKEN", "xoxp-from-env")

	k.SetSource("slack", Source{Token: "xoxp-inline", TokenEnv: "HUBBUB_TEST_TOKEN"})
	tok, err := k.AccessToken(ctx, "slack")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "xoxp-inline" {
		t.Fatalf("inline token must win, got %q", tok)
	}

	k.SetSource("slack", Source{TokenEnv: "HUBBUB_TEST_TOKEN"})
	tok, err = k.AccessToken(ctx, "slack")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "xoxp-from-env" {
		t.Fatalf("env token expected, got %q", tok)
	}

	k.SetSource("slack", Source{TokenEnv: "HUBBUB_TEST_TOKEN_MISSING"})
	if _, err := k.AccessToken(ctx, "slack"); err == nil {
		t.Fatal("empty env var should fail")
	}

	// Replacing with a zero source unregisters.
	k.SetSource("slack", Source{})
	if _, err := k.AccessToken(ctx, "slack"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("cleared service: err = %v, want ErrNoCredentials", err)
	}
}

func TestKeyringTokenFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
	}

	k := NewKeyring(logx.Nop())
	k.SetSource("slack", Source{TokenFile: path})

	// Missing file.
	if _, err := k.AccessToken(ctx, "slack"); err == nil {
		t.Fatal("missing token file should fail")
	}

	// Long-lived token (no expiry metadata).
	write(`{"access_token":"xoxp-file","token_type":"Bearer"}`)
	tok, err := k.AccessToken(ctx, "slack")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "xoxp-file" {
		t.Fatalf("got %q", tok)
	}

	// Expired with no refresh configured.
	expired := time.Now().Add(-time.Hour).Format(time.RFC3339)
	write(`{"access_token":"xoxp-old","expiry":"` + expired + `"}`)
	if _, err := k.AccessToken(ctx, "slack"); err == nil {
		t.Fatal("expired token without refresh endpoint should fail")
	}

	// Garbage file.
	write(`{not json`)
	if _, err := k.AccessToken(ctx, "slack"); err == nil {
		t.Fatal("corrupt token file should fail")
	}
}
