package creds

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/oauth2"

	logx "hubbub/pkg/logx"
)

// tokenFromFile reads an oauth2 token JSON document and returns its access
// token. An expired token is refreshed through the configured endpoint and
// the file is rewritten with the fresh token, so the next read skips the
// round trip.
func tokenFromFile(ctx context.Context, src Source, log logx.Logger) (string, error) {
	tok, err := readToken(src.TokenFile)
	if err != nil {
		return "", err
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}

	if src.RefreshURL == "" || tok.RefreshToken == "" {
		if tok.AccessToken != "" && tok.Expiry.IsZero() {
			// Tokens without expiry metadata are treated as long-lived.
			return tok.AccessToken, nil
		}
		return "", errors.New("token expired and no refresh endpoint configured")
	}

	conf := &oauth2.Config{
		ClientID:     src.ClientID,
		ClientSecret: src.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: src.RefreshURL},
	}
	fresh, err := conf.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", err
	}
	if err := saveToken(src.TokenFile, fresh); err != nil {
		log.Warn("failed persisting refreshed token", logx.String("path", src.TokenFile), logx.Err(err))
	}
	return fresh.AccessToken, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token file has no access_token")
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}
