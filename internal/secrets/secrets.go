// Package secrets resolves the credential used to authenticate to the
// remote mirror and sink: the environment variable first, then an
// optional OAuth2 client-credentials refresh, falling back to the OS
// keyring. A bearer token's expiry claim is inspected so a still-valid
// static HF_TOKEN is never needlessly refreshed.
package secrets

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/trackhive/trackhive/internal/config"
)

const keyringService = "trackhive"

// Resolver resolves the remote-mirror credential.
type Resolver struct {
	envToken string
	account  string
	oauth    *clientcredentials.Config
}

// NewResolver builds a Resolver from Settings. account identifies the
// keyring entry to fall back to when HF_TOKEN is not set in the
// environment (typically the resolved SpaceAuthorName or "default"). When
// settings.OAuth is configured, the resolver can additionally mint a
// fresh bearer token via a client-credentials grant once any statically
// configured token has expired or is absent.
func NewResolver(settings *config.Settings) *Resolver {
	account := settings.SpaceAuthorName
	if account == "" {
		account = "default"
	}
	r := &Resolver{envToken: settings.HFToken, account: account}
	if settings.OAuth != nil && settings.OAuth.TokenURL != "" {
		r.oauth = &clientcredentials.Config{
			ClientID:     settings.OAuth.ClientID,
			ClientSecret: settings.OAuth.ClientSecret,
			TokenURL:     settings.OAuth.TokenURL,
		}
	}
	return r
}

// Token returns the credential to use: the environment variable if
// present and not expired, an OAuth2-refreshed token if a client-
// credentials grant is configured, or the OS keyring as a last resort.
// Returns "" with no error if no source has a value; callers treat an
// empty token as "unauthenticated remote," not a fatal error.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	if r.envToken != "" && !tokenExpired(r.envToken) {
		return r.envToken, nil
	}

	if r.oauth != nil {
		tok, err := r.oauth.Token(ctx)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}

	value, err := keyring.Get(keyringService, r.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// tokenExpired reports whether token is a JWT carrying an "exp" claim
// that has already passed. A token that is not a parseable JWT (e.g. an
// opaque HF-style token) is treated as never expiring: this check only
// sharpens behavior for callers that do hand out JWTs, it never rejects
// an opaque static token.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	// Signature verification is not this resolver's job, only the
	// receiving party's; we only need the expiry claim to decide whether
	// a refresh is worth attempting.
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// StoreToken saves token in the OS keyring under the resolver's account,
// used by a `trackhive login`-style setup command.
func (r *Resolver) StoreToken(token string) error {
	return keyring.Set(keyringService, r.account, token)
}
