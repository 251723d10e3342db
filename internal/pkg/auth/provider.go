// Package auth implements the vendor's B2C password-grant token flow and
// exposes it as a transport.TokenProvider.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

const (
	authHostname = "hilodirectoryb2c.b2clogin.com"
	tokenPath    = "/hilodirectoryb2c.onmicrosoft.com/oauth2/v2.0/token?p=B2C_1A_B2C_1_PasswordFlow"

	// ClientID is the vendor mobile app's public client id.
	ClientID = "9870f087-25f8-43b6-9cad-d4b74ce512e1"

	// Tokens are treated as expired slightly early so an in-flight request
	// never carries a token that dies mid-call.
	expiryPadding = 5 * time.Minute
)

// Password trades account credentials for bearer tokens and keeps them
// fresh, persisting the token state so restarts reuse the refresh token
// instead of re-sending the password.
type Password struct {
	mu       sync.Mutex
	cfg      *oauth2.Config
	state    *statestore.Store
	username string
	password string
	token    *oauth2.Token
}

func NewPasswordProvider(state *statestore.Store, username, password string) *Password {
	return &Password{
		cfg: &oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL: "https://" + authHostname + tokenPath,
			},
			Scopes: []string{"openid", ClientID, "offline_access"},
		},
		state:    state,
		username: username,
		password: password,
	}
}

// AccessToken returns a valid bearer token, refreshing or re-authenticating
// as needed.
func (p *Password) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil {
		p.loadState()
	}

	if p.token != nil && p.token.AccessToken != "" && time.Until(p.token.Expiry) > expiryPadding {
		return p.token.AccessToken, nil
	}

	var tok *oauth2.Token
	if p.token != nil && p.token.RefreshToken != "" {
		var err error
		tok, err = p.cfg.TokenSource(ctx, p.token).Token()
		if err != nil {
			logging.Logger(ctx).WithError(err).Warn("refresh token rejected, falling back to password grant")
			tok = nil
		}
	}

	if tok == nil {
		if p.username == "" {
			return "", errors.Wrap(transport.ErrInvalidCredentials, "no refresh token and no account credentials")
		}
		logging.Logger(ctx).Debug("Requesting tokens with password grant")
		var err error
		tok, err = p.cfg.PasswordCredentialsToken(ctx, p.username, p.password)
		if err != nil {
			return "", errors.Wrap(transport.ErrInvalidCredentials, err.Error())
		}
	}

	p.token = tok
	if err := p.saveState(); err != nil {
		logging.Logger(ctx).WithError(err).Warn("persisting token state")
	}

	return tok.AccessToken, nil
}

func (p *Password) loadState() {
	section, err := p.state.Get(statestore.SectionToken)
	if err != nil {
		logging.Logger(nil).WithError(err).Warn("loading token state")
		return
	}

	access, _ := section["access"].(string)
	refresh, _ := section["refresh"].(string)
	if access == "" && refresh == "" {
		return
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh}
	if raw, ok := section["expires_at"].(string); ok {
		if expiry, err := time.Parse(time.RFC3339, raw); err == nil {
			tok.Expiry = expiry
		}
	}
	p.token = tok
}

func (p *Password) saveState() error {
	return p.state.Set(statestore.SectionToken, statestore.Section{
		"access":     p.token.AccessToken,
		"refresh":    p.token.RefreshToken,
		"expires_at": p.token.Expiry.Format(time.RFC3339),
	})
}
