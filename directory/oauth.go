// ABOUTME: OAuth configuration and per-account token storage for Google directories
// ABOUTME: Stores one token per owner and account at XDG paths and persists refreshed tokens
package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// ContactsReadonlyScope is the only scope the directory sync needs.
const ContactsReadonlyScope = "https://www.googleapis.com/auth/contacts.readonly"

// NewOAuthConfig creates the OAuth2 config for the People API.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = "http://localhost:8080/oauth/callback"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{ContactsReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// TokenStore keeps OAuth tokens on disk, one file per (owner, account).
type TokenStore struct {
	dir string
	mu  sync.Mutex
}

// DefaultTokenDir returns the XDG data directory for tokens.
func DefaultTokenDir() string {
	return filepath.Join(xdg.DataHome, "rolodex", "tokens")
}

func NewTokenStore(dir string) *TokenStore {
	if dir == "" {
		dir = DefaultTokenDir()
	}
	return &TokenStore{dir: dir}
}

// Path returns the token file for an owner and account.
func (s *TokenStore) Path(ownerID, accountEmail string) string {
	return filepath.Join(s.dir, safeName(ownerID), safeName(models.NormalizeEmail(accountEmail))+".json")
}

// Save writes the token with owner-only permissions.
func (s *TokenStore) Save(ownerID, accountEmail string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(ownerID, accountEmail)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load reads a stored token. A missing file is a NotFound error.
func (s *TokenStore) Load(ownerID, accountEmail string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(ownerID, accountEmail))
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("oauth token").
			WithDetail("account_email", accountEmail)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// TokenSource returns a refreshing token source for the account that writes
// refreshed tokens back to the store.
func (s *TokenStore) TokenSource(ctx context.Context, config *oauth2.Config, ownerID, accountEmail string) (oauth2.TokenSource, error) {
	token, err := s.Load(ownerID, accountEmail)
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base:    oauth2.ReuseTokenSource(token, config.TokenSource(ctx, token)),
		store:   s,
		owner:   ownerID,
		account: accountEmail,
		last:    token.AccessToken,
	}, nil
}

type persistingSource struct {
	base    oauth2.TokenSource
	store   *TokenStore
	owner   string
	account string

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		if err := p.store.Save(p.owner, p.account, token); err != nil {
			return nil, err
		}
		p.last = token.AccessToken
	}
	return token, nil
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
