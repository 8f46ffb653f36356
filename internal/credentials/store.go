// Package credentials loads, validates and refreshes the Claude Code OAuth
// credential, persisting refreshed tokens back to where they came from.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/claude-usage-tracker/internal/model"
)

// Token endpoint defaults used by the Claude Code CLI.
const (
	DefaultTokenURL = "https://console.anthropic.com/v1/oauth/token"
	DefaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

const (
	refreshTimeout       = 15 * time.Second
	maxBodySize          = 1 << 20 // 1 MB
	defaultTokenLifetime = time.Hour
)

// ErrNoCredential means no usable credential could be produced: nothing is
// stored, the stored document is unusable, or the refresh failed.
var ErrNoCredential = errors.New("credentials: no usable credential")

// Token is what callers need to authenticate a usage request.
type Token struct {
	AccessToken      string
	SubscriptionType string
}

// Config configures a Store.
type Config struct {
	ClientID   string
	TokenURL   string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// Store loads the credential from the first backend that holds one and
// refreshes it through the token endpoint when it has expired.
type Store struct {
	backends []Backend
	clientID string
	tokenURL string
	http     *http.Client
	log      *zap.Logger
	now      func() time.Time
}

// NewStore returns a Store that consults backends in order.
func NewStore(cfg Config, backends ...Backend) *Store {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		backends: backends,
		clientID: cfg.ClientID,
		tokenURL: cfg.TokenURL,
		http:     cfg.HTTPClient,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
}

// Load returns a valid access token. An unexpired token is returned without
// any network call; an expired one is refreshed once.
func (s *Store) Load(ctx context.Context) (Token, error) {
	b, doc, err := s.open(ctx)
	if err != nil {
		return Token{}, err
	}
	if doc.Bare() {
		return tokenOf(doc), nil
	}

	exp, ok := doc.ExpiresAt()
	if ok && s.now().Before(exp) {
		return tokenOf(doc), nil
	}

	s.log.Debug("access token expired, refreshing",
		zap.String("backend", backendName(b)),
		zap.Time("expires_at", exp),
	)
	return s.refresh(ctx, b, doc)
}

// ForceRefresh refreshes the credential regardless of its recorded expiry,
// for when the server has rejected a token the clock still considers valid.
func (s *Store) ForceRefresh(ctx context.Context) (Token, error) {
	b, doc, err := s.open(ctx)
	if err != nil {
		return Token{}, err
	}
	return s.refresh(ctx, b, doc)
}

// VaultOnly reports whether every configured backend is a credential vault.
func (s *Store) VaultOnly() bool {
	if len(s.backends) == 0 {
		return false
	}
	for _, b := range s.backends {
		if _, ok := b.(vaultBackend); !ok {
			return false
		}
	}
	return true
}

func (s *Store) open(ctx context.Context) (Backend, *Document, error) {
	for _, b := range s.backends {
		exists, err := b.Check(ctx)
		if err != nil {
			s.log.Debug("credential backend unavailable",
				zap.String("backend", backendName(b)), zap.Error(err))
			continue
		}
		if !exists {
			continue
		}

		data, err := b.Read(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
		}
		_, allowBare := b.(vaultBackend)
		doc, err := ParseDocument(data, allowBare)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
		}
		if doc.AccessToken() == "" {
			return nil, nil, fmt.Errorf("%w: no access token in %s", ErrNoCredential, backendName(b))
		}
		return b, doc, nil
	}
	return nil, nil, fmt.Errorf("%w: no stored credential", ErrNoCredential)
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh exchanges the refresh token once and persists the updated document
// to the backend it came from. There is no retry.
func (s *Store) refresh(ctx context.Context, b Backend, doc *Document) (Token, error) {
	rt := doc.RefreshToken()
	if rt == "" {
		return Token{}, fmt.Errorf("%w: no refresh token", ErrNoCredential)
	}

	resp, err := s.exchange(ctx, rt)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	doc.applyRefresh(resp.AccessToken, resp.RefreshToken, s.now().Add(lifetime))

	data, err := doc.Marshal()
	if err == nil {
		err = b.Write(ctx, data)
	}
	if err != nil {
		// The new access token is still good for this run.
		s.log.Warn("persisting refreshed credential failed",
			zap.String("backend", backendName(b)), zap.Error(err))
	} else {
		s.log.Info("refreshed access token", zap.String("backend", backendName(b)))
	}

	return tokenOf(doc), nil
}

func (s *Store) exchange(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		ClientID:     s.clientID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	var out refreshResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("refresh response has no access_token")
	}
	return &out, nil
}

func tokenOf(doc *Document) Token {
	sub := doc.SubscriptionType()
	if sub == "" {
		sub = model.UnknownSubscription
	}
	return Token{AccessToken: doc.AccessToken(), SubscriptionType: sub}
}
