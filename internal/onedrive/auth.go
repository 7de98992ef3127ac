// Package onedrive uploads backed-up media to OneDrive through Microsoft Graph.
// Authentication uses the OAuth2 device authorization grant; tokens are kept
// in a local JSON file and refreshed shortly before they expire.
package onedrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aatumaykin/sweepbot/internal/atomicfile"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"golang.org/x/oauth2"
)

const (
	// DefaultAuthURL is the Microsoft identity endpoint for personal accounts.
	DefaultAuthURL = "https://login.microsoftonline.com/consumers/oauth2/v2.0"

	refreshBuffer        = 5 * time.Minute
	defaultTokenLifetime = time.Hour
)

var scopes = []string{"Files.ReadWrite", "offline_access"}

// StoredTokens is the persisted token set.
type StoredTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DeviceCode is what the user needs to authorize the application.
type DeviceCode struct {
	VerificationURI string
	UserCode        string
	ExpiresAt       time.Time
}

// AuthConfig configures a TokenStore.
type AuthConfig struct {
	ClientID   string
	AuthURL    string
	TokenPath  string
	HTTPClient *http.Client
}

// TokenStore owns the OAuth tokens. One mutex guards reads, refreshes and
// writes, so concurrent uploads never refresh twice.
type TokenStore struct {
	mu     sync.Mutex
	conf   *oauth2.Config
	path   string
	tokens *StoredTokens
	client *http.Client
	logger *logger.Logger
	now    func() time.Time
}

// NewTokenStore creates a store and loads tokens from cfg.TokenPath if the
// file exists.
func NewTokenStore(cfg AuthConfig, log *logger.Logger) (*TokenStore, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("onedrive client id is required")
	}
	if cfg.TokenPath == "" {
		return nil, fmt.Errorf("onedrive token path is required")
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	s := &TokenStore{
		conf: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: authURL + "/devicecode",
				TokenURL:      authURL + "/token",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		path:   cfg.TokenPath,
		client: client,
		logger: log.Component("onedrive_auth"),
		now:    time.Now,
	}

	tokens, err := loadTokens(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	s.tokens = tokens
	return s, nil
}

func loadTokens(path string) (*StoredTokens, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file %s: %w", path, err)
	}
	var tokens StoredTokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", path, err)
	}
	return &tokens, nil
}

// HasTokens reports whether a token set is available.
func (s *TokenStore) HasTokens() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens != nil && s.tokens.RefreshToken != ""
}

// DeviceCodeFlow requests a device code, hands it to prompt and polls until the
// user authorizes the application or the code expires. Tokens are persisted
// before it returns.
func (s *TokenStore) DeviceCodeFlow(ctx context.Context, prompt func(DeviceCode)) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	da, err := s.conf.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("%w: device code request failed: %v", ErrAuth, err)
	}

	prompt(DeviceCode{
		VerificationURI: da.VerificationURI,
		UserCode:        da.UserCode,
		ExpiresAt:       da.Expiry,
	})
	s.logger.Info("waiting for device authorization",
		logger.Field{Key: "verification_uri", Value: da.VerificationURI},
		logger.Field{Key: "interval_seconds", Value: da.Interval})

	// DeviceAccessToken bounds polling by da.Expiry, keeps polling on
	// authorization_pending and backs off on slow_down.
	token, err := s.conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("%w: device authorization failed: %v", ErrAuth, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storeLocked(token, ""); err != nil {
		return err
	}
	s.logger.Info("device authorization completed")
	return nil
}

// ValidToken returns an access token that is valid for at least five more
// minutes, refreshing it first if needed.
func (s *TokenStore) ValidToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens == nil {
		return "", ErrNoTokens
	}
	if s.now().Add(refreshBuffer).Before(s.tokens.ExpiresAt) {
		return s.tokens.AccessToken, nil
	}

	s.logger.Debug("refreshing access token")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	token, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.tokens.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("%w: token refresh failed: %v", ErrAuth, err)
	}
	if err := s.storeLocked(token, s.tokens.RefreshToken); err != nil {
		return "", err
	}
	return s.tokens.AccessToken, nil
}

// storeLocked converts token, keeps prevRefresh when the server did not rotate
// the refresh token, and persists the result. Caller holds s.mu.
func (s *TokenStore) storeLocked(token *oauth2.Token, prevRefresh string) error {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(defaultTokenLifetime)
	}
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}

	next := &StoredTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UTC(),
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	s.tokens = next
	return nil
}
