package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	StateSignedOut            = "signed_out"
	StateAuthorizationPending = "authorization_pending"
	StateSignedIn             = "signed_in"
)

// refreshMargin is how close to expiry the access token may get before it's
// refreshed proactively.
const refreshMargin = 60 * time.Second

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type AuthStatus struct {
	State           string  `json:"state"`
	IsAuthenticated bool    `json:"is_authenticated"`
	NeedsRefresh    bool    `json:"needs_refresh"`
	Email           *string `json:"email,omitempty"`
	DisplayName     *string `json:"display_name,omitempty"`
}

// Service manages the Google credentials for this device. It owns the vault
// and the single sign-in slot; all token access goes through Token.
type Service struct {
	cfg   *config.Config
	oauth *oauth2.Config
	vault *Vault
	log   logger.Logger

	mu      sync.Mutex
	creds   *Credentials
	pending bool
}

func NewService(cfg *config.Config) (*Service, error) {
	vault, err := NewVault(cfg.VaultPath, cfg.VaultPassphrase)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	log := logger.New()

	creds, err := vault.Load()
	if err != nil {
		// An unreadable vault means signing in again, not a dead process.
		log.Err(err).Warn("stored credentials unreadable, starting signed out")
		creds = nil
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.OAuthCallbackPort),
		Scopes:       strings.Fields(cfg.GoogleScope),
	}

	return &Service{
		cfg:   cfg,
		oauth: oauthCfg,
		vault: vault,
		log:   log,
		creds: creds,
	}, nil
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.WithStack(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// StartSignIn begins the authorization code flow with PKCE. It returns the
// consent URL for the caller to open in a browser; the exchange completes in
// the background when the loopback receiver gets the redirect. Only one
// sign-in can be pending at a time.
func (s *Service) StartSignIn(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return "", errcodes.Forbidden("Starting a second sign-in")
	}

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.OAuthCallbackPort))
	if err != nil {
		return "", errors.Wrapf(err, "callback port %d unavailable", s.cfg.OAuthCallbackPort)
	}

	url := s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	s.pending = true
	go s.completeSignIn(listener, state, verifier)

	return url, nil
}

func (s *Service) completeSignIn(listener net.Listener, state, verifier string) {
	defer func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
	}()

	code, err := waitForCallback(listener, state, s.cfg.OAuthCallbackTimeout)
	if err != nil {
		s.log.Err(err).Warn("sign-in did not complete")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.log.Err(err).Error("authorization code exchange failed")
		return
	}

	email, name, err := fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		s.log.Err(err).Warn("userinfo fetch failed")
	}

	creds := &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Email:        email,
		DisplayName:  name,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	if err := s.vault.Save(creds); err != nil {
		s.log.Err(err).Error("vault save failed")
	}
	s.log.Info("signed in", logger.Data{"email": email})
}

// waitForCallback serves the one-shot loopback receiver until the redirect
// arrives, the state check fails, or the timeout elapses.
func waitForCallback(listener net.Listener, expectedState string, timeout time.Duration) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			if errParam := q.Get("error"); errParam != "" {
				http.Error(w, "Authorization was denied. You can close this window.", http.StatusBadRequest)
				errCh <- errors.Errorf("authorization denied: %s", errParam)
				return
			}
			if q.Get("state") != expectedState {
				http.Error(w, "State mismatch. You can close this window.", http.StatusBadRequest)
				errCh <- errors.New("state parameter mismatch")
				return
			}
			code := q.Get("code")
			if code == "" {
				http.Error(w, "Missing authorization code.", http.StatusBadRequest)
				errCh <- errors.New("redirect carried no code")
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body><p>Signed in. You can close this window.</p></body></html>")
			codeCh <- code
		}),
	}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-time.After(timeout):
		return "", errors.New("sign-in timed out waiting for the browser redirect")
	}
}

func fetchUserInfo(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return "", "", errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("userinfo returned %d", resp.StatusCode)
	}

	info := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", errors.WithStack(err)
	}

	return info.Email, info.Name, nil
}

// Token returns a valid access token, refreshing it first when expiry is
// within the proactive margin. An expired access token alone never signs the
// user out; only a rejected refresh token does.
func (s *Service) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenLocked(ctx, false)
}

// ForceRefresh refreshes the access token regardless of its remaining
// lifetime.
func (s *Service) ForceRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenLocked(ctx, true)
}

func (s *Service) tokenLocked(ctx context.Context, force bool) (string, error) {
	if s.creds == nil {
		return "", errcodes.AuthRequired()
	}

	if !force && time.Until(s.creds.Expiry) > refreshMargin {
		return s.creds.AccessToken, nil
	}

	if s.creds.RefreshToken == "" {
		s.clearLocked()
		return "", errcodes.AuthRequired()
	}

	token, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.creds.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			// The grant was revoked. This is the only path that signs out.
			s.log.Warn("refresh token rejected, signing out")
			s.clearLocked()
			return "", errcodes.AuthRequired()
		}
		return "", errors.Wrap(err, "token refresh failed")
	}

	s.creds.AccessToken = token.AccessToken
	s.creds.Expiry = token.Expiry
	if token.RefreshToken != "" {
		s.creds.RefreshToken = token.RefreshToken
	}
	if err := s.vault.Save(s.creds); err != nil {
		return "", errors.WithStack(err)
	}

	return s.creds.AccessToken, nil
}

func (s *Service) clearLocked() {
	s.creds = nil
	if err := s.vault.Clear(); err != nil {
		s.log.Err(err).Error("vault clear failed")
	}
}

// SignOut drops the credentials immediately. An in-flight sync observes the
// signed-out state on its next token request and aborts.
func (s *Service) SignOut(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	s.log.Info("signed out")
	return nil
}

// IsSignedIn reports whether credentials are present, without touching the
// network.
func (s *Service) IsSignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds != nil
}

// Status reports the current auth state. When the access token is stale and
// a refresh token exists, a silent refresh is attempted first so the reported
// state reflects reality rather than a stale expiry.
func (s *Service) Status(ctx context.Context) *AuthStatus {
	s.mu.Lock()
	stale := s.creds != nil && s.creds.RefreshToken != "" && time.Until(s.creds.Expiry) <= refreshMargin
	s.mu.Unlock()

	if stale {
		// Best effort: a network failure here leaves needs_refresh set.
		_, _ = s.Token(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &AuthStatus{State: StateSignedOut}
	switch {
	case s.pending:
		status.State = StateAuthorizationPending
	case s.creds != nil:
		status.State = StateSignedIn
		status.IsAuthenticated = true
		status.NeedsRefresh = time.Until(s.creds.Expiry) <= refreshMargin
		if s.creds.Email != "" {
			status.Email = &s.creds.Email
		}
		if s.creds.DisplayName != "" {
			status.DisplayName = &s.creds.DisplayName
		}
	}

	return status
}
