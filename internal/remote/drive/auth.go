package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/openmined/drivesync/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scope grants full access to the user's Drive files.
const Scope = "https://www.googleapis.com/auth/drive"

// LoadOAuthConfig reads an OAuth client credentials file as downloaded from
// the Google Cloud console.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, credentialsFile)
	} else if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return cfg, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	} else if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var tok oauth2.Token
	if err := jsonUnmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	data, err := jsonMarshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// persistingSource writes every newly minted token back to disk so the
// refresh survives restarts.
type persistingSource struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	path string
	last string
	log  *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := SaveToken(p.path, tok); err != nil {
			p.log.Warn("failed to persist refreshed token", "path", p.path, "error", err)
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

// TokenSource loads the token saved by login and refreshes it through cfg.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokenFile string) (oauth2.TokenSource, error) {
	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		src:  cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
		log:  slog.Default().With("component", "drive"),
	}
	return oauth2.ReuseTokenSource(tok, src), nil
}

// LoginSession is one interactive authorization: the user opens URL, grants
// access, and Google redirects the code back to a loopback listener.
type LoginSession struct {
	cfg      *oauth2.Config
	state    string
	verifier string
	listener net.Listener
	srv      *http.Server
	result   chan loginResult
	once     sync.Once
}

type loginResult struct {
	code string
	err  error
}

func NewLoginSession(cfg *oauth2.Config) (*LoginSession, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("login listener: %w", err)
	}

	c := *cfg
	c.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())

	s := &LoginSession{
		cfg:      &c,
		state:    utils.TokenHex(16),
		verifier: oauth2.GenerateVerifier(),
		listener: ln,
		result:   make(chan loginResult, 1),
	}
	s.srv = &http.Server{Handler: http.HandlerFunc(s.callback)}
	go func() { _ = s.srv.Serve(ln) }()
	return s, nil
}

func (s *LoginSession) URL() string {
	return s.cfg.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(s.verifier))
}

func (s *LoginSession) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var res loginResult
	switch {
	case q.Get("state") != s.state:
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	case q.Get("error") != "":
		res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
		http.Error(w, "authorization denied, you can close this window", http.StatusForbidden)
	default:
		res.code = q.Get("code")
		fmt.Fprintln(w, "drivesync is authorized, you can close this window")
	}
	s.once.Do(func() { s.result <- res })
}

// Wait blocks until the browser redirect arrives.
func (s *LoginSession) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-s.result:
		return res.code, res.err
	}
}

// Submit delivers a code pasted by the user instead of the redirect.
func (s *LoginSession) Submit(code string) {
	s.once.Do(func() { s.result <- loginResult{code: code} })
}

func (s *LoginSession) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.cfg.Exchange(ctx, code, oauth2.VerifierOption(s.verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

func (s *LoginSession) Close() error {
	return s.srv.Close()
}
