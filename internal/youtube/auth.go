package youtube

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Options selects how the Data API service authenticates.
// Exactly one of APIKey or CredentialsFile+TokenFile is expected.
type Options struct {
	APIKey          string
	CredentialsFile string
	TokenFile       string
	Endpoint        string
	Timeout         time.Duration
}

// NewService builds a Data API service from opts.
func NewService(ctx context.Context, opts Options) (*yt.Service, error) {
	var copts []option.ClientOption
	if opts.Endpoint != "" {
		copts = append(copts, option.WithEndpoint(opts.Endpoint))
	}

	switch {
	case opts.APIKey != "":
		copts = append(copts, option.WithAPIKey(opts.APIKey))
	case opts.CredentialsFile != "":
		ts, err := FileTokenSource(ctx, opts.CredentialsFile, opts.TokenFile)
		if err != nil {
			return nil, err
		}
		hc := oauth2.NewClient(ctx, ts)
		hc.Timeout = opts.Timeout
		copts = append(copts, option.WithHTTPClient(hc))
	default:
		return nil, errors.New("youtube: no credentials configured")
	}

	svc, err := yt.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: new service: %w", err)
	}
	return svc, nil
}

// FileTokenSource returns a refreshing token source for the OAuth client in
// credentialsFile, seeded from the token stored in tokenFile. Refreshed
// tokens are written back to tokenFile.
func FileTokenSource(ctx context.Context, credentialsFile, tokenFile string) (oauth2.TokenSource, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("youtube: read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(raw, yt.YoutubeReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("youtube: parse credentials: %w", err)
	}
	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
	}, nil
}

// LoadToken reads an OAuth token saved as JSON.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("youtube: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("youtube: parse token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("youtube: token %s has neither access nor refresh token", path)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("youtube: encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("youtube: write token: %w", err)
	}
	return nil
}

type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
