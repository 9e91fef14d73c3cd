package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultPurgeScript is the recycle bin purge script run after each sync.
const DefaultPurgeScript = "./purge_recycle_bin.sh"

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	YouTube   YouTubeConfig     `yaml:"youtube"`
	BookStack BookStackConfig   `yaml:"bookstack"`
	Sync      SyncConfig        `yaml:"sync"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.App, &c.YouTube, &c.BookStack, &c.Sync, &c.Ledger, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// YouTubeConfig holds the source channel and its credentials. Either
// APIKey or CredentialsFile with TokenFile must be set.
type YouTubeConfig struct {
	ChannelID       string        `yaml:"channel_id"`
	APIKey          string        `yaml:"api_key"`
	CredentialsFile string        `yaml:"credentials_file"`
	TokenFile       string        `yaml:"token_file"`
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Validate validates the YouTube configuration.
func (c *YouTubeConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ChannelID, validation.Required),
		validation.Field(&c.Endpoint, validation.By(absoluteURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("youtube: %w", err)
	}
	switch {
	case c.APIKey != "":
	case c.CredentialsFile != "" && c.TokenFile != "":
	case c.CredentialsFile != "":
		return errors.New("youtube: token_file is required with credentials_file")
	default:
		return errors.New("youtube: api_key or credentials_file is required")
	}
	return nil
}

// UsesOAuth reports whether OAuth credentials are configured instead of an API key.
func (c *YouTubeConfig) UsesOAuth() bool {
	return c.APIKey == "" && c.CredentialsFile != ""
}

// BookStackConfig holds the wiki connection.
type BookStackConfig struct {
	URL                string        `yaml:"url"`
	TokenID            string        `yaml:"token_id"`
	TokenSecret        string        `yaml:"token_secret"`
	BookID             int           `yaml:"book_id"`
	Timeout            time.Duration `yaml:"timeout"`
	RequestDelay       time.Duration `yaml:"request_delay"`
	MaxRetries         int           `yaml:"max_retries"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// Validate validates the BookStack configuration.
func (c *BookStackConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.TokenID, validation.Required),
		validation.Field(&c.TokenSecret, validation.Required),
		validation.Field(&c.BookID, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RequestDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
	); err != nil {
		return fmt.Errorf("bookstack: %w", err)
	}
	return nil
}

// SyncConfig holds the reloadable sync behaviour.
type SyncConfig struct {
	ForceResync   bool          `yaml:"force_resync"`
	AppendVideoID bool          `yaml:"append_video_id"`
	PurgeScript   string        `yaml:"purge_script"`
	PurgeTimeout  time.Duration `yaml:"purge_timeout"`
	// Interval schedules runs in serve mode; zero disables the schedule.
	Interval time.Duration `yaml:"interval"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PurgeTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Interval, validation.When(c.Interval != 0, validation.Min(time.Minute))),
	); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// LedgerConfig holds the SQLite run ledger location.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		YouTube: YouTubeConfig{
			Timeout: 30 * time.Second,
		},
		BookStack: BookStackConfig{
			Timeout:      15 * time.Second,
			RequestDelay: 500 * time.Millisecond,
			MaxRetries:   3,
		},
		Sync: SyncConfig{
			PurgeScript:  DefaultPurgeScript,
			PurgeTimeout: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Path: "./tubestack.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
