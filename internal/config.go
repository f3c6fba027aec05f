package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jmtorr3/blog/internal/mediapath"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeJWT      = "jwt"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// StorageConfig describes the media storage root and its public URL layout.
type StorageConfig struct {
	Root             string `yaml:"root"`
	URLPrefix        string `yaml:"url_prefix"`
	SitePrefix       string `yaml:"site_prefix"`
	LegacyUploadsDir string `yaml:"legacy_uploads_dir"`
	MaxUploadMB      int    `yaml:"max_upload_mb"`
	// LockFile guards maintenance jobs; defaults to .maintenance.lock next to the root.
	LockFile string `yaml:"lock_file"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.URLPrefix, validation.Required, validation.By(absoluteURLPath)),
		validation.Field(&c.SitePrefix, validation.By(optionalURLPath)),
		validation.Field(&c.LegacyUploadsDir, validation.By(singleSegment)),
		validation.Field(&c.MaxUploadMB, validation.Required, validation.Min(1), validation.Max(4096)),
	)
}

// Layout returns the media URL layout described by the configuration.
func (c *StorageConfig) Layout() mediapath.Layout {
	return mediapath.Layout{
		URLPrefix:  strings.TrimRight(c.URLPrefix, "/"),
		SitePrefix: strings.TrimRight(c.SitePrefix, "/"),
		LegacyDir:  strings.Trim(c.LegacyUploadsDir, "/"),
	}
}

// MaxUploadBytes returns the per-file upload limit in bytes.
func (c *StorageConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// LockPath returns the maintenance lock file path.
func (c *StorageConfig) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Root)), ".maintenance.lock")
}

func absoluteURLPath(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "/") || s == "/" {
		return fmt.Errorf("must start with / and name a path")
	}
	return nil
}

func optionalURLPath(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	return absoluteURLPath(v)
}

func singleSegment(v any) error {
	s, _ := v.(string)
	if strings.Contains(strings.Trim(s, "/"), "/") {
		return fmt.Errorf("must be a single directory name")
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how identity is established:
//   - "disabled" (default): every request acts as DefaultUser, suitable for local dev.
//   - "jwt": HS256 bearer tokens whose subject is a username; Secret must be non-empty.
type AuthConfig struct {
	Mode        string `yaml:"mode"`
	Secret      string `yaml:"secret"`
	DefaultUser string `yaml:"default_user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeJWT)),
	); err != nil {
		return err
	}
	switch c.Mode {
	case AuthModeJWT:
		if len(c.Secret) < 16 {
			return fmt.Errorf("auth: mode is %q but secret is shorter than 16 bytes", AuthModeJWT)
		}
	case AuthModeDisabled:
		if c.DefaultUser == "" {
			return fmt.Errorf("auth: mode is %q but default_user is empty", AuthModeDisabled)
		}
	}
	return nil
}

// AuthEnabled returns true when bearer tokens are required for identity.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeJWT
}

// JWTSecret returns the signing secret, empty unless tokens are enabled.
func (c *AuthConfig) JWTSecret() string {
	if !c.AuthEnabled() {
		return ""
	}
	return c.Secret
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8000,
			},
		},
		Storage: StorageConfig{
			Root:             "./data/media",
			URLPrefix:        "/media",
			SitePrefix:       "/blog",
			LegacyUploadsDir: "uploads",
			MaxUploadMB:      100,
		},
		SQLite: SQLiteConfig{
			Path: "./data/blog.db",
		},
		Auth: AuthConfig{
			Mode:        AuthModeDisabled,
			DefaultUser: "admin",
		},
	}
}
