// Package config binds the full option surface from via
// github.com/spf13/pflag and github.com/spf13/viper, generalizing the
// teacher's one-shot flag.String/flag.Bool calls in main.go into a single
// bound struct with automatic env var equivalents.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved option surface.
type Config struct {
	Host string
	Port int

	RefreshToken string
	AuthUser     string
	AuthPassword string

	AutoIndex bool

	ReadBufferSize   int64
	UploadBufferSize int64

	CacheSize int
	CacheTTL  int // seconds

	Root    string
	Workdir string

	NoTrash  bool
	ReadOnly bool

	TLSCert string
	TLSKey  string

	StripPrefix string

	SkipUploadSameSize bool
	PreferHTTPDownload bool
	Redirect           bool

	ClientID     string
	ClientSecret string
	DriveType    string

	Verbose bool

	// CheckRefreshToken, when non-empty, selects the startup-only
	// refresh-token expiry probe instead of serving.
	CheckRefreshToken string

	// PrintVersion selects the -version startup branch, kept from the
	// teacher's -V flag.
	PrintVersion bool
}

// Load parses args with pflag and merges in environment variables (every
// option's upper-snake-case equivalent) via viper's AutomaticEnv, flag
// values taking precedence when explicitly set.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("aliyundrive-webdav", pflag.ContinueOnError)

	fs.String("host", "0.0.0.0", "listen host")
	fs.Int("port", 8085, "listen port")
	fs.String("refresh-token", "", "initial refresh token")
	fs.String("auth-user", "", "basic auth username")
	fs.String("auth-password", "", "basic auth password")
	fs.Bool("auto-index", false, "generate HTML directory indices")
	fs.Int64("read-buffer-size", 10<<20, "WebDAV read chunk size in bytes")
	fs.Int64("upload-buffer-size", 16<<20, "upload part size in bytes")
	fs.Int("cache-size", 1000, "directory cache capacity")
	fs.Int("cache-ttl", 600, "directory cache TTL in seconds")
	fs.String("root", "/", "virtual root path prefix")
	fs.String("workdir", ".", "refresh token persistence directory")
	fs.Bool("no-trash", false, "permanently delete instead of trashing")
	fs.Bool("read-only", false, "refuse all mutating requests")
	fs.String("tls-cert", "", "TLS certificate path")
	fs.String("tls-key", "", "TLS key path")
	fs.String("strip-prefix", "", "path prefix to strip before dispatch")
	fs.Bool("skip-upload-same-size", false, "skip re-upload when size matches")
	fs.Bool("prefer-http-download", false, "rewrite https to http on download URLs")
	fs.Bool("redirect", false, "302-redirect GETs to the presigned download URL")
	fs.String("client-id", "", "OAuth client id")
	fs.String("client-secret", "", "OAuth client secret")
	fs.String("drive-type", "default", "drive to bind: default, resource, or backup")
	fs.Bool("verbose", false, "verbose logging")
	fs.String("check-refresh-token", "", "probe a refresh token's validity and exit")
	fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ALIYUNDRIVE_WEBDAV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	cfg := &Config{
		Host:               v.GetString("host"),
		Port:               v.GetInt("port"),
		RefreshToken:       v.GetString("refresh-token"),
		AuthUser:           v.GetString("auth-user"),
		AuthPassword:       v.GetString("auth-password"),
		AutoIndex:          v.GetBool("auto-index"),
		ReadBufferSize:     v.GetInt64("read-buffer-size"),
		UploadBufferSize:   v.GetInt64("upload-buffer-size"),
		CacheSize:          v.GetInt("cache-size"),
		CacheTTL:           v.GetInt("cache-ttl"),
		Root:               v.GetString("root"),
		Workdir:            v.GetString("workdir"),
		NoTrash:            v.GetBool("no-trash"),
		ReadOnly:           v.GetBool("read-only"),
		TLSCert:            v.GetString("tls-cert"),
		TLSKey:             v.GetString("tls-key"),
		StripPrefix:        v.GetString("strip-prefix"),
		SkipUploadSameSize: v.GetBool("skip-upload-same-size"),
		PreferHTTPDownload: v.GetBool("prefer-http-download"),
		Redirect:           v.GetBool("redirect"),
		ClientID:           v.GetString("client-id"),
		ClientSecret:       v.GetString("client-secret"),
		DriveType:          v.GetString("drive-type"),
		Verbose:            v.GetBool("verbose"),
		CheckRefreshToken:  v.GetString("check-refresh-token"),
		PrintVersion:       v.GetBool("version"),
	}

	if cfg.TLSEnabled() && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		return nil, fmt.Errorf("config: both tls-cert and tls-key must be set to enable TLS")
	}
	if (cfg.AuthUser == "") != (cfg.AuthPassword == "") {
		return nil, fmt.Errorf("config: auth-user and auth-password must be set together")
	}
	return cfg, nil
}

// TLSEnabled reports whether either TLS option was set (used to validate
// both are set together).
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.TLSKey != ""
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
