package icloud

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Production endpoints of the protocol.
const (
	DefaultAuthEndpoint  = "https://idmsa.apple.com/appleauth/auth"
	DefaultHomeEndpoint  = "https://www.icloud.com"
	DefaultSetupEndpoint = "https://setup.icloud.com/setup/ws/1"

	// DefaultCookieFileName is the jar file inside Config.ConfigDir.
	DefaultCookieFileName = "cookies.json"
	// DefaultSessionFileName is the session blob file inside Config.ConfigDir.
	DefaultSessionFileName = "session.json"

	defaultRequestTimeout = 30 * time.Second
)

// Config configures a Transport and the flows built on it.
type Config struct {
	AuthEndpoint   string
	HomeEndpoint   string
	SetupEndpoint  string
	ConfigDir      string
	CookieFileName string
	RequestTimeout time.Duration
	// HTTPTransport overrides the round tripper beneath the default headers.
	HTTPTransport http.RoundTripper
	Logger        *zap.Logger
	Metrics       MetricsRecorder
}

// DefaultConfig returns production endpoints rooted at configDir.
func DefaultConfig(configDir string) Config {
	return Config{
		AuthEndpoint:   DefaultAuthEndpoint,
		HomeEndpoint:   DefaultHomeEndpoint,
		SetupEndpoint:  DefaultSetupEndpoint,
		ConfigDir:      configDir,
		CookieFileName: DefaultCookieFileName,
		RequestTimeout: defaultRequestTimeout,
	}
}

// CookiePath is the well-known location of the persisted cookie jar.
func (configuration Config) CookiePath() string {
	name := configuration.CookieFileName
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieFileName
	}
	return filepath.Join(configuration.ConfigDir, name)
}

func (configuration Config) normalized() (Config, error) {
	if strings.TrimSpace(configuration.AuthEndpoint) == "" {
		return Config{}, fmt.Errorf("icloud.config: %w: auth", ErrMissingEndpoint)
	}
	if strings.TrimSpace(configuration.HomeEndpoint) == "" {
		return Config{}, fmt.Errorf("icloud.config: %w: home", ErrMissingEndpoint)
	}
	if strings.TrimSpace(configuration.SetupEndpoint) == "" {
		return Config{}, fmt.Errorf("icloud.config: %w: setup", ErrMissingEndpoint)
	}
	if strings.TrimSpace(configuration.ConfigDir) == "" {
		return Config{}, fmt.Errorf("icloud.config: %w", ErrMissingConfigDir)
	}
	configuration.AuthEndpoint = strings.TrimRight(configuration.AuthEndpoint, "/")
	configuration.HomeEndpoint = strings.TrimRight(configuration.HomeEndpoint, "/")
	configuration.SetupEndpoint = strings.TrimRight(configuration.SetupEndpoint, "/")
	if configuration.RequestTimeout <= 0 {
		configuration.RequestTimeout = defaultRequestTimeout
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	if configuration.Metrics == nil {
		configuration.Metrics = noopMetrics{}
	}
	return configuration, nil
}
