package emulator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default values applied by New.
const (
	DefaultIssuer        = "nefos-emulator"
	DefaultAllowedOrigin = "https://www.icloud.com"
	DefaultTokenTTL      = 30 * 24 * time.Hour
	WebAuthCookieName    = "X-APPLE-WEBAUTH-USER"
)

var (
	ErrMissingSigningKey = errors.New("emulator.config.missing_signing_key")
	ErrNoAccounts        = errors.New("emulator.config.no_accounts")
	ErrDuplicateAccount  = errors.New("emulator.config.duplicate_account")
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Account is one emulated user. A non-empty SecurityCode makes the account
// require a trusted device challenge.
type Account struct {
	AccountName    string
	Password       string
	SecurityCode   string
	AccountCountry string
	FirstName      string
	LastName       string
	LanguageCode   string
	Locale         string
	CountryCode    string
	Aliases        []string
}

// RequiresSecondFactor reports whether sign-in answers with hsa2.
func (account Account) RequiresSecondFactor() bool {
	return account.SecurityCode != ""
}

// Faults makes the emulator misbehave on purpose.
type Faults struct {
	OmitSessionID    bool
	OmitSessionToken bool
	OmitCountry      bool
	// HTMLSignInBody answers a successful sign-in with a non-JSON body.
	HTMLSignInBody bool
	DropServices   []string
}

// Config configures a Server.
type Config struct {
	Accounts       []Account
	SigningKey     []byte
	Issuer         string
	AllowedOrigins []string
	TokenTTL       time.Duration
	Clock          Clock
	Logger         *zap.Logger
	Faults         Faults
}

func (configuration Config) normalized() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, fmt.Errorf("emulator.new: %w", ErrMissingSigningKey)
	}
	if len(configuration.Accounts) == 0 {
		return Config{}, fmt.Errorf("emulator.new: %w", ErrNoAccounts)
	}
	seen := make(map[string]struct{}, len(configuration.Accounts))
	for _, account := range configuration.Accounts {
		key := strings.ToLower(account.AccountName)
		if _, exists := seen[key]; exists {
			return Config{}, fmt.Errorf("emulator.new: %w: %s", ErrDuplicateAccount, account.AccountName)
		}
		seen[key] = struct{}{}
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if len(configuration.AllowedOrigins) == 0 {
		configuration.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	if configuration.TokenTTL <= 0 {
		configuration.TokenTTL = DefaultTokenTTL
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	return configuration, nil
}
