package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/nefos/internal/sessionstore"
	"github.com/tyemirov/nefos/pkg/icloud"
	"go.uber.org/zap"
)

var newLogger = func(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nefos",
		Short:         "Sign in to iCloud web services and fetch calendar events",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("apple_id", "", "Apple ID account name")
	flags.String("password", "", "Apple ID password; prompted when empty")
	flags.String("config_dir", "", "Directory for session and cookie files (default ~/.config/nefos)")
	flags.String("database_url", "", "Database URL for stored sessions (postgres:// or sqlite://; leave empty for files in config_dir)")
	flags.String("auth_endpoint", icloud.DefaultAuthEndpoint, "Sign-in service base URL")
	flags.String("setup_endpoint", icloud.DefaultSetupEndpoint, "Setup service base URL")
	flags.Duration("request_timeout", 30*time.Second, "Per-request HTTP timeout")
	flags.Bool("verbose", false, "Development logging")

	for _, name := range []string{"apple_id", "password", "config_dir", "database_url", "auth_endpoint", "setup_endpoint", "request_timeout", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("NEFOS")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newWhoAmICommand(),
		newCalendarCommand(),
		newLogoutCommand(),
		newEmulateCommand(),
	)
	return rootCmd
}

const (
	configCodeMissingAppleID      = "config.missing_apple_id"
	configCodeInvalidAppleID      = "config.invalid_apple_id"
	configCodeHomeDirectory       = "config.home_directory"
	configCodeInvalidTimeout      = "config.invalid_request_timeout"
	configCodeMissingDateRange    = "config.missing_date_range"
	configCodeMissingSigningKey   = "config.missing_signing_key"
	configCodeMissingEmulatorUser = "config.missing_emulator_account"
)

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// clientSettings is the resolved configuration shared by the client commands.
type clientSettings struct {
	AppleID     string
	Password    string
	ConfigDir   string
	DatabaseURL string
	Client      icloud.Config
	Verbose     bool
}

func defaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", configError(configCodeHomeDirectory, err.Error())
	}
	return filepath.Join(home, ".config", "nefos"), nil
}

// LoadClientSettings reads flags and NEFOS_* environment variables.
func LoadClientSettings() (clientSettings, error) {
	appleID := strings.TrimSpace(viper.GetString("apple_id"))
	if appleID == "" {
		return clientSettings{}, configError(configCodeMissingAppleID, "apple_id must be provided")
	}

	configDir := strings.TrimSpace(viper.GetString("config_dir"))
	if configDir == "" {
		resolved, err := defaultConfigDir()
		if err != nil {
			return clientSettings{}, err
		}
		configDir = resolved
	} else {
		expanded, err := homedir.Expand(configDir)
		if err != nil {
			return clientSettings{}, configError(configCodeHomeDirectory, err.Error())
		}
		configDir = expanded
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout < 0 {
		return clientSettings{}, configError(configCodeInvalidTimeout, "request_timeout must not be negative")
	}

	cookieFileName, cookieErr := sessionstore.AccountPath(appleID, icloud.DefaultCookieFileName)
	if cookieErr != nil {
		return clientSettings{}, configError(configCodeInvalidAppleID, cookieErr.Error())
	}

	clientConfig := icloud.DefaultConfig(configDir)
	clientConfig.CookieFileName = cookieFileName
	if authEndpoint := viper.GetString("auth_endpoint"); authEndpoint != "" {
		clientConfig.AuthEndpoint = authEndpoint
	}
	if setupEndpoint := viper.GetString("setup_endpoint"); setupEndpoint != "" {
		clientConfig.SetupEndpoint = setupEndpoint
	}
	if requestTimeout > 0 {
		clientConfig.RequestTimeout = requestTimeout
	}

	return clientSettings{
		AppleID:     appleID,
		Password:    viper.GetString("password"),
		ConfigDir:   configDir,
		DatabaseURL: viper.GetString("database_url"),
		Client:      clientConfig,
		Verbose:     viper.GetBool("verbose"),
	}, nil
}

func openSessionStore(ctx context.Context, settings clientSettings, logger *zap.Logger) (sessionstore.Store, error) {
	if settings.DatabaseURL != "" {
		databaseStore, err := sessionstore.NewDatabaseStore(ctx, settings.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Debug("using database session store", zap.String("driver", databaseStore.Driver()))
		return databaseStore, nil
	}
	fileStore, err := sessionstore.NewFileStore(settings.ConfigDir, icloud.DefaultSessionFileName)
	if err != nil {
		return nil, err
	}
	logger.Debug("using file session store", zap.String("dir", settings.ConfigDir))
	return fileStore, nil
}

// commandEnvironment carries what every client command needs.
type commandEnvironment struct {
	settings clientSettings
	logger   *zap.Logger
	store    sessionstore.Store
	prompter *prompter
}

func prepareEnvironment(command *cobra.Command) (*commandEnvironment, func(), error) {
	settings, err := LoadClientSettings()
	if err != nil {
		return nil, nil, err
	}
	logger, loggerErr := newLogger(settings.Verbose)
	if loggerErr != nil {
		return nil, nil, loggerErr
	}
	settings.Client.Logger = logger
	store, storeErr := openSessionStore(command.Context(), settings, logger)
	if storeErr != nil {
		_ = logger.Sync()
		return nil, nil, storeErr
	}
	environment := &commandEnvironment{
		settings: settings,
		logger:   logger,
		store:    store,
		prompter: newPrompter(command.InOrStdin(), command.ErrOrStderr()),
	}
	cleanup := func() {
		if closer, ok := store.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil {
				logger.Warn("session store close failed", zap.String("code", "nefos.session_store.close"), zap.Error(closeErr))
			}
		}
		_ = logger.Sync()
	}
	return environment, cleanup, nil
}
