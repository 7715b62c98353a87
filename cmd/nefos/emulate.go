package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/nefos/internal/emulator"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func newEmulateCommand() *cobra.Command {
	emulateCmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve a local stand-in for the sign-in, setup and calendar endpoints",
		Args:  cobra.NoArgs,
		RunE:  runEmulator,
	}
	emulateCmd.Flags().String("listen_addr", "127.0.0.1:8080", "HTTP listen address")
	emulateCmd.Flags().String("signing_key", "", "HS256 secret for emulated session tokens")
	emulateCmd.Flags().String("security_code", "", "Second factor code; empty disables two-factor for the account")
	emulateCmd.Flags().String("first_name", "Local", "Account first name")
	emulateCmd.Flags().String("last_name", "User", "Account last name")

	for _, name := range []string{"listen_addr", "signing_key", "security_code", "first_name", "last_name"} {
		_ = viper.BindPFlag(name, emulateCmd.Flags().Lookup(name))
	}
	return emulateCmd
}

// LoadEmulatorConfig builds the emulator configuration from flags and environment.
func LoadEmulatorConfig() (emulator.Config, error) {
	appleID := strings.TrimSpace(viper.GetString("apple_id"))
	password := viper.GetString("password")
	if appleID == "" || password == "" {
		return emulator.Config{}, configError(configCodeMissingEmulatorUser, "apple_id and password must be provided")
	}
	signingKey := viper.GetString("signing_key")
	if signingKey == "" {
		return emulator.Config{}, configError(configCodeMissingSigningKey, "signing_key must be provided")
	}
	return emulator.Config{
		Accounts: []emulator.Account{{
			AccountName:  appleID,
			Password:     password,
			SecurityCode: viper.GetString("security_code"),
			FirstName:    viper.GetString("first_name"),
			LastName:     viper.GetString("last_name"),
		}},
		SigningKey: []byte(signingKey),
	}, nil
}

func runEmulator(command *cobra.Command, arguments []string) error {
	configuration, err := LoadEmulatorConfig()
	if err != nil {
		return err
	}
	logger, loggerErr := newLogger(viper.GetBool("verbose"))
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()
	configuration.Logger = logger

	gin.SetMode(gin.ReleaseMode)
	fake, err := emulator.New(configuration)
	if err != nil {
		return err
	}

	listenAddr := viper.GetString("listen_addr")
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("emulator shutdown error", zap.Error(err))
		}
	}()

	logger.Info("emulator listening",
		zap.String("addr", listenAddr),
		zap.String("auth_endpoint", "http://"+listenAddr+emulator.AuthPrefix),
		zap.String("setup_endpoint", "http://"+listenAddr+emulator.SetupPrefix))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
