package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in, completing two-factor verification if required, and store the session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			environment, cleanup, err := prepareEnvironment(command)
			if err != nil {
				return err
			}
			defer cleanup()
			service, err := establishSession(command.Context(), environment, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(command.OutOrStdout(), service.Name())
			return nil
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the stored account's name and email",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			environment, cleanup, err := prepareEnvironment(command)
			if err != nil {
				return err
			}
			defer cleanup()
			service, err := establishSession(command.Context(), environment, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "%s <%s>\n", service.Name(), service.Email())
			return nil
		},
	}
}

func newCalendarCommand() *cobra.Command {
	calendarCmd := &cobra.Command{
		Use:   "calendar",
		Short: "Fetch calendar events between two dates and print the raw response",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			timezone, _ := command.Flags().GetString("timezone")
			from, _ := command.Flags().GetString("from")
			to, _ := command.Flags().GetString("to")
			if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				return configError(configCodeMissingDateRange, "from and to must be provided")
			}
			environment, cleanup, err := prepareEnvironment(command)
			if err != nil {
				return err
			}
			defer cleanup()
			service, err := establishSession(command.Context(), environment, true)
			if err != nil {
				return err
			}
			body, err := service.FetchCalendarEvents(command.Context(), timezone, from, to)
			if err != nil {
				return err
			}
			environment.logger.Debug("calendar fetched", zap.String("code", "nefos.calendar.fetched"), zap.Int("bytes", len(body)))
			fmt.Fprintln(command.OutOrStdout(), body)
			return nil
		},
	}
	calendarCmd.Flags().String("timezone", "UTC", "IANA time zone the dates are interpreted in")
	calendarCmd.Flags().String("from", "", "Start date, YYYY-MM-DD")
	calendarCmd.Flags().String("to", "", "End date, YYYY-MM-DD")
	return calendarCmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session and cookies for the account",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			environment, cleanup, err := prepareEnvironment(command)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := environment.store.Delete(command.Context(), environment.settings.AppleID); err != nil {
				return err
			}
			if removeErr := os.Remove(environment.settings.Client.CookiePath()); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				return fmt.Errorf("nefos.logout.cookies: %w", removeErr)
			}
			environment.logger.Info("session forgotten", zap.String("code", "nefos.session.deleted"))
			return nil
		},
	}
}
