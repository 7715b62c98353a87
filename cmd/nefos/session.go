package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/nefos/internal/sessionstore"
	"github.com/tyemirov/nefos/pkg/icloud"
	"go.uber.org/zap"
)

// resumeStored returns a Service built from the stored session, or nil when
// nothing usable is stored. Stale or corrupt sessions are discarded.
func resumeStored(ctx context.Context, environment *commandEnvironment, transport *icloud.Transport) (*icloud.Service, error) {
	accountName := environment.settings.AppleID
	blob, err := environment.store.Load(ctx, accountName)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	service, resumeErr := icloud.Resume(ctx, transport, blob)
	switch {
	case resumeErr == nil:
		environment.logger.Info("session resumed", zap.String("code", "nefos.session.resumed"))
		return service, nil
	case errors.Is(resumeErr, icloud.ErrStaleSession), errors.Is(resumeErr, icloud.ErrSessionBlob):
		environment.logger.Warn("stored session unusable", zap.String("code", "nefos.session.discarded"), zap.Error(resumeErr))
		if deleteErr := environment.store.Delete(ctx, accountName); deleteErr != nil {
			return nil, deleteErr
		}
		return nil, nil
	default:
		return nil, resumeErr
	}
}

// signInFresh runs the full sign-in flow, asking for the password and the
// second factor code when needed.
func signInFresh(ctx context.Context, environment *commandEnvironment, transport *icloud.Transport) (*icloud.Service, error) {
	password := environment.settings.Password
	if password == "" {
		prompted, err := environment.prompter.secret("Password")
		if err != nil {
			return nil, err
		}
		password = prompted
	}
	auth, err := icloud.SignIn(ctx, transport, icloud.Credentials{
		AccountName: environment.settings.AppleID,
		Password:    password,
	}, icloud.SignInOptions{})
	if err != nil {
		return nil, err
	}
	service, resolveErr := auth.Resolve(ctx, icloud.CodeProviderFunc(func(ctx context.Context) (string, error) {
		return environment.prompter.line("Code")
	}))
	if resolveErr != nil {
		return nil, resolveErr
	}
	return service, nil
}

func persist(ctx context.Context, environment *commandEnvironment, service *icloud.Service) error {
	blob, err := service.SerializeSession()
	if err != nil {
		return err
	}
	if err := environment.store.Save(ctx, environment.settings.AppleID, blob); err != nil {
		return err
	}
	return service.SaveCookies()
}

// establishSession resumes the stored session when possible, otherwise signs
// in. Either way the session and cookies are written back.
func establishSession(ctx context.Context, environment *commandEnvironment, allowSignIn bool) (*icloud.Service, error) {
	transport, err := icloud.NewTransport(environment.settings.Client)
	if err != nil {
		return nil, err
	}
	service, err := resumeStored(ctx, environment, transport)
	if err != nil {
		return nil, err
	}
	if service == nil {
		if !allowSignIn {
			return nil, fmt.Errorf("nefos.session: %w: run nefos login", sessionstore.ErrNotFound)
		}
		service, err = signInFresh(ctx, environment, transport)
		if err != nil {
			return nil, err
		}
	}
	if err := persist(ctx, environment, service); err != nil {
		return nil, err
	}
	return service, nil
}
