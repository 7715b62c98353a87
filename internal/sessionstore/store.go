// Package sessionstore keeps serialized session blobs between runs.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const accountsDirectory = "accounts"

var (
	// ErrNotFound indicates no session is stored for the account.
	ErrNotFound = errors.New("session_store.not_found")
	// ErrEmptyAccount indicates a blank account key.
	ErrEmptyAccount = errors.New("session_store.empty_account")
	// ErrInvalidAccount indicates an account key that cannot name a directory.
	ErrInvalidAccount = errors.New("session_store.invalid_account")
	// ErrEmptyBlob indicates an attempt to store an empty session blob.
	ErrEmptyBlob = errors.New("session_store.empty_blob")
)

// Store persists one opaque session blob per account.
type Store interface {
	Load(ctx context.Context, accountName string) ([]byte, error)
	Save(ctx context.Context, accountName string, blob []byte) error
	Delete(ctx context.Context, accountName string) error
}

func normalizeAccount(accountName string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(accountName))
	if normalized == "" {
		return "", ErrEmptyAccount
	}
	if normalized == "." || normalized == ".." {
		return "", ErrInvalidAccount
	}
	return normalized, nil
}

// AccountPath returns accounts/<account>/<fileName>, relative to a config
// directory. Sessions and cookie jars of one account live side by side there.
func AccountPath(accountName string, fileName string) (string, error) {
	normalized, err := normalizeAccount(accountName)
	if err != nil {
		return "", fmt.Errorf("session_store.account_path: %w", err)
	}
	return filepath.Join(accountsDirectory, url.PathEscape(normalized), fileName), nil
}
