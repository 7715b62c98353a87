package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyDirectory = errors.New("session_store.file.empty_directory")

// FileStore keeps each account's blob at
// <directory>/accounts/<account>/<fileName>.
type FileStore struct {
	directory string
	fileName  string
}

// NewFileStore constructs a store rooted at directory.
func NewFileStore(directory string, fileName string) (*FileStore, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, fmt.Errorf("session_store.file.open: %w", errEmptyDirectory)
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = "session.json"
	}
	return &FileStore{directory: directory, fileName: fileName}, nil
}

// Path returns the file holding accountName's blob.
func (store *FileStore) Path(accountName string) (string, error) {
	relative, err := AccountPath(accountName, store.fileName)
	if err != nil {
		return "", err
	}
	return filepath.Join(store.directory, relative), nil
}

// Load reads the blob for accountName.
func (store *FileStore) Load(ctx context.Context, accountName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := store.Path(accountName)
	if err != nil {
		return nil, err
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, fmt.Errorf("session_store.file.load: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("session_store.file.load: %w", readErr)
	}
	return data, nil
}

// Save replaces the blob for accountName.
func (store *FileStore) Save(ctx context.Context, accountName string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(blob) == 0 {
		return fmt.Errorf("session_store.file.save: %w", ErrEmptyBlob)
	}
	path, err := store.Path(accountName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("session_store.file.save: %w", err)
	}
	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, blob, 0o600); err != nil {
		return fmt.Errorf("session_store.file.save: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("session_store.file.save: %w", err)
	}
	return nil
}

// Delete removes the blob for accountName. Deleting a missing blob is not an error.
func (store *FileStore) Delete(ctx context.Context, accountName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := store.Path(accountName)
	if err != nil {
		return err
	}
	if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("session_store.file.delete: %w", removeErr)
	}
	return nil
}
