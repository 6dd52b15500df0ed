package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
)

// DirPermission is the mode for session directories.
const DirPermission = 0o755

// FilePermission is the mode for files written into a session.
const FilePermission = 0o644

// Store maps session ids to directories on disk.
type Store struct {
	base   string
	logger *zap.Logger
}

// NewStore creates a Store rooted at the configured base path.
func NewStore(cfg *config.Config, logger *zap.Logger) *Store {
	return &Store{
		base:   cfg.Session.BasePath,
		logger: logger,
	}
}

// ValidateID rejects empty session ids and ids that would escape the
// base directory.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if id != filepath.Base(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id: %s", id)
	}
	return nil
}

// validateFilename rejects names with path separators or traversal.
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename must not be empty")
	}
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid filename: %s", name)
	}
	return nil
}

// Resolve returns the directory for a session without creating it.
func (s *Store) Resolve(id string) string {
	return filepath.Join(s.base, id)
}

// Ensure creates the session directory if absent and returns its path.
func (s *Store) Ensure(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := s.Resolve(id)
	if err := os.MkdirAll(dir, DirPermission); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}

// Delete removes the entire session tree. It reports whether the
// session existed; deleting an unknown session is not an error.
func (s *Store) Delete(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	dir := s.Resolve(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove session directory: %w", err)
	}
	s.logger.Info("session terminated", zap.String("session_id", id))
	return true, nil
}

// Save writes a file into the session directory, creating the
// directory if needed, and returns the file's path.
func (s *Store) Save(id, name string, r io.Reader) (string, error) {
	if err := validateFilename(name); err != nil {
		return "", err
	}
	dir, err := s.Ensure(id)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermission)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// FilePath returns the path of an existing session file. It reports
// os.ErrNotExist when either the session or the file is absent.
func (s *Store) FilePath(id, name string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if err := validateFilename(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.Resolve(id), name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}
