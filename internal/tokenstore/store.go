package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"happa/internal/provider"
	"happa/pkg/auth"
	"happa/pkg/logging"
	"happa/pkg/oauth"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Record is the persisted form of a session.
type Record struct {
	AccessToken  string      `json:"accessToken"`
	TokenType    auth.Scheme `json:"tokenType,omitempty"`
	IDToken      string      `json:"idToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         *auth.User  `json:"user,omitempty"`
	SavedAt      time.Time   `json:"savedAt"`
}

// TokenSet returns the token set held by the record.
func (r *Record) TokenSet() *auth.TokenSet {
	if r == nil {
		return nil
	}
	return &auth.TokenSet{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
	}
}

// Config configures a Store.
type Config struct {
	// StorageDir holds the record files. Defaults to ~/.config/happa/tokens.
	StorageDir string

	// Key names the record. Use KeyFor so each installation gets its own.
	Key string

	// FileMode enables persistence. When false the store is in-memory only.
	FileMode bool
}

// Store holds the persisted session for one provider and installation.
type Store struct {
	mu         sync.Mutex
	storageDir string
	key        string
	fileMode   bool

	// in-memory copies, authoritative when fileMode is false
	record        *Record
	impersonation *auth.Impersonation
}

// New creates a store, creating the storage directory in file mode.
func New(cfg Config) (*Store, error) {
	if cfg.Key == "" {
		return nil, errors.New("token store key must not be empty")
	}

	storageDir, err := resolveStorageDir(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	if cfg.FileMode {
		if err := os.MkdirAll(storageDir, dirPerm); err != nil {
			return nil, provider.NewError(provider.KindStorageError, "create token storage directory", err)
		}
	}

	return &Store{
		storageDir: storageDir,
		key:        cfg.Key,
		fileMode:   cfg.FileMode,
	}, nil
}

func resolveStorageDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, oauth.DefaultTokenStorageDir), nil
}

// Path returns the location of the session record.
func (s *Store) Path() string {
	return filepath.Join(s.storageDir, s.key+".json")
}

func (s *Store) impersonationPath() string {
	return filepath.Join(s.storageDir, "impersonation-"+s.key+".json")
}

// Load returns the persisted record, or nil when there is none or it cannot
// be used.
func (s *Store) Load() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fileMode {
		if s.record == nil {
			return nil
		}
		r := *s.record
		return &r
	}

	// #nosec G304 -- path is built from the configured directory and provider key
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("TokenStore", "%v", provider.NewError(provider.KindStorageError, "read session record", err))
		}
		return nil
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		logging.Warn("TokenStore", "Ignoring corrupt session record %s: %v",
			s.Path(), provider.NewError(provider.KindStorageError, "decode session record", err))
		return nil
	}
	if r.AccessToken == "" {
		logging.Warn("TokenStore", "Ignoring session record %s without access token", s.Path())
		return nil
	}

	return &r
}

// Save replaces the persisted record with ts and user in a single write.
func (s *Store) Save(ts *auth.TokenSet, user *auth.User) error {
	if !ts.Valid() {
		return provider.NewError(provider.KindStorageError, "save session record", errors.New("token set has no access token"))
	}

	r := &Record{
		AccessToken:  ts.AccessToken,
		TokenType:    ts.TokenType,
		IDToken:      ts.IDToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    ts.ExpiresAt,
		User:         user,
		SavedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileMode {
		if err := writeJSONAtomic(s.Path(), r); err != nil {
			logging.Audit("token_store_failed", "provider", s.key, "error", err.Error())
			return provider.NewError(provider.KindStorageError, "save session record", err)
		}
	}
	s.record = r

	logging.Audit("token_stored",
		"provider", s.key,
		"expires_at", formatExpiry(ts.ExpiresAt),
		"has_refresh_token", ts.RefreshToken != "",
	)
	return nil
}

// Clear removes the persisted record and any impersonation settings.
// Clearing an empty store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = nil
	s.impersonation = nil

	if s.fileMode {
		for _, p := range []string{s.Path(), s.impersonationPath()} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				logging.Audit("token_delete_failed", "provider", s.key, "error", err.Error())
				return provider.NewError(provider.KindStorageError, "clear session record", err)
			}
		}
	}

	logging.Audit("token_deleted", "provider", s.key)
	return nil
}

// LoadImpersonation returns the stored impersonation settings, or nil.
func (s *Store) LoadImpersonation() *auth.Impersonation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fileMode {
		return s.impersonation
	}

	// #nosec G304 -- path is built from the configured directory and provider key
	data, err := os.ReadFile(s.impersonationPath())
	if err != nil {
		return nil
	}
	var imp auth.Impersonation
	if err := json.Unmarshal(data, &imp); err != nil || imp.User == "" {
		logging.Warn("TokenStore", "Ignoring corrupt impersonation record %s", s.impersonationPath())
		return nil
	}
	return &imp
}

// SaveImpersonation stores the identity subsequent API requests act as.
func (s *Store) SaveImpersonation(imp *auth.Impersonation) error {
	if imp == nil || imp.User == "" {
		return errors.New("impersonation requires a user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileMode {
		if err := writeJSONAtomic(s.impersonationPath(), imp); err != nil {
			return provider.NewError(provider.KindStorageError, "save impersonation record", err)
		}
	}
	s.impersonation = imp

	logging.Audit("impersonation_set", "provider", s.key, "user", imp.User, "groups", len(imp.Groups))
	return nil
}

// ClearImpersonation removes the impersonation settings.
func (s *Store) ClearImpersonation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.impersonation = nil
	if s.fileMode {
		if err := os.Remove(s.impersonationPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return provider.NewError(provider.KindStorageError, "clear impersonation record", err)
		}
	}

	logging.Audit("impersonation_cleared", "provider", s.key)
	return nil
}

// writeJSONAtomic writes v next to path and renames it into place, so
// readers see either the old or the new content.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
