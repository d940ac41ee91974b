package tokenstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"happa/internal/provider"
	"happa/pkg/logging"
)

// recordName matches the files written for keys built by KeyFor.
var recordName = regexp.MustCompile(`^(impersonation-)?[a-z]+-[0-9a-f]{32}\.json$`)

// KeyFor returns the record key for a provider talking to one installation,
// identified by the issuer or API endpoint it authenticates against. Two
// installations never share a record, so a session started against one is
// not replayed to another.
func KeyFor(providerName, location string) string {
	hash := sha256.Sum256([]byte(normalizeLocation(location)))
	return providerName + "-" + hex.EncodeToString(hash[:16])
}

// normalizeLocation folds spellings of the same URL together: scheme and
// host are case-insensitive and a trailing slash is insignificant.
func normalizeLocation(location string) string {
	location = strings.TrimSpace(location)
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return strings.TrimRight(location, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""
	return u.String()
}

// ClearAll removes every session and impersonation record in storageDir and
// returns how many files it deleted. Other files are left alone.
// An empty storageDir means the default location.
func ClearAll(storageDir string) (int, error) {
	storageDir, err := resolveStorageDir(storageDir)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(storageDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, provider.NewError(provider.KindStorageError, "list session records", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !recordName.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(storageDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, provider.NewError(provider.KindStorageError, "clear session record", err)
		}
		removed++
	}

	logging.Audit("tokens_cleared", "count", removed)
	return removed, nil
}
