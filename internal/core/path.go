package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// keyGrammar characters are passed through unescaped; anything else in a
// relative path gets percent-encoded so the result is always a valid
// storage key, matching `^[A-Za-z0-9._\-/]+$`.
func isKeySafe(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-' || b == '/':
		return true
	}
	return false
}

// RelativeFilePath normalizes an absolute path under root into the
// logical identifier used in manifest and blob keys: separators become
// '/', and characters outside the key grammar are percent-encoded. The
// mapping is bijective given root — UnescapeRelativeFilePath inverts it.
func RelativeFilePath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("computing relative path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	var b strings.Builder
	for i := 0; i < len(rel); i++ {
		c := rel[i]
		if isKeySafe(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String(), nil
}

// UnescapeRelativeFilePath inverts RelativeFilePath's percent-encoding,
// returning a slash-separated relative path; callers convert it with
// filepath.FromSlash where an OS-native path is needed.
func UnescapeRelativeFilePath(relPath string) (string, error) {
	return url.PathUnescape(relPath)
}

// ExpandHome expands a leading "~" or "~/..." in path to the current
// user's home directory, leaving every other path (including "~other")
// unchanged. Config fields like LocalBasePath and GameConfig.SavePaths
// are expanded at the point of use via this helper rather than at load
// time, so the on-disk config keeps the user's original "~/..." form.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: resolving home directory: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// VersionBlobKey returns the storage key for a version's content blob.
func VersionBlobKey(game, relPath, versionID string) string {
	return fmt.Sprintf("versions/%s/%s/%s", game, relPath, versionID)
}

// CacheBlobPath returns the local filesystem path where a version's blob
// is cached for restore-readiness:
// <localBase>/cache/<game>/<relPath>/<versionId>.
func CacheBlobPath(localBase, game, relPath, versionID string) (string, error) {
	osRel, err := UnescapeRelativeFilePath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(localBase, "cache", game, filepath.FromSlash(osRel), versionID), nil
}

// VersionBlobPrefix returns the storage key prefix covering every version
// blob for one file.
func VersionBlobPrefix(game, relPath string) string {
	return fmt.Sprintf("versions/%s/%s/", game, relPath)
}

// ManifestKey returns the storage key for a file's manifest.
func ManifestKey(game, relPath string) string {
	return fmt.Sprintf("manifests/%s/%s.json", game, relPath)
}

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewVersionID builds a lexicographically sortable version id from a UTC
// instant and a content hash: "<RFC3339-UTC with ':' -> '-'>_<hash[0:12]>".
func NewVersionID(ts time.Time, hash string) string {
	stamp := ts.UTC().Format(time.RFC3339)
	stamp = strings.ReplaceAll(stamp, ":", "-")
	prefix := hash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return stamp + "_" + prefix
}
