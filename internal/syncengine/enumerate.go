package syncengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"decksaves/internal/core"
)

// enumerateLocal walks root and returns every regular file's relative
// path (the storage-key-safe identifier) mapped to its absolute path,
// skipping anything ignore matches.
func enumerateLocal(root string, ignore *IgnoreMatcher) (map[string]string, error) {
	root, err := core.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		osRel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, err)
		}
		if ignore != nil && ignore.Match(osRel) {
			return nil
		}

		relPath, err := core.RelativeFilePath(root, path)
		if err != nil {
			return fmt.Errorf("normalizing relative path for %s: %w", path, err)
		}
		out[relPath] = path
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// manifestKeyToRelPath extracts the relative file path from a manifest
// storage key of the form "<prefix><relPath>.json".
func manifestKeyToRelPath(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	trimmed := strings.TrimPrefix(key, prefix)
	trimmed = strings.TrimSuffix(trimmed, ".json")
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
