package mediapath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NotFoundError reports a resolved local path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mediapath: file not found: %s", e.Path)
}

// IsRemote reports whether the path is already an http(s) URL.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// CanonicalLocal turns a filesystem path into its cleaned absolute form.
// When checkExists is set, a missing file yields *NotFoundError so the
// caller can answer 404 instead of signing a dead path.
func CanonicalLocal(path string, checkExists bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("mediapath: canonicalizing %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	if checkExists {
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &NotFoundError{Path: path}
			}
			return "", fmt.Errorf("mediapath: stat %q: %w", abs, err)
		}
	}
	return abs, nil
}
