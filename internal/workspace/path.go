package workspace

import (
	"path/filepath"
	"strings"

	"github.com/yenjordan/terminus/internal/apperror"
)

// ValidatePath enforces the security-critical invariant from the data
// model: path must start with "/", must not contain ".." components, and
// must resolve to a descendant of root/sessionID. It returns the absolute
// on-disk location on success.
func ValidatePath(root, sessionID, path string) (string, error) {
	if path == "" || !strings.HasPrefix(path, "/") {
		return "", apperror.New(apperror.PathError, "path must be absolute within the session root: "+path)
	}

	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return "", apperror.New(apperror.PathError, "path must not contain ..: "+path)
		}
	}

	sessionRoot := filepath.Join(root, sessionID)
	joined := filepath.Join(sessionRoot, path)

	rel, err := filepath.Rel(sessionRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperror.New(apperror.PathError, "path escapes session root: "+path)
	}

	return joined, nil
}

// Ignored reports whether a logical path is excluded from both the virtual
// tree and sync, per the ignore set.
func Ignored(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "package.json":
		return true
	}
	if strings.Contains(path, "node_modules") || strings.Contains(path, ".npm") || strings.Contains(path, ".npmrc") {
		return true
	}
	if strings.HasSuffix(base, ".log") {
		return true
	}
	if strings.Contains(base, "npm-debug") {
		return true
	}
	return false
}
