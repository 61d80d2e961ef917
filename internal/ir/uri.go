package ir

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// URI schemes understood by the workspace.
const (
	SchemeWorkspace = "workspace"
	SchemeUntitled  = "untitled"
)

// WorkspaceURI builds a workspace URI from a path relative to the workspace
// root. The path is converted to slash form, cleaned, and NFC normalized so
// that decomposed filenames reported by some filesystems name the same file.
func WorkspaceURI(rel string) string {
	p := path.Clean(filepath.ToSlash(rel))
	p = strings.TrimPrefix(p, "/")
	return SchemeWorkspace + ":" + norm.NFC.String(p)
}

// UntitledURI builds an untitled buffer URI.
func UntitledURI(name string) string {
	return SchemeUntitled + ":" + norm.NFC.String(name)
}

// SplitURI returns the scheme and path of uri.
func SplitURI(uri string) (scheme, p string, err error) {
	i := strings.IndexByte(uri, ':')
	if i <= 0 {
		return "", "", fmt.Errorf("invalid uri %q: missing scheme", uri)
	}
	scheme, p = uri[:i], uri[i+1:]
	switch scheme {
	case SchemeWorkspace, SchemeUntitled:
	default:
		return "", "", fmt.Errorf("invalid uri %q: unknown scheme %q", uri, scheme)
	}
	if p == "" {
		return "", "", fmt.Errorf("invalid uri %q: empty path", uri)
	}
	return scheme, p, nil
}

// IsWorkspaceURI reports whether uri names a file in the worktree.
func IsWorkspaceURI(uri string) bool {
	return strings.HasPrefix(uri, SchemeWorkspace+":")
}

// URIPath returns the slash path of a workspace URI relative to the root.
func URIPath(uri string) (string, error) {
	scheme, p, err := SplitURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != SchemeWorkspace {
		return "", fmt.Errorf("uri %q is not in the workspace", uri)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("uri %q escapes the workspace", uri)
	}
	return p, nil
}

// NormalizeURI returns uri with its path NFC normalized.
func NormalizeURI(uri string) string {
	return norm.NFC.String(uri)
}
