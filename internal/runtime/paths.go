package runtime

import (
	"fmt"
	"path"
	"strings"
)

// RemotePaths resolves paths inside a remote or containerized environment.
// The cached fields belong to one Runtime instance; they are never shared
// across workspaces.
type RemotePaths struct {
	// Home is the cached remote home directory, when known.
	Home string

	// User is the remote user, when known.
	User string

	// WorkspaceFolder is the cached current workspace folder in the target
	// environment.
	WorkspaceFolder string
}

// ResolveHome resolves ~ for the target environment. Cached home wins; a
// known user falls back to the conventional home location; with neither
// known the resolution fails.
func (p RemotePaths) ResolveHome() (string, error) {
	if p.Home != "" {
		return p.Home, nil
	}
	switch p.User {
	case "":
		return "", fmt.Errorf("cannot resolve ~: home directory and user both unknown")
	case "root":
		return "/root", nil
	default:
		return "/home/" + p.User, nil
	}
}

// Resolve expands target to an absolute POSIX path in the remote environment.
// Absolute paths pass through; ~ forms resolve via ResolveHome; relative
// paths resolve against the workspace folder, or / if none is cached.
func (p RemotePaths) Resolve(target string) (string, error) {
	switch {
	case target == "" || target == "~":
		return p.ResolveHome()
	case strings.HasPrefix(target, "~/"):
		home, err := p.ResolveHome()
		if err != nil {
			return "", err
		}
		return path.Join(home, target[2:]), nil
	case strings.HasPrefix(target, "/"):
		return path.Clean(target), nil
	default:
		base := p.WorkspaceFolder
		if base == "" {
			base = "/"
		}
		return path.Join(base, target), nil
	}
}

// WorkingDir picks the working directory for an exec. Windows-looking paths
// are rejected outright rather than translated; the workspace folder is the
// fallback for anything unusable.
func (p RemotePaths) WorkingDir(cwd string) string {
	if cwd == "" || IsWindowsPath(cwd) {
		return p.WorkspaceFolder
	}
	resolved, err := p.Resolve(cwd)
	if err != nil {
		return p.WorkspaceFolder
	}
	return resolved
}

// IsWindowsPath reports whether s looks like a Windows path: a drive-letter
// prefix or backslash separators.
func IsWindowsPath(s string) bool {
	if len(s) >= 2 && s[1] == ':' &&
		((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z')) {
		return true
	}
	return strings.Contains(s, `\`)
}

// HostMapping maps host paths into a container given one known root pair.
type HostMapping struct {
	HostRoot      string
	ContainerRoot string
}

// ToContainer maps a host path under the known host root to the container.
// Backslashes are normalized first. Paths outside the root report no mapping
// rather than a guess.
func (m HostMapping) ToContainer(hostPath string) (string, bool) {
	if m.HostRoot == "" || m.ContainerRoot == "" {
		return "", false
	}
	normalized := strings.ReplaceAll(hostPath, `\`, "/")
	root := strings.TrimRight(strings.ReplaceAll(m.HostRoot, `\`, "/"), "/")

	if normalized == root {
		return m.ContainerRoot, true
	}
	if strings.HasPrefix(normalized, root+"/") {
		rel := strings.TrimPrefix(normalized, root+"/")
		return path.Join(m.ContainerRoot, rel), true
	}
	return "", false
}
