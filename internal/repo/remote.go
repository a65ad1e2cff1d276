package repo

import (
	"fmt"
	"strings"
)

// RemoteInfo is the host and project slug parsed from a git remote URL.
type RemoteInfo struct {
	Host  string
	Owner string
	Name  string
}

// Slug returns the "owner/name" form of the remote's project path.
func (ri RemoteInfo) Slug() string {
	return ri.Owner + "/" + ri.Name
}

// ParseRemoteURL extracts host and owner/name from the common git remote
// URL shapes: https://host/owner/repo(.git), ssh://git@host/owner/repo and
// the scp-like git@host:owner/repo.
func ParseRemoteURL(raw string) (RemoteInfo, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else {
		// scp-like syntax: git@host:owner/repo
		s = strings.Replace(s, ":", "/", 1)
	}
	if at := strings.Index(s, "@"); at >= 0 {
		s = s[at+1:]
	}

	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RemoteInfo{}, fmt.Errorf("unrecognized remote URL: %s", raw)
	}

	host := parts[0]
	// ssh URLs may carry a port after the host
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}

	return RemoteInfo{Host: host, Owner: parts[1], Name: parts[2]}, nil
}
