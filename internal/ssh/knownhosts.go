package ssh

import (
	"fmt"
	"os"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// LoadKnownHostsCallback returns a strict host key callback using the given
// file. Unlike an interactive client it never creates or appends to the file:
// a mirror must be trusted by the operator beforehand.
func LoadKnownHostsCallback(path string) (xssh.HostKeyCallback, error) {
	if path == "" {
		return nil, fmt.Errorf("known_hosts path not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return knownhosts.New(path)
}
