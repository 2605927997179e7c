package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	gssh "github.com/3cpo-dev/calprov/internal/ssh"
)

// SFTP downloads sftp://[user@]host[:port]/path sources from an internal
// mirror. Host keys must already be listed in KnownHosts.
type SFTP struct {
	User       string
	KeyPath    string
	KnownHosts string
	Timeout    time.Duration
}

func (s *SFTP) Download(ctx context.Context, src *url.URL, w io.Writer) (int64, error) {
	user := s.User
	if src.User != nil && src.User.Username() != "" {
		user = src.User.Username()
	}
	if user == "" {
		return 0, fmt.Errorf("sftp: no user for %s", src.Host)
	}
	addr := src.Host
	if src.Port() == "" {
		addr = net.JoinHostPort(src.Hostname(), "22")
	}

	signer, err := gssh.LoadPrivateKeySigner(s.KeyPath)
	if err != nil {
		return 0, fmt.Errorf("load SSH key: %w", err)
	}
	kh, err := gssh.LoadKnownHostsCallback(s.KnownHosts)
	if err != nil {
		return 0, fmt.Errorf("load known hosts: %w", err)
	}
	client, err := gssh.Dial(ctx, &gssh.Client{
		Addr:       addr,
		User:       user,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    s.Timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	log.Debug().Str("host", addr).Str("path", src.Path).Msg("Fetching from mirror")
	return gssh.Fetch(ctx, client, src.Path, w)
}
