package ssh

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// Fetch streams a remote file into w and returns the number of bytes copied.
func Fetch(ctx context.Context, client *xssh.Client, remotePath string, w io.Writer) (int64, error) {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()

	src, err := sf.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()

	// sftp reads are not context aware; closing the file unblocks the copy.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = src.Close()
		case <-done:
		}
	}()

	n, err := io.Copy(w, src)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("copy: %w", err)
	}
	return n, nil
}
