// Package fetch implements the asset downloaders, one per URL scheme.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// HTTP downloads http:// and https:// sources.
type HTTP struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{Client: &http.Client{Timeout: timeout}, UserAgent: "calprov"}
}

func (h *HTTP) Download(ctx context.Context, src *url.URL, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.ContentLength > 0 {
		log.Debug().Str("url", src.Redacted()).Str("size", humanize.Bytes(uint64(resp.ContentLength))).Msg("Downloading")
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short body: got %s of %s", humanize.Bytes(uint64(n)), humanize.Bytes(uint64(resp.ContentLength)))
	}
	return n, nil
}
