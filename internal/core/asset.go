package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/pkg/api"
)

// Downloader streams the resource at src into w.
type Downloader interface {
	Download(ctx context.Context, src *url.URL, w io.Writer) (int64, error)
}

// AssetFetcher makes sure one optional file exists. It never aborts a run.
type AssetFetcher struct {
	// Downloaders are keyed by URL scheme.
	Downloaders map[string]Downloader
	// SHA256 is the expected hex digest; empty disables the check.
	SHA256 string
}

// Ensure returns Present when dest already exists, Downloaded after a
// successful fetch and Degraded otherwise. The error explains a Degraded
// outcome and is never fatal. No partial file is left at dest.
func (f *AssetFetcher) Ensure(ctx context.Context, dest, source string) (api.AssetState, error) {
	if _, err := os.Stat(dest); err == nil {
		log.Info().Str("step", "asset").Str("path", dest).Msg("Asset already present")
		return api.AssetPresent, nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return f.degrade(dest, fmt.Errorf("parse source: %w", err))
	}
	d, ok := f.Downloaders[u.Scheme]
	if !ok {
		return f.degrade(dest, fmt.Errorf("no downloader for scheme %q", u.Scheme))
	}

	dir := filepath.Dir(dest)
	createdDir := false
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return f.degrade(dest, fmt.Errorf("create directory: %w", err))
		}
		createdDir = true
	}

	n, err := f.download(ctx, d, u, dest)
	if err != nil {
		if createdDir {
			// only succeeds while the directory is still empty
			_ = os.Remove(dir)
		}
		return f.degrade(dest, err)
	}
	log.Info().
		Str("step", "asset").
		Str("path", dest).
		Str("size", humanize.Bytes(uint64(n))).
		Msg("Asset downloaded")
	return api.AssetDownloaded, nil
}

func (f *AssetFetcher) download(ctx context.Context, d Downloader, u *url.URL, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	hasher := sha256.New()
	n, err := d.Download(ctx, u, io.MultiWriter(tmp, hasher))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("download %s: %w", u.Redacted(), err)
	}
	if n == 0 {
		return 0, fmt.Errorf("download %s: empty response", u.Redacted())
	}
	if f.SHA256 != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(sum, f.SHA256) {
			return n, fmt.Errorf("checksum mismatch: expected %s, got %s", f.SHA256, sum)
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return n, fmt.Errorf("move into place: %w", err)
	}
	keep = true
	return n, nil
}

func (f *AssetFetcher) degrade(dest string, err error) (api.AssetState, error) {
	log.Warn().Err(err).Str("step", "asset").Str("path", dest).Msg("Asset unavailable, continuing without it")
	return api.AssetDegraded, err
}

// SeedCompanions copies the named model files from the tool's own tessdata
// directory into assetDir when they are missing there. The application reads
// every model from assetDir once it exists, so the defaults must live there
// too. Failures are logged and counted as not seeded.
func SeedCompanions(assetDir, toolPath string, names []string) int {
	if fi, err := os.Stat(assetDir); err != nil || !fi.IsDir() {
		return 0
	}
	srcDir := filepath.Join(filepath.Dir(toolPath), "tessdata")
	seeded := 0
	for _, name := range names {
		dst := filepath.Join(assetDir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, name), dst); err != nil {
			log.Warn().Err(err).Str("step", "asset").Str("file", name).Msg("Could not seed companion model")
			continue
		}
		log.Info().Str("step", "asset").Str("file", name).Msg("Companion model seeded")
		seeded++
	}
	return seeded
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
