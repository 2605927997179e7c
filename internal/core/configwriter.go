package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config artifact keys read by the application.
const (
	KeyAdminPassword = "ADMIN_PASSWORD"
	KeyToolPath      = "TESSERACT_PATH"
)

// ConfigWriter creates the application's config file exactly once.
type ConfigWriter struct {
	Secrets SecretSource
	// EOL defaults to the platform line terminator.
	EOL string
}

// Ensure writes path unless it already exists. It reports whether a file
// was written. An existing file is never read, prompted for or modified.
func (w *ConfigWriter) Ensure(ctx context.Context, path, defaultSecret, toolPath string) (bool, error) {
	if _, err := os.Lstat(path); err == nil {
		log.Info().Str("step", "config").Str("path", path).Msg("Config exists, keeping it")
		return false, nil
	}

	secret, err := w.Secrets.Secret(ctx)
	if err != nil {
		return false, fatal("config", err).WithRemediation("Could not read the admin password.")
	}
	if strings.TrimSpace(secret) == "" {
		secret = defaultSecret
		log.Warn().Str("step", "config").Msg("No admin password given, using the default; change it in the config file")
	}
	if strings.ContainsAny(secret, "\r\n") || strings.ContainsAny(toolPath, "\r\n") {
		return false, fatal("config", errors.New("values must be single-line")).
			WithRemediation("The admin password must not contain line breaks.")
	}

	eol := w.EOL
	if eol == "" {
		eol = platformEOL()
	}
	content := KeyAdminPassword + "=" + secret + eol + KeyToolPath + "=" + toolPath + eol

	written, err := writeNoClobber(path, []byte(content), 0o600)
	if err != nil {
		return false, fatal("config", err).WithRemediation("Could not write %s. Check the directory permissions.", path)
	}
	if written {
		log.Info().Str("step", "config").Str("path", path).Msg("Config written")
	}
	return written, nil
}

// writeNoClobber fills a temp file and hard-links it to path, so readers see
// either nothing or the complete file, and an existing path always wins.
func writeNoClobber(path string, data []byte, perm os.FileMode) (bool, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return false, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link %s: %w", path, err)
	}
	return true, nil
}
