package core

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Profile is everything a provisioning run needs to know about the machine
// and the application it prepares.
type Profile struct {
	App            AppConfig            `yaml:"app" toml:"app"`
	Runtime        DependencyConfig     `yaml:"runtime" toml:"runtime"`
	Tool           DependencyConfig     `yaml:"tool" toml:"tool"`
	Asset          AssetConfig          `yaml:"asset" toml:"asset"`
	Secret         SecretConfig         `yaml:"secret" toml:"secret"`
	PackageManager PackageManagerConfig `yaml:"package_manager" toml:"package_manager"`
	Mirror         MirrorConfig         `yaml:"mirror" toml:"mirror"`
	Journal        JournalConfig        `yaml:"journal" toml:"journal"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" toml:"telemetry"`
}

type AppConfig struct {
	Manifest   string `yaml:"manifest" toml:"manifest"`
	ConfigFile string `yaml:"config_file" toml:"config_file"`
	// Launcher defaults to start.bat on Windows and start.sh elsewhere.
	Launcher string `yaml:"launcher" toml:"launcher"`
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
	Module   string `yaml:"module" toml:"module"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
}

// DependencyConfig describes one binary the application shells out to.
type DependencyConfig struct {
	Name       string   `yaml:"name" toml:"name"`
	Candidates []string `yaml:"candidates" toml:"candidates"`
	Major      int      `yaml:"major" toml:"major"`
	MinMinor   int      `yaml:"min_minor" toml:"min_minor"`
	PackageID  string   `yaml:"package_id" toml:"package_id"`
	Fallback   string   `yaml:"fallback" toml:"fallback"`
	ManualURL  string   `yaml:"manual_url" toml:"manual_url"`
}

type AssetConfig struct {
	Skip       bool     `yaml:"skip" toml:"skip"`
	URL        string   `yaml:"url" toml:"url"`
	Dest       string   `yaml:"dest" toml:"dest"`
	SHA256     string   `yaml:"sha256" toml:"sha256"`
	Companions []string `yaml:"companions" toml:"companions"`
}

type SecretConfig struct {
	Default string `yaml:"default" toml:"default"`
}

type PackageManagerConfig struct {
	Name           string        `yaml:"name" toml:"name"`
	InstallTimeout time.Duration `yaml:"install_timeout" toml:"install_timeout"`
}

// MirrorConfig holds credentials for sftp:// asset sources.
type MirrorConfig struct {
	User       string        `yaml:"user" toml:"user"`
	KeyPath    string        `yaml:"key_path" toml:"key_path"`
	KnownHosts string        `yaml:"known_hosts" toml:"known_hosts"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`
}

type JournalConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled"`
	Path     string `yaml:"path" toml:"path"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
}

// DefaultProfile returns the built-in profile for the calendar application.
func DefaultProfile() Profile {
	return Profile{
		App: AppConfig{
			Manifest:   "requirements.txt",
			ConfigFile: ".env",
			DataDir:    "uploads",
			Module:     "main:app",
			Host:       "0.0.0.0",
			Port:       8000,
		},
		Runtime: DependencyConfig{
			Name: "python",
			Candidates: []string{
				`${LOCALAPPDATA}\Programs\Python\Python313\python.exe`,
				`${LOCALAPPDATA}\Programs\Python\Python312\python.exe`,
				`${LOCALAPPDATA}\Programs\Python\Python311\python.exe`,
				`${LOCALAPPDATA}\Programs\Python\Python310\python.exe`,
				`${ProgramFiles}\Python313\python.exe`,
				`${ProgramFiles}\Python312\python.exe`,
				`${ProgramFiles}\Python311\python.exe`,
				`${ProgramFiles}\Python310\python.exe`,
				"python",
				"python3",
			},
			Major:     3,
			MinMinor:  10,
			PackageID: "Python.Python.3.12",
			// where a machine-scope winget install of PackageID lands
			Fallback:  `${ProgramFiles}\Python312\python.exe`,
			ManualURL: "https://www.python.org/downloads/",
		},
		Tool: DependencyConfig{
			Name: "tesseract",
			Candidates: []string{
				`C:\Program Files\Tesseract-OCR\tesseract.exe`,
				`C:\Program Files (x86)\Tesseract-OCR\tesseract.exe`,
				"tesseract",
			},
			PackageID: "UB-Mannheim.TesseractOCR",
			Fallback:  `C:\Program Files\Tesseract-OCR\tesseract.exe`,
			ManualURL: "https://github.com/UB-Mannheim/tesseract/wiki",
		},
		Asset: AssetConfig{
			URL:        "https://github.com/tesseract-ocr/tessdata_best/raw/main/ron.traineddata",
			Dest:       "~/.tessdata/ron.traineddata",
			Companions: []string{"eng.traineddata", "osd.traineddata"},
		},
		Secret: SecretConfig{Default: "admin123"},
		PackageManager: PackageManagerConfig{
			Name:           "winget",
			InstallTimeout: 30 * time.Minute,
		},
		Mirror: MirrorConfig{Timeout: 30 * time.Second},
	}
}

// LoadProfile overlays the file at path onto DefaultProfile. The format is
// chosen by extension: .yaml/.yml or .toml. An empty path yields the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read profile: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &p)
		case ".toml":
			err = toml.Unmarshal(content, &p)
		default:
			return p, fmt.Errorf("profile %s: unsupported format (want .yaml, .yml or .toml)", path)
		}
		if err != nil {
			return p, fmt.Errorf("parse profile: %w", err)
		}
	}
	p.expand()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandVars replaces ${NAME} with the environment value. Unset variables
// are left as written so the candidate simply fails to resolve.
func expandVars(s string) string {
	return varRef.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := os.LookupEnv(m[2 : len(m)-1]); ok {
			return v
		}
		return m
	})
}

func expandHome(s string) string {
	if s != "~" && !strings.HasPrefix(s, "~/") && !strings.HasPrefix(s, `~\`) {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return s
	}
	return filepath.Join(home, s[1:])
}

func (p *Profile) expand() {
	for _, d := range []*DependencyConfig{&p.Runtime, &p.Tool} {
		for i, c := range d.Candidates {
			d.Candidates[i] = expandVars(c)
		}
		d.Fallback = expandVars(d.Fallback)
	}
	p.Asset.URL = expandVars(p.Asset.URL)
	p.Asset.Dest = expandHome(expandVars(p.Asset.Dest))
	p.Mirror.User = expandVars(p.Mirror.User)
	p.Mirror.KeyPath = expandHome(expandVars(p.Mirror.KeyPath))
	p.Mirror.KnownHosts = expandHome(expandVars(p.Mirror.KnownHosts))
	p.Journal.Path = expandHome(expandVars(p.Journal.Path))
	p.Telemetry.OTLPEndpoint = expandVars(p.Telemetry.OTLPEndpoint)
}

// ValidationError reports a profile field that cannot be used.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// Validate checks the profile before any step runs.
func (p Profile) Validate() error {
	if p.App.Manifest == "" {
		return ValidationError{Field: "app.manifest", Message: "manifest file name is required"}
	}
	if p.App.ConfigFile == "" {
		return ValidationError{Field: "app.config_file", Message: "config file name is required"}
	}
	if p.App.Module == "" || p.App.Host == "" {
		return ValidationError{Field: "app.module", Value: p.App.Module, Message: "launch module and host are required"}
	}
	if p.App.Port <= 0 || p.App.Port > 65535 {
		return ValidationError{Field: "app.port", Value: fmt.Sprintf("%d", p.App.Port), Message: "port must be between 1 and 65535"}
	}
	for _, d := range []struct {
		section string
		cfg     DependencyConfig
	}{{"runtime", p.Runtime}, {"tool", p.Tool}} {
		if err := d.cfg.validate(d.section); err != nil {
			return err
		}
	}
	if p.PackageManager.Name == "" {
		return ValidationError{Field: "package_manager.name", Message: "package manager is required"}
	}
	if p.PackageManager.InstallTimeout <= 0 {
		return ValidationError{Field: "package_manager.install_timeout", Value: p.PackageManager.InstallTimeout.String(), Message: "timeout must be positive"}
	}
	if p.Secret.Default == "" {
		return ValidationError{Field: "secret.default", Message: "default secret must not be empty"}
	}
	if !p.Asset.Skip {
		if err := p.validateAsset(); err != nil {
			return err
		}
	}
	return nil
}

func (d DependencyConfig) validate(section string) error {
	if d.Name == "" {
		return ValidationError{Field: section + ".name", Message: "name is required"}
	}
	if len(d.Candidates) == 0 {
		return ValidationError{Field: section + ".candidates", Message: "at least one candidate is required"}
	}
	if d.Major < 0 || d.MinMinor < 0 {
		return ValidationError{Field: section + ".min_minor", Value: fmt.Sprintf("%d.%d", d.Major, d.MinMinor), Message: "version floor must not be negative"}
	}
	if d.PackageID == "" {
		return ValidationError{Field: section + ".package_id", Message: "package id is required"}
	}
	if d.Fallback == "" {
		return ValidationError{Field: section + ".fallback", Message: "fallback identifier is required"}
	}
	return nil
}

func (p Profile) validateAsset() error {
	if p.Asset.Dest == "" {
		return ValidationError{Field: "asset.dest", Message: "destination is required"}
	}
	u, err := url.Parse(p.Asset.URL)
	if err != nil {
		return ValidationError{Field: "asset.url", Value: p.Asset.URL, Message: err.Error()}
	}
	switch u.Scheme {
	case "http", "https":
	case "sftp":
		if p.Mirror.KeyPath == "" || p.Mirror.KnownHosts == "" {
			return ValidationError{Field: "mirror", Value: u.Host, Message: "sftp sources need mirror.key_path and mirror.known_hosts"}
		}
	default:
		return ValidationError{Field: "asset.url", Value: p.Asset.URL, Message: "scheme must be http, https or sftp"}
	}
	if p.Asset.SHA256 != "" && !sha256Hex.MatchString(p.Asset.SHA256) {
		return ValidationError{Field: "asset.sha256", Value: p.Asset.SHA256, Message: "expected 64 hex characters"}
	}
	return nil
}

var sha256Hex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Paths are the files a run reads or writes inside the application directory.
type Paths struct {
	AppDir   string
	Manifest string
	Config   string
	Launcher string
	DataDir  string
	StateDir string
	Lock     string
	Journal  string
}

// Paths resolves the profile's file names against appDir.
func (p Profile) Paths(appDir string) Paths {
	launcher := p.App.Launcher
	if launcher == "" {
		launcher = "start.sh"
		if runtime.GOOS == "windows" {
			launcher = "start.bat"
		}
	}
	state := filepath.Join(appDir, ".calprov")
	journal := p.Journal.Path
	if journal == "" {
		journal = filepath.Join(state, "journal.db")
	}
	return Paths{
		AppDir:   appDir,
		Manifest: filepath.Join(appDir, p.App.Manifest),
		Config:   filepath.Join(appDir, p.App.ConfigFile),
		Launcher: filepath.Join(appDir, launcher),
		DataDir:  filepath.Join(appDir, p.App.DataDir),
		StateDir: state,
		Lock:     filepath.Join(state, "run.lock"),
		Journal:  journal,
	}
}
