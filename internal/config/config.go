package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"gcodesync/internal/ledger"
	"gcodesync/internal/order"
	"gcodesync/internal/remote"
	"gcodesync/internal/syncer"
)

// Profile names.
const (
	ProfileOrdenes  = "ordenes"
	ProfileDownload = "download"
)

// Environment overrides, applied after the config file.
const (
	EnvServerURL  = "GCODESYNC_SERVER_URL"
	EnvMachineID  = "GCODESYNC_MACHINE_ID"
	EnvStatusAddr = "GCODESYNC_STATUS_ADDR"
)

const (
	defaultServerURL       = "http://18.223.169.118:80"
	defaultPollInterval    = 10 * time.Second
	defaultListTimeout     = 5 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultRetryBackoff    = 2 * time.Second
	defaultDownloadDir     = "gcode_files"
	defaultStatusFile      = "db_status.txt"
	defaultManifestFile    = "downloaded.json"
)

var ErrInvalid = errors.New("invalid config")

// Config describes runtime configuration for the sync client.
type Config struct {
	Profile          string   `yaml:"profile" toml:"profile"`
	ServerURL        string   `yaml:"server_url" toml:"server_url"`
	ListPath         string   `yaml:"list_path" toml:"list_path"`
	DownloadPath     string   `yaml:"download_path" toml:"download_path"`
	MachineID        string   `yaml:"machine_id" toml:"machine_id"`
	PollInterval     Duration `yaml:"poll_interval" toml:"poll_interval"`
	ListTimeout      Duration `yaml:"list_timeout" toml:"list_timeout"`
	DownloadTimeout  Duration `yaml:"download_timeout" toml:"download_timeout"`
	DownloadDir      string   `yaml:"download_dir" toml:"download_dir"`
	StatusFile       string   `yaml:"status_file" toml:"status_file"`
	OrdersFile       string   `yaml:"orders_file" toml:"orders_file"`
	Naming           string   `yaml:"naming" toml:"naming"`
	DefaultFileName  string   `yaml:"default_file_name" toml:"default_file_name"`
	DefaultExtension string   `yaml:"default_extension" toml:"default_extension"`
	Ledger           string   `yaml:"ledger" toml:"ledger"`
	ManifestFile     string   `yaml:"manifest_file" toml:"manifest_file"`
	RetryAttempts    int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryBackoff     Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	StatusAddr       string   `yaml:"status_addr" toml:"status_addr"`
	LogLevel         string   `yaml:"log_level" toml:"log_level"`
}

// Default returns the ordenes profile, the variant deployed on the machines.
func Default() Config {
	cfg, _ := Profile(ProfileOrdenes)
	return cfg
}

// Profile returns the base values of a named deployment variant.
func Profile(name string) (Config, error) {
	cfg := Config{
		ServerURL:       defaultServerURL,
		ListPath:        remote.DefaultListPath,
		PollInterval:    Duration(defaultPollInterval),
		ListTimeout:     Duration(defaultListTimeout),
		DownloadTimeout: Duration(defaultDownloadTimeout),
		DownloadDir:     defaultDownloadDir,
		StatusFile:      defaultStatusFile,
		Ledger:          string(ledger.KindDir),
		RetryAttempts:   1,
		RetryBackoff:    Duration(defaultRetryBackoff),
		LogLevel:        zerolog.InfoLevel.String(),
	}

	switch strings.TrimSpace(name) {
	case ProfileOrdenes, "":
		cfg.Profile = ProfileOrdenes
		cfg.DownloadPath = remote.DefaultDownloadPath
		cfg.MachineID = "cnc1"
		cfg.OrdersFile = "ordenes.json"
		cfg.Naming = string(order.SchemeFile)
	case ProfileDownload:
		cfg.Profile = ProfileDownload
		cfg.DownloadPath = "/api/download/" + remote.IDPlaceholder
		cfg.Naming = string(order.SchemeIDPrefixed)
		cfg.DefaultExtension = ".gcode"
	default:
		return Config{}, fmt.Errorf("%w: unknown profile %q", ErrInvalid, name)
	}
	return cfg, nil
}

// Load reads a YAML or TOML config from path, chosen by extension. A missing
// or empty file yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("empty config path")
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if len(data) > 0 {
		unmarshal, err := decoderFor(path)
		if err != nil {
			return cfg, err
		}

		// profile first so explicit keys override the profile's values
		var head struct {
			Profile string `yaml:"profile" toml:"profile"`
		}
		if err := unmarshal(data, &head); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if cfg, err = Profile(head.Profile); err != nil {
			return cfg, err
		}
		if err := unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment if it exists.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func decoderFor(path string) (func([]byte, any) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Unmarshal, nil
	case ".toml":
		return toml.Unmarshal, nil
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, filepath.Ext(path))
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServerURL); ok && strings.TrimSpace(v) != "" {
		c.ServerURL = v
	}
	// an empty machine id is meaningful: accept every order
	if v, ok := lookup(EnvMachineID); ok {
		c.MachineID = v
	}
	if v, ok := lookup(EnvStatusAddr); ok {
		c.StatusAddr = v
	}
}

func (c *Config) normalize() {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.MachineID = strings.TrimSpace(c.MachineID)
	c.StatusAddr = strings.TrimSpace(c.StatusAddr)
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir
	}
	if c.StatusFile == "" {
		c.StatusFile = defaultStatusFile
	}
	if ext := strings.TrimSpace(c.DefaultExtension); ext != "" && !strings.HasPrefix(ext, ".") {
		c.DefaultExtension = "." + ext
	}
	if ledger.Kind(c.Ledger) == ledger.KindManifest && c.ManifestFile == "" {
		c.ManifestFile = filepath.Join(c.DownloadDir, "."+defaultManifestFile)
	}
	if c.LogLevel == "" {
		c.LogLevel = zerolog.InfoLevel.String()
	}
}

// Validate reports the first invalid option.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server_url %q must be an http(s) URL", ErrInvalid, c.ServerURL)
	}
	if !strings.Contains(c.DownloadPath, remote.IDPlaceholder) {
		return fmt.Errorf("%w: download_path %q must contain %s", ErrInvalid, c.DownloadPath, remote.IDPlaceholder)
	}
	if c.PollInterval <= 0 || c.ListTimeout <= 0 || c.DownloadTimeout <= 0 {
		return fmt.Errorf("%w: poll_interval, list_timeout and download_timeout must be positive", ErrInvalid)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry_attempts %d (must be >= 1)", ErrInvalid, c.RetryAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry_backoff must not be negative", ErrInvalid)
	}
	if _, err := order.ParseScheme(c.Naming); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch ledger.Kind(c.Ledger) {
	case ledger.KindDir, ledger.KindManifest, "":
	default:
		return fmt.Errorf("%w: unknown ledger %q", ErrInvalid, c.Ledger)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return nil
}

// Remote returns the client options.
func (c Config) Remote() remote.Options {
	return remote.Options{
		ServerURL:       c.ServerURL,
		ListPath:        c.ListPath,
		DownloadPath:    c.DownloadPath,
		ListTimeout:     c.ListTimeout.Std(),
		DownloadTimeout: c.DownloadTimeout.Std(),
	}
}

// NamingScheme returns the local naming rules. Call after Validate.
func (c Config) NamingScheme() order.Naming {
	scheme, _ := order.ParseScheme(c.Naming)
	return order.Naming{
		Scheme:           scheme,
		DefaultFileName:  c.DefaultFileName,
		DefaultExtension: c.DefaultExtension,
	}
}

// Syncer returns the sync options.
func (c Config) Syncer() syncer.Options {
	return syncer.Options{
		DownloadDir:  c.DownloadDir,
		OrdersFile:   c.OrdersFile,
		MachineID:    c.MachineID,
		Naming:       c.NamingScheme(),
		PollInterval: c.PollInterval.Std(),
	}
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
