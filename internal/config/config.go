// Package config loads the run configuration from defaults, an optional
// config file, SUMCOMPARE_* environment variables and command-line flags,
// in that order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/internal/errors"
	"github.com/yuya-takeyama/sumcompare/internal/s3client"
	"github.com/yuya-takeyama/sumcompare/pkg/resolver"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nested keys: SUMCOMPARE_BACKUP__S3_URI.
const EnvPrefix = "SUMCOMPARE_"

type BackupConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Dir     string `koanf:"dir" yaml:"dir"`
	S3URI   string `koanf:"s3_uri" yaml:"s3_uri"`
}

type DateFoldersConfig struct {
	Enabled     bool                 `koanf:"enabled" yaml:"enabled"`
	Source      resolver.DateSource  `koanf:"source" yaml:"source"`
	Pattern     resolver.DatePattern `koanf:"pattern" yaml:"pattern"`
	UseMetadata bool                 `koanf:"use_metadata" yaml:"use_metadata"`
}

type ReportConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" yaml:"path"`
}

// Config is the full run configuration. It is not modified after Load.
type Config struct {
	Source        string             `koanf:"source" yaml:"source"`
	Target        string             `koanf:"target" yaml:"target"`
	Algorithm     checksum.Algorithm `koanf:"algorithm" yaml:"algorithm"`
	DryRun        bool               `koanf:"dry_run" yaml:"dry_run"`
	PreserveDates bool               `koanf:"preserve_dates" yaml:"preserve_dates"`
	KeepStructure bool               `koanf:"keep_structure" yaml:"keep_structure"`
	Move          bool               `koanf:"move" yaml:"move"`
	Verify        bool               `koanf:"verify" yaml:"verify"`
	// SelfCheck indexes Source alone and reports the duplicates inside it.
	SelfCheck   bool              `koanf:"self_check" yaml:"self_check"`
	Concurrency int               `koanf:"concurrency" yaml:"concurrency"`
	ScanWorkers int               `koanf:"scan_workers" yaml:"scan_workers"`
	Excludes    []string          `koanf:"exclude" yaml:"exclude"`
	Backup      BackupConfig      `koanf:"backup" yaml:"backup"`
	DateFolders DateFoldersConfig `koanf:"date_folders" yaml:"date_folders"`
	Report      ReportConfig      `koanf:"report" yaml:"report"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":            string(checksum.DefaultAlgorithm),
		"concurrency":          0,
		"scan_workers":         8,
		"date_folders.source":  string(resolver.DateModified),
		"date_folders.pattern": string(resolver.YearMonth),
		"report.path":          "sumcompare-report.db",
	}
}

// LoadOptions selects the optional layers of Load.
type LoadOptions struct {
	// ConfigFile is a .yaml, .yml or .toml file. Empty skips the file layer.
	ConfigFile string
	// Overrides are koanf keys set explicitly on the command line.
	Overrides map[string]interface{}
	// Environ replaces os.Environ for the environment layer when set.
	Environ []string
}

// Load builds a Config from all layers. It does not touch the source or
// target trees; call Validate before starting a run.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load defaults")
	}

	if opts.ConfigFile != "" {
		parser, err := parserFor(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(opts.ConfigFile), parser); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad, "failed to load config from %s", opts.ConfigFile).
				WithDetail("path", opts.ConfigFile)
		}
	}

	if err := loadEnv(k, opts.Environ); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment")
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid, "failed to decode configuration")
	}
	cfg.normalize()
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	}
	return nil, errors.Newf(errors.ErrConfigLoad, "unsupported config file type %q (want .yaml, .yml or .toml)", filepath.Ext(path))
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	if environ == nil {
		return k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	}

	m := map[string]interface{}{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		m[envKey(key)] = value
	}
	return k.Load(confmap.Provider(m, "."), nil)
}

// normalize canonicalizes enum spellings. Unknown values are left alone for
// Validate to report.
func (c *Config) normalize() {
	if a, err := checksum.ParseAlgorithm(string(c.Algorithm)); err == nil {
		c.Algorithm = a
	}
	if s, err := resolver.ParseDateSource(string(c.DateFolders.Source)); err == nil {
		c.DateFolders.Source = s
	}
	if p, err := resolver.ParseDatePattern(string(c.DateFolders.Pattern)); err == nil {
		c.DateFolders.Pattern = p
	}
	if c.SelfCheck && c.Target == "" {
		c.Target = c.Source
	}
}

// Validate checks everything a run needs before any I/O happens: the
// algorithm is known, both roots exist and are directories, and every other
// option is well formed. The error carries the code that decides the exit
// status.
func (c *Config) Validate() error {
	if _, err := checksum.ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}

	if err := validateRoot("source", c.Source); err != nil {
		return err
	}
	if err := validateRoot("target", c.Target); err != nil {
		return err
	}

	if _, err := resolver.ParseDateSource(string(c.DateFolders.Source)); err != nil {
		return errors.Wrap(err, errors.ErrConfigInvalid, "invalid date_folders.source")
	}
	if _, err := resolver.ParseDatePattern(string(c.DateFolders.Pattern)); err != nil {
		return errors.Wrap(err, errors.ErrConfigInvalid, "invalid date_folders.pattern")
	}
	if c.Concurrency < 0 {
		return errors.Newf(errors.ErrConfigInvalid, "concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.ScanWorkers < 0 {
		return errors.Newf(errors.ErrConfigInvalid, "scan_workers must not be negative, got %d", c.ScanWorkers)
	}
	if c.Move && c.DryRun {
		return errors.New(errors.ErrConfigInvalid, "move cannot be combined with dry run")
	}
	if c.Backup.S3URI != "" {
		if _, _, err := s3client.ParseS3URI(c.Backup.S3URI); err != nil {
			return errors.Wrap(err, errors.ErrConfigInvalid, "invalid backup.s3_uri")
		}
	}
	if c.Report.Enabled {
		switch strings.ToLower(filepath.Ext(c.Report.Path)) {
		case ".db", ".sqlite", ".sqlite3", ".json":
		default:
			return errors.Newf(errors.ErrConfigInvalid, "report.path %q must end in .db, .sqlite or .json", c.Report.Path)
		}
	}
	return nil
}

func validateRoot(name, path string) error {
	if path == "" {
		return errors.Newf(errors.ErrRootNotFound, "%s directory is required", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRootNotFound, "%s directory does not exist", name).WithDetail("path", path)
	}
	if !info.IsDir() {
		return errors.Newf(errors.ErrRootNotDir, "%s is not a directory: %s", name, path).WithDetail("path", path)
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
