// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/parser"
	"github.com/JakeFAU/result-harvester/internal/portal"
	"github.com/JakeFAU/result-harvester/internal/table"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_STORE_PATH.
const EnvPrefix = "HARVESTER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Portal  PortalConfig  `mapstructure:"portal"`
	Browser BrowserConfig `mapstructure:"browser"`
	Captcha CaptchaConfig `mapstructure:"captcha"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Store   StoreConfig   `mapstructure:"store"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PortalConfig drives the form submission state machine.
type PortalConfig struct {
	URL               string          `mapstructure:"url"`
	MaxAttempts       int             `mapstructure:"max_attempts"`
	PreSubmitDelay    time.Duration   `mapstructure:"pre_submit_delay"`
	ObservationWindow time.Duration   `mapstructure:"observation_window"`
	Elements          portal.Elements `mapstructure:"elements"`
}

// BrowserConfig controls the Chrome instances.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
	ExecPath    string        `mapstructure:"exec_path"`
	UserAgent   string        `mapstructure:"user_agent"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// CaptchaConfig configures recognition and image download.
type CaptchaConfig struct {
	Language        string        `mapstructure:"language"`
	TessdataPrefix  string        `mapstructure:"tessdata_prefix"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxImageBytes   int           `mapstructure:"max_image_bytes"`
}

// ParserConfig locates record fields in the result page.
type ParserConfig struct {
	TableClass string        `mapstructure:"table_class"`
	Fields     parser.Fields `mapstructure:"fields"`
}

// BatchConfig is the default identifier range and form selection. CLI flags
// override it.
type BatchConfig struct {
	Prefix        string  `mapstructure:"prefix"`
	Start         int     `mapstructure:"start"`
	End           int     `mapstructure:"end"`
	Width         int     `mapstructure:"width"`
	Program       int     `mapstructure:"program"`
	Semester      string  `mapstructure:"semester"`
	Grading       bool    `mapstructure:"grading"`
	RatePerMinute float64 `mapstructure:"rate_per_minute"`
	Burst         int     `mapstructure:"burst"`
}

// CacheConfig locates the single-document cache.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// ArchiveConfig optionally keeps every accepted document.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// StoreConfig locates the result workbook.
type StoreConfig struct {
	Path           string `mapstructure:"path"`
	Sheet          string `mapstructure:"sheet"`
	Title          string `mapstructure:"title"`
	NotFoundPolicy string `mapstructure:"not_found_policy"`
}

// MirrorConfig enables the Postgres copy of merged rows and run history.
type MirrorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// MetricsConfig exposes /metrics while a batch runs.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.url", portal.DefaultURL)
	v.SetDefault("portal.max_attempts", 3)
	v.SetDefault("portal.pre_submit_delay", "3s")
	v.SetDefault("portal.observation_window", "500ms")
	el := portal.DefaultElements()
	v.SetDefault("portal.elements.program_option_prefix", el.ProgramOptionPrefix)
	v.SetDefault("portal.elements.identifier", el.Identifier)
	v.SetDefault("portal.elements.semester", el.Semester)
	v.SetDefault("portal.elements.grading", el.Grading)
	v.SetDefault("portal.elements.non_grading", el.NonGrading)
	v.SetDefault("portal.elements.captcha_image", el.CaptchaImage)
	v.SetDefault("portal.elements.captcha_input", el.CaptchaInput)
	v.SetDefault("portal.elements.submit", el.Submit)
	v.SetDefault("portal.elements.result_marker", el.ResultMarker)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.wait_timeout", "20s")

	v.SetDefault("captcha.language", "eng")
	v.SetDefault("captcha.download_timeout", "10s")
	v.SetDefault("captcha.max_image_bytes", 1<<20)

	f := parser.DefaultFields()
	v.SetDefault("parser.table_class", parser.DefaultTableClass)
	v.SetDefault("parser.fields.name", f.Name)
	v.SetDefault("parser.fields.roll", f.Roll)
	v.SetDefault("parser.fields.program", f.Program)
	v.SetDefault("parser.fields.branch", f.Branch)
	v.SetDefault("parser.fields.semester", f.Semester)
	v.SetDefault("parser.fields.status", f.Status)
	v.SetDefault("parser.fields.session", f.Session)
	v.SetDefault("parser.fields.result_description", f.ResultDescription)
	v.SetDefault("parser.fields.sgpa", f.SGPA)
	v.SetDefault("parser.fields.cgpa", f.CGPA)

	v.SetDefault("batch.width", 3)
	v.SetDefault("batch.program", 1)
	v.SetDefault("batch.semester", "1")
	v.SetDefault("batch.grading", true)
	v.SetDefault("batch.rate_per_minute", 0)
	v.SetDefault("batch.burst", 1)

	v.SetDefault("cache.path", "result.html")

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.prefix", "results")

	v.SetDefault("store.path", "RGPV_Result.xlsx")
	v.SetDefault("store.sheet", table.DefaultSheet)
	v.SetDefault("store.title", table.DefaultTitle)
	v.SetDefault("store.not_found_policy", string(table.NotFoundSkip))

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.table", "student_results")
	v.SetDefault("mirror.max_conns", 4)
	v.SetDefault("mirror.max_conn_lifetime", "30m")
	v.SetDefault("mirror.ensure_schema", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Portal.MaxAttempts <= 0 {
		return fmt.Errorf("portal.max_attempts must be > 0")
	}
	if c.Portal.PreSubmitDelay < 0 {
		return fmt.Errorf("portal.pre_submit_delay must be >= 0")
	}
	if c.Browser.WaitTimeout <= 0 {
		return fmt.Errorf("browser.wait_timeout must be > 0")
	}
	if c.Batch.Width < 0 {
		return fmt.Errorf("batch.width must be >= 0")
	}
	if c.Batch.Program < 1 {
		return fmt.Errorf("batch.program must be >= 1")
	}
	if c.Batch.RatePerMinute < 0 {
		return fmt.Errorf("batch.rate_per_minute must be >= 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if !table.NotFoundPolicy(c.Store.NotFoundPolicy).Valid() {
		return fmt.Errorf("store.not_found_policy must be %q or %q", table.NotFoundSkip, table.NotFoundWrite)
	}
	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, local, gcs")
	}
	if c.Mirror.Enabled && c.Mirror.DSN == "" {
		return fmt.Errorf("mirror.dsn must be set when the mirror is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// Range returns the configured identifier range.
func (c Config) Range() harvest.Range {
	return harvest.Range{
		Prefix: c.Batch.Prefix,
		Start:  c.Batch.Start,
		End:    c.Batch.End,
		Width:  c.Batch.Width,
	}
}

// Selection returns the configured form choices.
func (c Config) Selection() harvest.Selection {
	return harvest.Selection{
		Program:  c.Batch.Program,
		Semester: c.Batch.Semester,
		Grading:  c.Batch.Grading,
	}
}
