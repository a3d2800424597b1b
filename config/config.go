// Package config loads metacam-ingest's configuration from defaults, an
// optional YAML overlay, and environment variables, in that precedence
// order (later sources win). CLI flags are applied by cmd/ after Load
// returns, since cobra owns flag parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SMTPConfig groups the SMTP notifier's connection settings. Credentials
// (SMTP_PASSWORD) are not read here — pkg/secrets owns credential
// material, and internal/wiring reads the SMTP password from the vault
// when it builds the notifier.
type SMTPConfig struct {
	Host string `yaml:"smtp_host"`
	Port int    `yaml:"smtp_port"`
	User string `yaml:"smtp_user"`
	From string `yaml:"smtp_from"`
	To   string `yaml:"smtp_to"`
}

// Config is the fully resolved runtime configuration for metacam-ingest.
type Config struct {
	// Drive / Sheets external collaborators.
	DriveFolderID      string `yaml:"drive_folder_id"`
	SpreadsheetID      string `yaml:"spreadsheet_id"`
	ServiceAccountFile string `yaml:"service_account_file"`
	SheetName          string `yaml:"sheet_name"`
	BatchWriteSize     int    `yaml:"batch_write_size"`

	// Orchestrator / monitor loop.
	CheckInterval          time.Duration `yaml:"check_interval"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`

	// Filesystem layout.
	DownloadPath   string `yaml:"download_path"`
	ProcessedPath  string `yaml:"processed_path"`
	TempDir        string `yaml:"temp_dir"`
	KeepOriginalData bool `yaml:"keep_original_data"`

	// Archive / drive filtering.
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	DefaultPasswords  []string `yaml:"-"` // sourced from pkg/secrets or DEFAULT_PASSWORDS, never persisted to YAML

	// Downloader.
	DownloadChunkSizeMB int           `yaml:"download_chunk_size_mb"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
	DownloadRetries     int           `yaml:"download_retries"`

	// Logging.
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Processing driver.
	ProcessorsExePath         string        `yaml:"processors_exe_path"`
	ProcessingTimeoutSeconds  int           `yaml:"processing_timeout_seconds"`
	MetaCamCLITimeoutSeconds  int           `yaml:"metacam_cli_timeout_seconds"`
	ProcessingOutputPath      string        `yaml:"processing_output_path"`
	AutoStartProcessing       bool          `yaml:"auto_start_processing"`
	ProcessingRetryAttempts   int           `yaml:"processing_retry_attempts"`
	MetaCamCLIMode            string        `yaml:"metacam_cli_mode"`
	MetaCamCLIColor           bool          `yaml:"metacam_cli_color"`

	// Validation.
	IndoorScaleThresholdM float64 `yaml:"indoor_scale_threshold_m"`

	// Notifications.
	EnableEmailNotifications bool       `yaml:"enable_email_notifications"`
	SMTP                     SMTPConfig `yaml:"smtp"`

	// [EXPANSION] ambient stack.
	TrackerRedisAddr          string `yaml:"tracker_redis_addr"`
	DownloadProgressRedisAddr string `yaml:"download_progress_redis_addr"`
	AuditDSN                  string `yaml:"audit_dsn"`
	MetricsAddr               string `yaml:"metrics_addr"`
	OTELTracingEnabled        bool   `yaml:"otel_tracing_enabled"`

	// ConfigFile records where the YAML overlay was loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns a Config populated with the built-in defaults, before
// any YAML or environment overlay is applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		SheetName:                 "MetaCam Ingest",
		BatchWriteSize:            20,
		CheckInterval:             30 * time.Second,
		MaxConcurrentDownloads:    3,
		DownloadPath:              filepath.Join(home, ".metacam-ingest", "downloads"),
		ProcessedPath:             filepath.Join(home, ".metacam-ingest", "processed"),
		TempDir:                   os.TempDir(),
		KeepOriginalData:          false,
		MaxFileSizeMB:             2048,
		AllowedExtensions:         []string{".zip"},
		DownloadChunkSizeMB:       8,
		DownloadTimeout:           30 * time.Minute,
		DownloadRetries:           3,
		LogLevel:                  "info",
		LogFile:                   "",
		ProcessorsExePath:         "",
		ProcessingTimeoutSeconds:  3600,
		MetaCamCLITimeoutSeconds:  1800,
		ProcessingOutputPath:      "",
		AutoStartProcessing:       true,
		ProcessingRetryAttempts:   1,
		MetaCamCLIMode:            "batch",
		MetaCamCLIColor:           false,
		IndoorScaleThresholdM:     50.0,
		EnableEmailNotifications:  false,
		OTELTracingEnabled:        false,
	}
}

// Load resolves configuration from defaults, an optional YAML file, and
// environment variables, in that order. configFile may be empty, in
// which case only defaults and the environment apply.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
			}
			cfg.ConfigFile = configFile
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str(&cfg.DriveFolderID, "DRIVE_FOLDER_ID")
	str(&cfg.SpreadsheetID, "SPREADSHEET_ID")
	str(&cfg.ServiceAccountFile, "SERVICE_ACCOUNT_FILE")
	str(&cfg.SheetName, "SHEET_NAME")
	intVal(&cfg.BatchWriteSize, "BATCH_WRITE_SIZE")

	durationSeconds(&cfg.CheckInterval, "CHECK_INTERVAL")
	intVal(&cfg.MaxConcurrentDownloads, "MAX_CONCURRENT_DOWNLOADS")

	str(&cfg.DownloadPath, "DOWNLOAD_PATH")
	str(&cfg.ProcessedPath, "PROCESSED_PATH")
	str(&cfg.TempDir, "TEMP_DIR")
	boolVal(&cfg.KeepOriginalData, "KEEP_ORIGINAL_DATA")

	intVal(&cfg.MaxFileSizeMB, "MAX_FILE_SIZE_MB")
	if v := os.Getenv("ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("DEFAULT_PASSWORDS"); v != "" {
		cfg.DefaultPasswords = splitCSV(v)
	}

	intVal(&cfg.DownloadChunkSizeMB, "DOWNLOAD_CHUNK_SIZE_MB")
	durationSeconds(&cfg.DownloadTimeout, "DOWNLOAD_TIMEOUT")
	intVal(&cfg.DownloadRetries, "DOWNLOAD_RETRIES")

	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFile, "LOG_FILE")

	str(&cfg.ProcessorsExePath, "PROCESSORS_EXE_PATH")
	intVal(&cfg.ProcessingTimeoutSeconds, "PROCESSING_TIMEOUT_SECONDS")
	intVal(&cfg.MetaCamCLITimeoutSeconds, "METACAM_CLI_TIMEOUT_SECONDS")
	str(&cfg.ProcessingOutputPath, "PROCESSING_OUTPUT_PATH")
	boolVal(&cfg.AutoStartProcessing, "AUTO_START_PROCESSING")
	intVal(&cfg.ProcessingRetryAttempts, "PROCESSING_RETRY_ATTEMPTS")
	str(&cfg.MetaCamCLIMode, "METACAM_CLI_MODE")
	boolVal(&cfg.MetaCamCLIColor, "METACAM_CLI_COLOR")

	floatVal(&cfg.IndoorScaleThresholdM, "INDOOR_SCALE_THRESHOLD_M")

	boolVal(&cfg.EnableEmailNotifications, "ENABLE_EMAIL_NOTIFICATIONS")
	str(&cfg.SMTP.Host, "SMTP_HOST")
	intVal(&cfg.SMTP.Port, "SMTP_PORT")
	str(&cfg.SMTP.User, "SMTP_USER")
	str(&cfg.SMTP.From, "SMTP_FROM")
	str(&cfg.SMTP.To, "SMTP_TO")

	str(&cfg.TrackerRedisAddr, "TRACKER_REDIS_ADDR")
	str(&cfg.DownloadProgressRedisAddr, "DOWNLOAD_PROGRESS_REDIS_ADDR")
	str(&cfg.AuditDSN, "AUDIT_DSN")
	str(&cfg.MetricsAddr, "METRICS_ADDR")
	boolVal(&cfg.OTELTracingEnabled, "OTEL_TRACING_ENABLED")
}

func str(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVal(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVal(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolVal(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durationSeconds(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing runtime error deep in the pipeline (spec.md §7's
// "configuration invalid" error kind).
func (c *Config) Validate() error {
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max_concurrent_downloads must be positive, got %d", c.MaxConcurrentDownloads)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.DownloadChunkSizeMB <= 0 {
		return fmt.Errorf("download_chunk_size_mb must be positive, got %d", c.DownloadChunkSizeMB)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %s", c.CheckInterval)
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions must not be empty")
	}
	if c.EnableEmailNotifications {
		if c.SMTP.Host == "" || c.SMTP.From == "" || c.SMTP.To == "" {
			return fmt.Errorf("enable_email_notifications is set but smtp host/from/to are incomplete")
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
