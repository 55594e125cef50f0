// Package config loads and validates adapter configuration from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/conduitmsg/conduit/pkg/models"
)

// Config is the root configuration for one adapter process.
type Config struct {
	Adapter     AdapterConfig     `yaml:"adapter"`
	Transport   TransportConfig   `yaml:"transport"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Caching     CachingConfig     `yaml:"caching"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	TextFile    TextFileConfig    `yaml:"textfile"`
	Shell       ShellConfig       `yaml:"shell"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AdapterConfig identifies the adapter and bounds its core behavior.
type AdapterConfig struct {
	AdapterType models.AdapterType `yaml:"adapter_type"`
	AdapterID   string             `yaml:"adapter_id"`
	AdapterName string             `yaml:"adapter_name"`

	// Credentials for the upstream platform. Which fields apply depends on
	// the adapter type.
	BotToken   string `yaml:"bot_token"`
	AppToken   string `yaml:"app_token"`
	Email      string `yaml:"email"`
	APIKey     string `yaml:"api_key"`
	SiteURL    string `yaml:"site_url"`
	WebhookURL string `yaml:"webhook_url"`

	MaxMessageLength        int           `yaml:"max_message_length"`
	MaxHistoryLimit         int           `yaml:"max_history_limit"`
	MaxPaginationIterations int           `yaml:"max_pagination_iterations"`
	CacheFetchedHistory     bool          `yaml:"cache_fetched_history"`
	ConnectionCheckInterval time.Duration `yaml:"connection_check_interval"`
	MaxReconnectAttempts    int           `yaml:"max_reconnect_attempts"`
}

// Validate applies defaults and checks required fields.
func (c *AdapterConfig) Validate() error {
	if c.AdapterType == "" {
		return fmt.Errorf("adapter.adapter_type is required")
	}
	if c.AdapterID == "" {
		return fmt.Errorf("adapter.adapter_id is required")
	}
	if c.AdapterName == "" {
		c.AdapterName = string(c.AdapterType)
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 4000
	}
	if c.MaxHistoryLimit <= 0 {
		c.MaxHistoryLimit = 100
	}
	if c.MaxPaginationIterations <= 0 {
		c.MaxPaginationIterations = 5
	}
	if c.ConnectionCheckInterval <= 0 {
		c.ConnectionCheckInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	return nil
}

// TransportConfig configures the controller-side socket.io connection.
type TransportConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	EmitBuffer     int           `yaml:"emit_buffer"`
}

// Validate applies defaults and checks required fields.
func (c *TransportConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("transport.url is required")
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.EmitBuffer <= 0 {
		c.EmitBuffer = 256
	}
	return nil
}

// BucketConfig is the three-window threshold set for one operation bucket.
// Zero thresholds mean the window is unlimited.
type BucketConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
}

// RateLimitConfig maps operation names to bucket thresholds. The "global"
// bucket, when present, applies to every operation in addition to its own.
type RateLimitConfig map[string]BucketConfig

// Bucket returns the configured thresholds for an operation, falling back to
// a permissive default.
func (c RateLimitConfig) Bucket(op string) BucketConfig {
	if b, ok := c[op]; ok {
		return b
	}
	return BucketConfig{RequestsPerSecond: 10, RequestsPerMinute: 300, RequestsPerHour: 10000}
}

// CachingConfig bounds the in-memory caches.
type CachingConfig struct {
	MaxMessagesPerConversation int           `yaml:"max_messages_per_conversation"`
	MaxTotalMessages           int           `yaml:"max_total_messages"`
	MaxAgeHours                int           `yaml:"max_age_hours"`
	MaintenanceInterval        time.Duration `yaml:"maintenance_interval"`
}

// Validate applies defaults.
func (c *CachingConfig) Validate() error {
	if c.MaxMessagesPerConversation <= 0 {
		c.MaxMessagesPerConversation = 100
	}
	if c.MaxTotalMessages <= 0 {
		c.MaxTotalMessages = 1000
	}
	if c.MaxAgeHours <= 0 {
		c.MaxAgeHours = 24
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 5 * time.Minute
	}
	return nil
}

// MaxAge returns the age cutoff as a duration.
func (c CachingConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// AttachmentsConfig configures the attachment pipeline.
type AttachmentsConfig struct {
	StorageDir               string `yaml:"storage_dir"`
	MaxFileSizeMB            int    `yaml:"max_file_size_mb"`
	LargeFileThresholdMB     int    `yaml:"large_file_threshold_mb"`
	MaxAttachmentsPerMessage int    `yaml:"max_attachments_per_message"`
}

// Validate applies defaults and checks required fields.
func (c *AttachmentsConfig) Validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("attachments.storage_dir is required")
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 50
	}
	if c.LargeFileThresholdMB <= 0 {
		c.LargeFileThresholdMB = 10
	}
	if c.MaxAttachmentsPerMessage <= 0 {
		c.MaxAttachmentsPerMessage = 10
	}
	return nil
}

// SecurityMode gates which files the textfile adapter may touch.
type SecurityMode string

const (
	SecurityStrict       SecurityMode = "strict"
	SecurityPermissive   SecurityMode = "permissive"
	SecurityUnrestricted SecurityMode = "unrestricted"
)

// TextFileConfig configures the file pseudo-platform.
type TextFileConfig struct {
	BaseDirectory        string       `yaml:"base_directory"`
	BackupDirectory      string       `yaml:"backup_directory"`
	EventTTLHours        int          `yaml:"event_ttl_hours"`
	CleanupIntervalHours int          `yaml:"cleanup_interval_hours"`
	MaxEventsPerFile     int          `yaml:"max_events_per_file"`
	MaxFileSize          int64        `yaml:"max_file_size"`
	MaxTokenCount        int          `yaml:"max_token_count"`
	SecurityMode         SecurityMode `yaml:"security_mode"`
	AllowedExtensions    []string     `yaml:"allowed_extensions"`
	BlockedExtensions    []string     `yaml:"blocked_extensions"`
}

// Validate applies defaults.
func (c *TextFileConfig) Validate() error {
	if c.BaseDirectory == "" {
		return fmt.Errorf("textfile.base_directory is required")
	}
	if c.BackupDirectory == "" {
		return fmt.Errorf("textfile.backup_directory is required")
	}
	if c.EventTTLHours <= 0 {
		c.EventTTLHours = 24
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = 1
	}
	if c.MaxEventsPerFile <= 0 {
		c.MaxEventsPerFile = 10
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 5 << 20
	}
	if c.MaxTokenCount <= 0 {
		c.MaxTokenCount = 50000
	}
	if c.SecurityMode == "" {
		c.SecurityMode = SecurityStrict
	}
	switch c.SecurityMode {
	case SecurityStrict, SecurityPermissive, SecurityUnrestricted:
	default:
		return fmt.Errorf("textfile.security_mode %q is not one of strict, permissive, unrestricted", c.SecurityMode)
	}
	return nil
}

// ShellConfig configures the shell pseudo-platform.
type ShellConfig struct {
	WorkspaceDirectory string        `yaml:"workspace_directory"`
	SessionMaxLifetime time.Duration `yaml:"session_max_lifetime"`
	CommandMaxLifetime time.Duration `yaml:"command_max_lifetime"`
	CPUPercentLimit    float64       `yaml:"cpu_percent_limit"`
	MemoryMBLimit      uint64        `yaml:"memory_mb_limit"`
	MaxOutputSize      int           `yaml:"max_output_size"`
	BeginOutputSize    int           `yaml:"begin_output_size"`
	EndOutputSize      int           `yaml:"end_output_size"`
}

// Validate applies defaults.
func (c *ShellConfig) Validate() error {
	if c.WorkspaceDirectory == "" {
		return fmt.Errorf("shell.workspace_directory is required")
	}
	if c.SessionMaxLifetime <= 0 {
		c.SessionMaxLifetime = 30 * time.Minute
	}
	if c.CommandMaxLifetime <= 0 {
		c.CommandMaxLifetime = 2 * time.Minute
	}
	if c.CPUPercentLimit <= 0 {
		c.CPUPercentLimit = 90
	}
	if c.MemoryMBLimit == 0 {
		c.MemoryMBLimit = 1024
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = 64 << 10
	}
	if c.BeginOutputSize <= 0 || c.BeginOutputSize+c.EndOutputSize > c.MaxOutputSize {
		c.BeginOutputSize = c.MaxOutputSize / 2
	}
	if c.EndOutputSize <= 0 {
		c.EndOutputSize = c.MaxOutputSize / 4
	}
	return nil
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate applies defaults.
func (c *LoggingConfig) Validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	return nil
}

// Validate validates every section relevant to the configured adapter type.
func (c *Config) Validate() error {
	if err := c.Adapter.Validate(); err != nil {
		return err
	}
	if err := c.Caching.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	switch c.Adapter.AdapterType {
	case models.AdapterTextFile:
		if err := c.TextFile.Validate(); err != nil {
			return err
		}
	case models.AdapterShell:
		if err := c.Shell.Validate(); err != nil {
			return err
		}
	default:
		if err := c.Attachments.Validate(); err != nil {
			return err
		}
	}
	return c.Transport.Validate()
}
