// Package config provides configuration handling for microTCP endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irctrakz/microtcp/pkg/logging"
)

// Config represents the complete endpoint configuration.
type Config struct {
	// Protocol contains the protocol tuning parameters.
	Protocol ProtocolConfig `json:"protocol" yaml:"protocol"`

	// Transport contains the UDP substrate configuration.
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ProtocolConfig contains the protocol tuning parameters. The defaults are
// the fixed microTCP values; harnesses may tighten them.
type ProtocolConfig struct {
	// MSS is the maximum segment payload size in bytes.
	MSS int `json:"mss" yaml:"mss"`

	// AckTimeoutMS is the acknowledgment timeout in milliseconds.
	AckTimeoutMS int `json:"ackTimeoutMS" yaml:"ackTimeoutMS"`

	// WindowSize is the receive buffer capacity and the advertised window
	// in bytes.
	WindowSize int `json:"windowSize" yaml:"windowSize"`

	// InitCwndSegments is the initial congestion window in MSS units.
	InitCwndSegments int `json:"initCwndSegments" yaml:"initCwndSegments"`

	// MaxRetries is the retry budget per awaited control segment and per
	// data retransmission.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`
}

// TransportConfig contains configuration for the UDP substrate.
type TransportConfig struct {
	// ListenAddr is the local "host:port" to bind.
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"`

	// TTL is the IP time-to-live for outgoing segments; 0 keeps the OS
	// default.
	TTL int `json:"ttl" yaml:"ttl"`

	// TOS is the IP type-of-service byte for outgoing segments; 0 keeps
	// the OS default.
	TOS int `json:"tos" yaml:"tos"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			MSS:              1400,
			AckTimeoutMS:     200,
			WindowSize:       8192,
			InitCwndSegments: 3,
			MaxRetries:       10,
		},
		Transport: TransportConfig{
			ListenAddr: ":9000",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(config *Config) {
	// Protocol config
	if val := os.Getenv("MICROTCP_MSS"); val != "" {
		if mss, err := strconv.Atoi(val); err == nil {
			config.Protocol.MSS = mss
		}
	}
	if val := os.Getenv("MICROTCP_ACK_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Protocol.AckTimeoutMS = ms
		}
	}
	if val := os.Getenv("MICROTCP_WINDOW_SIZE"); val != "" {
		if w, err := strconv.Atoi(val); err == nil {
			config.Protocol.WindowSize = w
		}
	}
	if val := os.Getenv("MICROTCP_INIT_CWND_SEGMENTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Protocol.InitCwndSegments = n
		}
	}
	if val := os.Getenv("MICROTCP_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Protocol.MaxRetries = n
		}
	}

	// Transport config
	if val := os.Getenv("MICROTCP_LISTEN_ADDR"); val != "" {
		config.Transport.ListenAddr = val
	}
	if val := os.Getenv("MICROTCP_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			config.Transport.TTL = ttl
		}
	}
	if val := os.Getenv("MICROTCP_TOS"); val != "" {
		if tos, err := strconv.Atoi(val); err == nil {
			config.Transport.TOS = tos
		}
	}

	// Logging config
	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("LOGGING_MAX_SIZE"); val != "" {
		if maxSize, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = maxSize
		}
	}
	if val := os.Getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if maxBackups, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = maxBackups
		}
	}
	if val := os.Getenv("LOGGING_MAX_AGE"); val != "" {
		if maxAge, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = maxAge
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Protocol.MSS <= 0 || c.Protocol.MSS > 65495 {
		return fmt.Errorf("invalid MSS: %d", c.Protocol.MSS)
	}
	if c.Protocol.AckTimeoutMS <= 0 {
		return fmt.Errorf("invalid ack timeout: %dms", c.Protocol.AckTimeoutMS)
	}
	if c.Protocol.WindowSize < c.Protocol.MSS {
		return fmt.Errorf("window size %d smaller than MSS %d", c.Protocol.WindowSize, c.Protocol.MSS)
	}
	if c.Protocol.InitCwndSegments <= 0 {
		return fmt.Errorf("invalid initial cwnd: %d segments", c.Protocol.InitCwndSegments)
	}
	if c.Protocol.MaxRetries <= 0 {
		return fmt.Errorf("invalid retry budget: %d", c.Protocol.MaxRetries)
	}

	if c.Transport.TTL < 0 || c.Transport.TTL > 255 {
		return fmt.Errorf("invalid TTL: %d", c.Transport.TTL)
	}
	if c.Transport.TOS < 0 || c.Transport.TOS > 255 {
		return fmt.Errorf("invalid TOS: %d", c.Transport.TOS)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	var level logging.Level
	switch c.Logging.Level {
	case "debug":
		level = logging.DebugLevel
	case "info":
		level = logging.InfoLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	default:
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	// Enable file logging if configured
	if c.Logging.File != "" {
		dir := "."
		filename := c.Logging.File
		if lastSlash := strings.LastIndex(c.Logging.File, "/"); lastSlash != -1 {
			dir = c.Logging.File[:lastSlash]
			filename = c.Logging.File[lastSlash+1:]
		}

		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if lastSlash := strings.LastIndex(path, "/"); lastSlash != -1 {
		if err := os.MkdirAll(path[:lastSlash], 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
