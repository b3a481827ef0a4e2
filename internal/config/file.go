package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when DISPATCHER_CONFIG is not set.
const DefaultConfigPath = "dispatcher.yaml"

var (
	// ErrCheckNameEmpty is returned for a check entry without a name.
	ErrCheckNameEmpty = errors.New("check name cannot be empty")
	// ErrDuplicateCheckName is returned when two check entries share a name.
	ErrDuplicateCheckName = errors.New("duplicate check name")
	// ErrUnknownCheckType is returned for a check type without a probe implementation.
	ErrUnknownCheckType = errors.New("unknown check type")
)

type (
	// File is the YAML configuration read by the dispatcher CLI.
	//
	// Example:
	//
	//	schedule: "@every 5m"
	//	checks:
	//	  - name: diskSpaceCheck
	//	    type: disk
	//	    path: /
	//	    threshold: 90
	//	transports:
	//	  webhook:
	//	    url: https://hooks.example.com/alerts
	//	    auth_token: ${WEBHOOK_TOKEN}
	File struct {
		Schedule   string           `yaml:"schedule"`
		Checks     []CheckConfig    `yaml:"checks"`
		Transports TransportsConfig `yaml:"transports"`
	}

	// CheckConfig declares one built-in probe.
	CheckConfig struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"` // disk | memory | http | tcp

		// disk, memory
		Path      string  `yaml:"path,omitempty"`
		Threshold float64 `yaml:"threshold,omitempty"` // percent used

		// http
		URL          string `yaml:"url,omitempty"`
		ExpectStatus int    `yaml:"expect_status,omitempty"`

		// tcp
		Address string `yaml:"address,omitempty"`

		Timeout time.Duration `yaml:"timeout,omitempty"`
	}

	// TransportsConfig enables zero or more notification transports.
	// Nil sections are disabled.
	TransportsConfig struct {
		SMTP     *SMTPConfig     `yaml:"smtp,omitempty"`
		Webhook  *WebhookConfig  `yaml:"webhook,omitempty"`
		Kafka    *KafkaConfig    `yaml:"kafka,omitempty"`
		Telegram *TelegramConfig `yaml:"telegram,omitempty"`
		Log      bool            `yaml:"log,omitempty"`
	}

	// SMTPConfig configures email delivery.
	SMTPConfig struct {
		Host     string        `yaml:"host"`
		Port     int           `yaml:"port"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		From     string        `yaml:"from"`
		To       []string      `yaml:"to"`
		UseTLS   bool          `yaml:"use_tls"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	// WebhookConfig configures JSON POST delivery.
	WebhookConfig struct {
		URL                string        `yaml:"url"`
		AuthToken          string        `yaml:"auth_token"`
		Timeout            time.Duration `yaml:"timeout"`
		RatePerMinute      int           `yaml:"rate_per_minute"`
		MaxRetries         int           `yaml:"max_retries"`
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	}

	// KafkaConfig configures publishing notifications to a topic.
	KafkaConfig struct {
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	}

	// TelegramConfig configures delivery to a Telegram chat.
	TelegramConfig struct {
		Token    string `yaml:"token"`
		ChatID   int64  `yaml:"chat_id"`
		ThreadID int    `yaml:"thread_id"`
		APIURL   string `yaml:"api_url"`
	}
)

// LoadFile reads and validates the YAML configuration at path.
// ${VAR} references are expanded from the environment before parsing, so secrets can stay
// out of the file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return ParseFile(raw)
}

// ParseFile parses and validates YAML configuration bytes.
func ParseFile(raw []byte) (*File, error) {
	expanded := os.ExpandEnv(string(raw))

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}

	return &file, nil
}

// Validate checks check names and types. Transport sections are validated by the
// transports themselves when they are built.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Checks))

	for i, check := range f.Checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return fmt.Errorf("%w: checks[%d]", ErrCheckNameEmpty, i)
		}

		if seen[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateCheckName, name)
		}

		seen[name] = true

		switch check.Type {
		case "disk", "memory", "http", "tcp":
		default:
			return fmt.Errorf("%w: %q (check %s)", ErrUnknownCheckType, check.Type, name)
		}
	}

	return nil
}
