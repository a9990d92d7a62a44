// Package config loads the service configuration from YAML with environment
// overrides. Components receive the parsed sections through their constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	PayFast   PayFastConfig   `yaml:"payfast"`
	Yoco      YocoConfig      `yaml:"yoco"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Admin     AdminConfig     `yaml:"admin"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Timeout bounds outbound PSP calls.
	Timeout time.Duration `yaml:"timeout"`
	// ReadHeaderTimeout bounds reading inbound request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	// Path is a file path, or "stdout"/"stderr".
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type PayFastConfig struct {
	MerchantID  string `yaml:"merchant_id"`
	MerchantKey string `yaml:"merchant_key"`
	Passphrase  string `yaml:"passphrase"`
	ProcessURL  string `yaml:"process_url"`
	ReturnURL   string `yaml:"return_url"`
	CancelURL   string `yaml:"cancel_url"`
	NotifyURL   string `yaml:"notify_url"`
}

type YocoConfig struct {
	SecretKey     string `yaml:"secret_key"`
	PublicKey     string `yaml:"public_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	FailureURL    string `yaml:"failure_url"`
}

type ReconcileConfig struct {
	// Interval of the background sweep; zero disables it.
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			Timeout:           15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Path:  "stdout",
			Level: "info",
		},
		PayFast: PayFastConfig{
			ProcessURL: "https://sandbox.payfast.co.za/eng/process",
		},
		Yoco: YocoConfig{
			BaseURL: "https://payments.yoco.com/api",
		},
		Reconcile: ReconcileConfig{
			Interval: 15 * time.Minute,
			PageSize: 50,
		},
		Kafka: KafkaConfig{
			Topic: "payments.order-paid",
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative")
	}
	if c.HTTP.ReadHeaderTimeout < 0 {
		return fmt.Errorf("http.read_header_timeout must not be negative")
	}
	if c.Reconcile.PageSize <= 0 {
		return fmt.Errorf("reconcile.page_size must be positive")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}

// Load reads path (if non-empty) over the defaults and then applies environment
// overrides from lookup.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("os.ReadFile: %w", err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
		}
	}
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":            &c.HTTP.Addr,
		"DATABASE_URL":         &c.Database.URL,
		"LOG_PATH":             &c.Log.Path,
		"LOG_LEVEL":            &c.Log.Level,
		"PAYFAST_MERCHANT_ID":  &c.PayFast.MerchantID,
		"PAYFAST_MERCHANT_KEY": &c.PayFast.MerchantKey,
		"PAYFAST_PASSPHRASE":   &c.PayFast.Passphrase,
		"PAYFAST_PROCESS_URL":  &c.PayFast.ProcessURL,
		"PAYFAST_RETURN_URL":   &c.PayFast.ReturnURL,
		"PAYFAST_CANCEL_URL":   &c.PayFast.CancelURL,
		"PAYFAST_NOTIFY_URL":   &c.PayFast.NotifyURL,
		"YOCO_SECRET_KEY":      &c.Yoco.SecretKey,
		"YOCO_PUBLIC_KEY":      &c.Yoco.PublicKey,
		"YOCO_WEBHOOK_SECRET":  &c.Yoco.WebhookSecret,
		"YOCO_BASE_URL":        &c.Yoco.BaseURL,
		"YOCO_SUCCESS_URL":     &c.Yoco.SuccessURL,
		"YOCO_CANCEL_URL":      &c.Yoco.CancelURL,
		"YOCO_FAILURE_URL":     &c.Yoco.FailureURL,
		"KAFKA_TOPIC":          &c.Kafka.Topic,
		"TELEGRAM_TOKEN":       &c.Telegram.Token,
		"ADMIN_TOKEN":          &c.Admin.Token,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v, ok := lookup("HTTP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HTTP_TIMEOUT: %w", err)
		}
		c.HTTP.Timeout = d
	}
	if v, ok := lookup("HTTP_READ_HEADER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HTTP_READ_HEADER_TIMEOUT: %w", err)
		}
		c.HTTP.ReadHeaderTimeout = d
	}
	if v, ok := lookup("RECONCILE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RECONCILE_INTERVAL: %w", err)
		}
		c.Reconcile.Interval = d
	}
	if v, ok := lookup("RECONCILE_PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECONCILE_PAGE_SIZE: %w", err)
		}
		c.Reconcile.PageSize = n
	}
	return nil
}
