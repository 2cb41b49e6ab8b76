package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds every tunable of the relaymeter server process.
// Precedence: flags > environment > config file > defaults.
type ServerConfig struct {
	ListenHTTP         string
	ListenHTTPS        string
	DBPath             string
	Domain             string
	TLSMode            string
	CertCacheDir       string
	TLSCertFile        string
	TLSKeyFile         string
	LogLevel           string
	PprofAddr          string
	NodeCommandTimeout time.Duration
	HeartbeatTimeout   time.Duration
	HeartbeatInterval  time.Duration
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
}

const defaultListenHTTP = ":8080"
const defaultDBPath = "./relaymeter.db"
const defaultCertCacheDir = "./cert"
const defaultNodeCommandTimeout = 10 * time.Second
const defaultHeartbeatTimeout = 3 * time.Minute
const defaultHeartbeatInterval = 30 * time.Second
const defaultRequestTimeout = 30 * time.Second
const defaultMaxBodyBytes = int64(4 * 1024 * 1024)

// TLS mode constants.
const (
	TLSModeOff    = "off"
	TLSModeAuto   = "auto"
	TLSModeStatic = "static"
)

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenHTTP:         defaultListenHTTP,
		ListenHTTPS:        ":8443",
		DBPath:             defaultDBPath,
		TLSMode:            TLSModeOff,
		CertCacheDir:       defaultCertCacheDir,
		LogLevel:           "info",
		NodeCommandTimeout: defaultNodeCommandTimeout,
		HeartbeatTimeout:   defaultHeartbeatTimeout,
		HeartbeatInterval:  defaultHeartbeatInterval,
		RequestTimeout:     defaultRequestTimeout,
		MaxBodyBytes:       defaultMaxBodyBytes,
	}
}

// fileConfig is the YAML file shape. Pointer fields distinguish "absent"
// from zero so unset keys keep their defaults; durations are Go duration
// strings ("30s", "3m").
type fileConfig struct {
	ListenHTTP         *string `yaml:"listen_http"`
	ListenHTTPS        *string `yaml:"listen_https"`
	DBPath             *string `yaml:"db_path"`
	Domain             *string `yaml:"domain"`
	TLSMode            *string `yaml:"tls_mode"`
	CertCacheDir       *string `yaml:"cert_cache_dir"`
	TLSCertFile        *string `yaml:"tls_cert_file"`
	TLSKeyFile         *string `yaml:"tls_key_file"`
	LogLevel           *string `yaml:"log_level"`
	PprofAddr          *string `yaml:"pprof_addr"`
	NodeCommandTimeout *string `yaml:"node_command_timeout"`
	HeartbeatTimeout   *string `yaml:"heartbeat_timeout"`
	HeartbeatInterval  *string `yaml:"heartbeat_interval"`
	RequestTimeout     *string `yaml:"request_timeout"`
	MaxBodyBytes       *int64  `yaml:"max_body_bytes"`
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (ServerConfig, error) {
	cfg := defaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, err
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.ListenHTTP, fc.ListenHTTP)
	setString(&cfg.ListenHTTPS, fc.ListenHTTPS)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.Domain, fc.Domain)
	setString(&cfg.TLSMode, fc.TLSMode)
	setString(&cfg.CertCacheDir, fc.CertCacheDir)
	setString(&cfg.TLSCertFile, fc.TLSCertFile)
	setString(&cfg.TLSKeyFile, fc.TLSKeyFile)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.PprofAddr, fc.PprofAddr)
	if fc.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *fc.MaxBodyBytes
	}

	setDuration := func(dst *time.Duration, src *string, key string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := setDuration(&cfg.NodeCommandTimeout, fc.NodeCommandTimeout, "node_command_timeout"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.HeartbeatTimeout, fc.HeartbeatTimeout, "heartbeat_timeout"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.HeartbeatInterval, fc.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.RequestTimeout, fc.RequestTimeout, "request_timeout"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseServerFlags builds the server configuration from an optional config
// file, the environment, and command line flags, then validates it.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := defaultServerConfig()

	// The config file path itself may come from a flag, so pre-scan for it
	// before the file's values become flag defaults.
	configPath := envOrDefault("RELAYMETER_CONFIG", "")
	for i, a := range args {
		if a == "-config" || a == "--config" {
			if i+1 < len(args) {
				configPath = args[i+1]
			}
		} else if v, ok := strings.CutPrefix(a, "-config="); ok {
			configPath = v
		} else if v, ok := strings.CutPrefix(a, "--config="); ok {
			configPath = v
		}
	}
	if configPath != "" {
		loaded, err := LoadFile(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	cfg.ListenHTTP = envOrDefault("RELAYMETER_LISTEN_HTTP", cfg.ListenHTTP)
	cfg.ListenHTTPS = envOrDefault("RELAYMETER_LISTEN_HTTPS", cfg.ListenHTTPS)
	cfg.DBPath = envOrDefault("RELAYMETER_DB_PATH", cfg.DBPath)
	cfg.Domain = envOrDefault("RELAYMETER_DOMAIN", cfg.Domain)
	cfg.TLSMode = envOrDefault("RELAYMETER_TLS_MODE", cfg.TLSMode)
	cfg.CertCacheDir = envOrDefault("RELAYMETER_CERT_CACHE_DIR", cfg.CertCacheDir)
	cfg.TLSCertFile = envOrDefault("RELAYMETER_TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = envOrDefault("RELAYMETER_TLS_KEY_FILE", cfg.TLSKeyFile)
	cfg.LogLevel = envOrDefault("RELAYMETER_LOG_LEVEL", cfg.LogLevel)
	cfg.PprofAddr = envOrDefault("RELAYMETER_PPROF_ADDR", cfg.PprofAddr)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var configFlag string
	fs.StringVar(&configFlag, "config", configPath, "YAML config file path")
	fs.StringVar(&cfg.ListenHTTP, "listen", cfg.ListenHTTP, "HTTP listen address")
	fs.StringVar(&cfg.ListenHTTPS, "listen-tls", cfg.ListenHTTPS, "HTTPS listen address (tls-mode auto or static)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "Public domain for automatic certificates")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|auto|static")
	fs.StringVar(&cfg.CertCacheDir, "cert-cache-dir", cfg.CertCacheDir, "TLS cert cache dir")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "Static TLS cert PEM file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "Static TLS key PEM file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.PprofAddr, "pprof-addr", cfg.PprofAddr, "Optional pprof listen address (empty disables)")
	fs.DurationVar(&cfg.NodeCommandTimeout, "node-command-timeout", cfg.NodeCommandTimeout, "Timeout for node pause/resume commands")
	fs.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "Close agent channels silent for this long")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "How often to sweep for stale agent channels")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeOff
	}
	switch cfg.TLSMode {
	case TLSModeOff, TLSModeAuto, TLSModeStatic:
	default:
		return cfg, errors.New("tls mode must be one of: off, auto, static")
	}
	if cfg.TLSMode == TLSModeAuto && strings.TrimSpace(cfg.Domain) == "" {
		return cfg, errors.New("tls-mode auto requires --domain")
	}
	if cfg.TLSMode == TLSModeStatic && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return cfg, errors.New("tls-mode static requires --tls-cert-file and --tls-key-file")
	}
	if cfg.NodeCommandTimeout <= 0 {
		return cfg, errors.New("node command timeout must be > 0")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return cfg, errors.New("heartbeat timeout must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return cfg, errors.New("heartbeat interval must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
